package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Domain counters. Lazily created against the global meter provider, so
// they are no-ops until Init installs a real provider.
var (
	metricsOnce  sync.Once
	merges       metric.Int64Counter
	promotions   metric.Int64Counter
	syncBatches  metric.Int64Counter
	syncFailures metric.Int64Counter
	gateRefusals metric.Int64Counter
)

func initMetrics() {
	m := Meter("")
	merges, _ = m.Int64Counter("tesela.merges",
		metric.WithDescription("Candidate and catalog merges applied"))
	promotions, _ = m.Int64Counter("tesela.promotions",
		metric.WithDescription("Candidates promoted to the catalog"))
	syncBatches, _ = m.Int64Counter("tesela.sync.batches",
		metric.WithDescription("Projection batches completed"))
	syncFailures, _ = m.Int64Counter("tesela.sync.failures",
		metric.WithDescription("Projection rows that failed permanently"))
	gateRefusals, _ = m.Int64Counter("tesela.gate.refusals",
		metric.WithDescription("Axial writes refused by the readiness gate"))
}

func projectAttr(projectID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("project_id", projectID))
}

// RecordMerge counts one applied merge.
func RecordMerge(ctx context.Context, projectID string) {
	metricsOnce.Do(initMetrics)
	merges.Add(ctx, 1, projectAttr(projectID))
}

// RecordPromotion counts one candidate promotion.
func RecordPromotion(ctx context.Context, projectID string) {
	metricsOnce.Do(initMetrics)
	promotions.Add(ctx, 1, projectAttr(projectID))
}

// RecordSyncBatch counts one finished projection run with its failures.
func RecordSyncBatch(ctx context.Context, projectID string, failed int) {
	metricsOnce.Do(initMetrics)
	syncBatches.Add(ctx, 1, projectAttr(projectID))
	if failed > 0 {
		syncFailures.Add(ctx, int64(failed), projectAttr(projectID))
	}
}

// RecordGateRefusal counts one readiness-gate refusal.
func RecordGateRefusal(ctx context.Context, projectID string) {
	metricsOnce.Do(initMetrics)
	gateRefusals.Add(ctx, 1, projectAttr(projectID))
}
