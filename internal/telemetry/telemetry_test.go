package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitDisabledInstallsNoopProviders(t *testing.T) {
	if err := Init(context.Background(), Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// The domain counters must be safe against the no-op globals.
	RecordMerge(context.Background(), "proj-1")
	RecordPromotion(context.Background(), "proj-1")
	RecordGateRefusal(context.Background(), "proj-1")
	Shutdown(context.Background())
}

func TestInitStdoutProviders(t *testing.T) {
	err := Init(context.Background(), Config{
		Enabled:        true,
		Stdout:         true,
		MetricInterval: time.Second,
		ServiceName:    "tesela-test",
		Version:        "0.0.0-test",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	RecordSyncBatch(context.Background(), "proj-1", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	Shutdown(ctx)
}
