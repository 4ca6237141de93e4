package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.HTTPAddr != ":8787" {
		t.Errorf("HTTPAddr = %q", s.HTTPAddr)
	}
	if s.SimilarityThreshold != 0.5 {
		t.Errorf("SimilarityThreshold = %v", s.SimilarityThreshold)
	}
	if s.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL = %v", s.IdempotencyTTL)
	}
}

func TestDryRunDefaultIsNotATunable(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Set("dry_run_default", false)
	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.DryRunDefault {
		t.Errorf("dry_run_default was overridden off")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Set("log.level", "loud")
	if _, err := Load(); err == nil {
		t.Errorf("Load accepted log.level=loud")
	}

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Set("similarity.threshold", 1.5)
	if _, err := Load(); err == nil {
		t.Errorf("Load accepted similarity.threshold=1.5")
	}
}

func TestLoadTelemetrySettings(t *testing.T) {
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.TelemetryEnabled {
		t.Errorf("telemetry enabled by default")
	}
	if s.TelemetryMetricInterval != 30*time.Second {
		t.Errorf("TelemetryMetricInterval = %v", s.TelemetryMetricInterval)
	}

	Set("telemetry.enabled", true)
	Set("telemetry.endpoint", "collector:4317")
	Set("telemetry.stdout", true)
	s, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.TelemetryEnabled || s.TelemetryEndpoint != "collector:4317" || !s.TelemetryStdout {
		t.Errorf("telemetry settings = %+v", s)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("TESELA_HTTP_ADDR", ":9999")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want env override", s.HTTPAddr)
	}
}
