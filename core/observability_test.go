package core

import (
	"context"
	stderrors "errors"
	"testing"
	"time"
)

func TestObserver_EmitsMetricsAndStructuredLogs(t *testing.T) {
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	observer := NewObserver(logger, metrics)

	observer.Observe(context.Background(), time.Now(), "Identity Created", nil, map[string]any{
		"provider_id": ProviderIdentity,
		"user_id":     "user_1",
	})
	observer.Observe(context.Background(), time.Now(), "identity created", stderrors.New("boom"), map[string]any{
		"provider_id": ProviderIdentity,
	})

	if len(metrics.counters) != 2 || len(metrics.histograms) != 2 {
		t.Fatalf("expected 2 counters and 2 histograms, got %d/%d", len(metrics.counters), len(metrics.histograms))
	}
	if metrics.counters[0].name != "reconciler.identity_created.total" {
		t.Fatalf("unexpected counter name %q", metrics.counters[0].name)
	}
	if metrics.counters[1].tags["status"] != "failure" {
		t.Fatalf("expected failure tag, got %#v", metrics.counters[1].tags)
	}

	records := logger.snapshot()
	if len(records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(records))
	}
	if records[0].level != "info" || records[0].fields["user_id"] != "user_1" {
		t.Fatalf("unexpected success record %#v", records[0])
	}
	if records[1].level != "error" || records[1].fields["error"] != "boom" {
		t.Fatalf("unexpected failure record %#v", records[1])
	}
}

func TestLogWithLevel_FlattensFieldsForPlainLoggers(t *testing.T) {
	LogWithLevel(context.Background(), stubLogger{}, "warn", "ignored", map[string]any{"a": 1})
	args := flattenFields(map[string]any{"b": 2, "a": 1})
	if len(args) != 4 || args[0] != "a" || args[2] != "b" {
		t.Fatalf("expected sorted key/value args, got %#v", args)
	}
}
