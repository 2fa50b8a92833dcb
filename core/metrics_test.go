package core

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryMetricsRecorder_KeysSeriesByTags(t *testing.T) {
	ctx := context.Background()
	metrics := NewMemoryMetricsRecorder()

	metrics.IncCounter(ctx, "webhooks.total", 1, map[string]string{"status": "ok", "provider_id": "gateway"})
	metrics.IncCounter(ctx, "webhooks.total", 2, map[string]string{"provider_id": "gateway", "status": "ok"})
	metrics.IncCounter(ctx, "webhooks.total", 1, map[string]string{"provider_id": "identity", "status": "ok"})
	metrics.IncCounter(ctx, "other.total", 5, nil)

	counters := metrics.Counters()
	if got := counters["webhooks.total{provider_id=gateway,status=ok}"]; got != 3 {
		t.Fatalf("expected tag order to collapse into one series, got %#v", counters)
	}
	if got := metrics.Counter("webhooks.total"); got != 4 {
		t.Fatalf("expected 4 across series, got %d", got)
	}
	if got := metrics.Counter("other.total"); got != 5 {
		t.Fatalf("expected untagged series, got %d", got)
	}

	metrics.ObserveHistogram(ctx, "latency_ms", 10, nil)
	metrics.ObserveHistogram(ctx, "latency_ms", 30, nil)
	if got := metrics.Histograms()["latency_ms"]; got.Count != 2 || got.Sum != 40 {
		t.Fatalf("unexpected histogram summary %#v", got)
	}
}

func TestObserver_FeedsMemoryRecorder(t *testing.T) {
	metrics := NewMemoryMetricsRecorder()
	observer := NewObserver(nil, metrics)

	observer.Observe(context.Background(), time.Now(), "billing.apply_event", nil, map[string]any{"provider_id": ProviderGateway})
	observer.Observe(context.Background(), time.Now(), "billing.apply_event", stderrors.New("boom"), map[string]any{"provider_id": ProviderGateway})

	if got := metrics.Counter("reconciler.billing.apply_event.total"); got != 2 {
		t.Fatalf("expected 2 observations, got %d", got)
	}
	failures := 0
	for key, value := range metrics.Counters() {
		if seriesName(key) == "reconciler.billing.apply_event.total" && strings.Contains(key, "status=failure") {
			failures += int(value)
		}
	}
	if failures != 1 {
		t.Fatalf("expected one failure series, got %#v", metrics.Counters())
	}
}
