package core

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// HistogramSummary is the running count and sum of one histogram series.
type HistogramSummary struct {
	Count int64
	Sum   float64
}

// MemoryMetricsRecorder keeps counters and histogram summaries in process,
// keyed by metric name plus sorted tags, e.g.
// "reconciler.identity_handle_event.total{provider_id=identity,status=success}".
type MemoryMetricsRecorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]HistogramSummary
}

func NewMemoryMetricsRecorder() *MemoryMetricsRecorder {
	return &MemoryMetricsRecorder{
		counters:   map[string]int64{},
		histograms: map[string]HistogramSummary{},
	}
}

func (m *MemoryMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	m.counters[key] += value
	m.mu.Unlock()
}

func (m *MemoryMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	summary := m.histograms[key]
	summary.Count++
	summary.Sum += value
	m.histograms[key] = summary
	m.mu.Unlock()
}

// Counter sums every series of name across tag sets.
func (m *MemoryMetricsRecorder) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for key, value := range m.counters {
		if seriesName(key) == name {
			total += value
		}
	}
	return total
}

func (m *MemoryMetricsRecorder) Counters() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for key, value := range m.counters {
		out[key] = value
	}
	return out
}

func (m *MemoryMetricsRecorder) Histograms() map[string]HistogramSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HistogramSummary, len(m.histograms))
	for key, value := range m.histograms {
		out[key] = value
	}
	return out
}

func seriesKey(name string, tags map[string]string) string {
	name = strings.TrimSpace(name)
	if len(tags) == 0 {
		return name
	}
	pairs := make([]string, 0, len(tags))
	for key, value := range tags {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func seriesName(key string) string {
	name, _, _ := strings.Cut(key, "{")
	return name
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		out[key] = value
	}
	return out
}
