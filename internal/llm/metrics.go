package llm

import (
	"sync"
	"time"
)

const maxLatencySamples = 100

// MetricsCollector collects metrics for LLM operations, keyed "provider:model"
type MetricsCollector struct {
	requests  map[string]int64
	tokens    map[string]int64
	costs     map[string]float64
	latencies map[string][]time.Duration
	errors    map[string]map[string]int64
	mu        sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of collected metrics
type MetricsSnapshot struct {
	Requests     map[string]int64            `json:"requests"`
	Tokens       map[string]int64            `json:"tokens"`
	Costs        map[string]float64          `json:"costs"`
	AvgLatencyMS map[string]float64          `json:"avg_latency_ms"`
	Errors       map[string]map[string]int64 `json:"errors"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		requests:  make(map[string]int64),
		tokens:    make(map[string]int64),
		costs:     make(map[string]float64),
		latencies: make(map[string][]time.Duration),
		errors:    make(map[string]map[string]int64),
	}
}

func metricsKey(provider, model string) string {
	return provider + ":" + model
}

// RecordRequest records one provider attempt. errKind is empty on success.
func (mc *MetricsCollector) RecordRequest(provider, model, errKind string, latency time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricsKey(provider, model)
	mc.requests[key]++

	if errKind != "" {
		if mc.errors[key] == nil {
			mc.errors[key] = make(map[string]int64)
		}
		mc.errors[key][errKind]++
	}

	mc.latencies[key] = append(mc.latencies[key], latency)

	// Keep only the most recent latencies
	if len(mc.latencies[key]) > maxLatencySamples {
		mc.latencies[key] = mc.latencies[key][1:]
	}
}

// RecordUsage records token usage and estimated cost
func (mc *MetricsCollector) RecordUsage(provider, model string, usage Usage, cost float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricsKey(provider, model)
	mc.tokens[key] += int64(usage.TotalTokens())
	if cost > 0 {
		mc.costs[key] += cost
	}
}

// GetSnapshot returns a snapshot of current metrics
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Requests:     make(map[string]int64, len(mc.requests)),
		Tokens:       make(map[string]int64, len(mc.tokens)),
		Costs:        make(map[string]float64, len(mc.costs)),
		AvgLatencyMS: make(map[string]float64, len(mc.latencies)),
		Errors:       make(map[string]map[string]int64, len(mc.errors)),
	}
	for k, v := range mc.requests {
		snapshot.Requests[k] = v
	}
	for k, v := range mc.tokens {
		snapshot.Tokens[k] = v
	}
	for k, v := range mc.costs {
		snapshot.Costs[k] = v
	}
	for k, latencies := range mc.latencies {
		if len(latencies) == 0 {
			continue
		}
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		snapshot.AvgLatencyMS[k] = float64(total.Milliseconds()) / float64(len(latencies))
	}
	for k, kinds := range mc.errors {
		cp := make(map[string]int64, len(kinds))
		for kind, n := range kinds {
			cp[kind] = n
		}
		snapshot.Errors[k] = cp
	}
	return snapshot
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requests = make(map[string]int64)
	mc.tokens = make(map[string]int64)
	mc.costs = make(map[string]float64)
	mc.latencies = make(map[string][]time.Duration)
	mc.errors = make(map[string]map[string]int64)
}
