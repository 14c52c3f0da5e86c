// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector holds in-process counters, gauges and histograms
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// slot returns the cell for name in table, creating it under the write lock
func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := table[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = table[name]; !ok {
		v = new(int64)
		table[name] = v
	}
	return v
}

func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}
	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}
	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// RedemptionMetrics records the verify/redeem path and the HTTP surface
type RedemptionMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewRedemptionMetrics binds to the given collector and logger; nil means global
func NewRedemptionMetrics(m *MetricsCollector, logger *Logger) *RedemptionMetrics {
	if m == nil {
		m = GetMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &RedemptionMetrics{metrics: m, logger: logger}
}

// Collector exposes the backing collector, e.g. for GET /api/metrics
func (rm *RedemptionMetrics) Collector() *MetricsCollector {
	return rm.metrics
}

// RecordVerify counts a verification by outcome code ("ok" on success)
func (rm *RedemptionMetrics) RecordVerify(outcome string, duration time.Duration) {
	rm.metrics.IncrementCounter("verify_total")
	rm.metrics.IncrementCounter("verify_outcome_" + outcome)
	rm.metrics.RecordHistogram("verify_duration_ms", duration.Milliseconds())
}

// RecordRedeem counts a redemption attempt and the items it changed
func (rm *RedemptionMetrics) RecordRedeem(outcome string, redeemed, requested int, duration time.Duration) {
	rm.metrics.IncrementCounter("redeem_total")
	rm.metrics.IncrementCounter("redeem_outcome_" + outcome)
	rm.metrics.AddCounter("items_redeemed_total", int64(redeemed))
	rm.metrics.AddCounter("items_requested_total", int64(requested))
	rm.metrics.RecordHistogram("redeem_duration_ms", duration.Milliseconds())
}

// RecordAPIRequest records metrics for an API request
func (rm *RedemptionMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	rm.metrics.IncrementCounter("api_requests_total")
	rm.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	rm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	rm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())

	rm.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// TerminalSessionOpened and TerminalSessionClosed track live /ws/terminal sessions
func (rm *RedemptionMetrics) TerminalSessionOpened() { rm.metrics.IncGauge("terminal_sessions") }
func (rm *RedemptionMetrics) TerminalSessionClosed() { rm.metrics.DecGauge("terminal_sessions") }

// StartMetricsCollection logs a summary every interval until ctx ends
func (rm *RedemptionMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": rm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
