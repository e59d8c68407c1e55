package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates counters for memory operations.
type Metrics struct {
	mu sync.Mutex

	// Counters
	requestTotal  atomic.Int64
	requestFailed atomic.Int64

	// Per-operation metrics
	opMetrics map[string]*OperationMetrics

	// Duration window (simplified for internal use)
	durations    []time.Duration
	maxDurations int
}

// OperationMetrics represents counters for a specific memory operation.
type OperationMetrics struct {
	executionCount atomic.Int64
	totalDuration  atomic.Int64 // milliseconds
	errorCount     atomic.Int64
}

// ExecutionCount returns the number of executions recorded.
func (m *OperationMetrics) ExecutionCount() int64 { return m.executionCount.Load() }

// ErrorCount returns the number of failures recorded.
func (m *OperationMetrics) ErrorCount() int64 { return m.errorCount.Load() }

// AverageDuration returns the mean duration in milliseconds.
func (m *OperationMetrics) AverageDuration() int64 {
	count := m.executionCount.Load()
	if count == 0 {
		return 0
	}
	return m.totalDuration.Load() / count
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		opMetrics:    make(map[string]*OperationMetrics),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// RecordRequest records a request for the given operation.
func (m *Metrics) RecordRequest(operation string) {
	m.requestTotal.Add(1)
	m.getOperationMetrics(operation).executionCount.Add(1)
}

// RecordFailure records a failed request for the given operation.
func (m *Metrics) RecordFailure(operation string) {
	m.requestFailed.Add(1)
	m.getOperationMetrics(operation).errorCount.Add(1)
}

// RecordDuration records a request duration for the given operation.
func (m *Metrics) RecordDuration(operation string, duration time.Duration) {
	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		// Drop oldest duration (FIFO)
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
	m.mu.Unlock()

	m.getOperationMetrics(operation).totalDuration.Add(duration.Milliseconds())
}

// RequestTotal returns the total number of requests recorded.
func (m *Metrics) RequestTotal() int64 { return m.requestTotal.Load() }

// RequestFailed returns the total number of failed requests recorded.
func (m *Metrics) RequestFailed() int64 { return m.requestFailed.Load() }

// Operation returns the metrics for a specific operation.
func (m *Metrics) Operation(operation string) *OperationMetrics {
	return m.getOperationMetrics(operation)
}

func (m *Metrics) getOperationMetrics(operation string) *OperationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	om, ok := m.opMetrics[operation]
	if !ok {
		om = &OperationMetrics{}
		m.opMetrics[operation] = om
	}
	return om
}
