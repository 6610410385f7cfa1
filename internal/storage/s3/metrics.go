package s3

import (
	"sync"
	"time"
)

// SinkStats tracks S3 sink activity for the lifetime of the process
type SinkStats struct {
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	Rejections     int64         `json:"rejections"`
	ShortCircuits  int64         `json:"short_circuits"`
	BytesUploaded  int64         `json:"bytes_uploaded"`
	AverageLatency time.Duration `json:"average_latency"`
	LastError      string        `json:"last_error"`
	LastErrorTime  time.Time     `json:"last_error_time"`
	LastSuccess    time.Time     `json:"last_success"`
}

// MetricsCollector aggregates SinkStats
type MetricsCollector struct {
	mu    sync.RWMutex
	stats SinkStats
	now   func() time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{now: time.Now}
}

// RecordMetrics records operation metrics with duration and error status
func (mc *MetricsCollector) RecordMetrics(duration time.Duration, isError bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stats.Requests++
	if isError {
		mc.stats.Errors++
	}

	// Exponentially weighted average, 10% weight for the newest sample
	if mc.stats.Requests == 1 {
		mc.stats.AverageLatency = duration
	} else {
		mc.stats.AverageLatency = time.Duration(
			(int64(mc.stats.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

// RecordSuccess records an acknowledged upload of size bytes
func (mc *MetricsCollector) RecordSuccess(size int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stats.BytesUploaded += size
	mc.stats.LastSuccess = mc.now()
}

// RecordError records an error occurrence
func (mc *MetricsCollector) RecordError(err error, rejected, shortCircuited bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stats.LastError = err.Error()
	mc.stats.LastErrorTime = mc.now()
	if rejected {
		mc.stats.Rejections++
	}
	if shortCircuited {
		mc.stats.ShortCircuits++
	}
}

// Stats returns a copy of the current stats
func (mc *MetricsCollector) Stats() SinkStats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.stats
}
