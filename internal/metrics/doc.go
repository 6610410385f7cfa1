/*
Package metrics exposes the agent's Prometheus metrics and health endpoint.

The Collector owns a private prometheus.Registry, so several collectors can
coexist in one test binary. Metrics are always recorded; the HTTP server is
only started when Config.Port is non-zero.

	collector, err := metrics.NewCollector(&metrics.Config{Port: 9102}, tracker, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

Endpoints

	/metrics   Prometheus exposition (OpenMetrics when negotiated)
	/healthz   JSON summary from the health.Tracker; 503 when any component is unavailable

Exported series (namespace "stillshot"):

	captures_total{status}
	uploads_total{origin,status}      origin is "fresh" or "drain"
	upload_duration_seconds
	upload_bytes
	queue_depth
	ticks_total
	last_success_timestamp_seconds
*/
package metrics
