package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stillshot/stillshot/pkg/health"
)

// Upload origins used as the "origin" label.
const (
	OriginFresh = "fresh"
	OriginDrain = "drain"
)

// Collector owns the agent's Prometheus metrics and the optional HTTP endpoint serving them
type Collector struct {
	mu       sync.Mutex
	config   *Config
	registry *prometheus.Registry
	health   *health.Tracker
	logger   *slog.Logger

	captureCounter  *prometheus.CounterVec
	uploadCounter   *prometheus.CounterVec
	uploadDuration  prometheus.Histogram
	uploadSize      prometheus.Histogram
	queueDepth      prometheus.Gauge
	tickCounter     prometheus.Counter
	lastSuccessTime prometheus.Gauge

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	// Port for the /metrics and /healthz endpoint; 0 disables the server
	Port      int               `yaml:"port"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// NewCollector creates a collector with its own registry. Metrics are recorded
// even when the HTTP endpoint is disabled.
func NewCollector(config *Config, tracker *health.Tracker, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "stillshot"
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
		health:   tracker,
		logger:   logger.With("component", "metrics"),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	c.captureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Name:        "captures_total",
			Help:        "Total number of capture attempts",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)

	c.uploadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Name:        "uploads_total",
			Help:        "Total number of upload attempts",
			ConstLabels: constLabels,
		},
		[]string{"origin", "status"},
	)

	c.uploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Name:        "upload_duration_seconds",
			Help:        "Duration of upload attempts in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 13), // 10ms to ~40s
			ConstLabels: constLabels,
		},
	)

	c.uploadSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Name:        "upload_bytes",
			Help:        "Size of uploaded images in bytes",
			Buckets:     prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
			ConstLabels: constLabels,
		},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Name:        "queue_depth",
			Help:        "Number of captures waiting in the fallback directory",
			ConstLabels: constLabels,
		},
	)

	c.tickCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Name:        "ticks_total",
			Help:        "Total number of scheduler ticks",
			ConstLabels: constLabels,
		},
	)

	c.lastSuccessTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last confirmed upload",
			ConstLabels: constLabels,
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.captureCounter,
		c.uploadCounter,
		c.uploadDuration,
		c.uploadSize,
		c.queueDepth,
		c.tickCounter,
		c.lastSuccessTime,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// Registry exposes the underlying registry for tests and custom exporters.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCapture records the outcome of one capture attempt.
func (c *Collector) RecordCapture(success bool) {
	c.captureCounter.WithLabelValues(statusLabel(success)).Inc()
}

// RecordUpload records the outcome of one upload attempt.
func (c *Collector) RecordUpload(origin string, duration time.Duration, size int64, success bool) {
	c.uploadCounter.WithLabelValues(origin, statusLabel(success)).Inc()
	c.uploadDuration.Observe(duration.Seconds())
	if !success {
		return
	}
	if size > 0 {
		c.uploadSize.Observe(float64(size))
	}
	c.lastSuccessTime.SetToCurrentTime()
}

// SetQueueDepth updates the pending-upload gauge.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// RecordTick counts one scheduler tick.
func (c *Collector) RecordTick() {
	c.tickCounter.Inc()
}

// Handler returns the HTTP handler serving the metrics and health endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", c.healthHandler)
	return mux
}

// Start binds the listener and serves in the background. It is a no-op when Port is 0.
func (c *Collector) Start(ctx context.Context) error {
	if c.config.Port <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil {
		return nil
	}

	addr := net.JoinHostPort(c.config.Address, fmt.Sprintf("%d", c.config.Port))
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	server := c.server
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server stopped", "error", err)
		}
	}()

	c.logger.Info("metrics server listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or "" when the server is not running.
func (c *Collector) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop shuts the HTTP server down
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

type healthResponse struct {
	Status     string                   `json:"status"`
	Components []health.ComponentHealth `json:"components,omitempty"`
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: health.StateHealthy.String()}
	code := http.StatusOK

	if c.health != nil {
		overall := c.health.GetOverallHealth()
		resp.Status = overall.String()
		resp.Components = c.health.GetAllComponents()
		if overall == health.StateUnavailable {
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
