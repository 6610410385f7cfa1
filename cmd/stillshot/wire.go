package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stillshot/stillshot/internal/agent"
	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/internal/camera/usb"
	"github.com/stillshot/stillshot/internal/circuit"
	"github.com/stillshot/stillshot/internal/config"
	"github.com/stillshot/stillshot/internal/metrics"
	"github.com/stillshot/stillshot/internal/queue"
	"github.com/stillshot/stillshot/internal/storage/s3"
	"github.com/stillshot/stillshot/pkg/errors"
	"github.com/stillshot/stillshot/pkg/health"
	"github.com/stillshot/stillshot/pkg/retry"
	"github.com/stillshot/stillshot/pkg/utils"
)

func newLogger(cfg *config.Configuration, opts *globalOptions, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	logger, closer, err := utils.NewLogger(utils.LogOptions{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
		Output: stderr,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid logging configuration")
	}
	return logger.With("run_id", opts.runID), closer, nil
}

func newSource(cfg *config.Configuration, logger *slog.Logger) camera.Source {
	opts := camera.Options{
		CameraID:       cfg.Camera.ID,
		Device:         cfg.Camera.Device,
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		Quality:        cfg.Camera.Quality,
		Warmup:         cfg.Camera.Warmup,
		CaptureTimeout: cfg.Camera.CaptureTimeout,
		Logger:         logger,
	}

	if cfg.NormalizedDriver() == config.DriverUSB {
		return usb.NewSource(opts)
	}
	return camera.NewModuleSource(opts)
}

func sinkConfig(cfg *config.Configuration) *s3.Config {
	sc := &s3.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKey,
		SecretAccessKey: cfg.Storage.SecretKey,
		ForcePathStyle:  cfg.Storage.ForcePathStyle,
		MaxRetries:      cfg.Storage.MaxRetries,
		ConnectTimeout:  cfg.Storage.ConnectTimeout,
		RequestTimeout:  cfg.Storage.RequestTimeout,
		SourceTag:       cfg.Storage.SourceTag,
		Retry: retry.Config{
			MaxAttempts:     cfg.Network.Retry.MaxAttempts,
			InitialDelay:    cfg.Network.Retry.BaseDelay,
			MaxDelay:        cfg.Network.Retry.MaxDelay,
			Multiplier:      2.0,
			Jitter:          true,
			RetryableErrors: []errors.ErrorCode{errors.ErrCodeStorageUnreachable},
		},
	}
	if cb := cfg.Network.CircuitBreaker; cb.Enabled {
		threshold := uint32(5)
		if cb.FailureThreshold > 0 {
			threshold = uint32(cb.FailureThreshold)
		}
		sc.CircuitBreaker = &circuit.Config{
			FailureThreshold: threshold,
			Timeout:          cb.Timeout,
		}
	}
	return sc
}

// uploadTimeout bounds one upload including its in-tick retries.
func uploadTimeout(cfg *config.Configuration) time.Duration {
	attempts := cfg.Network.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	perAttempt := cfg.Storage.RequestTimeout + cfg.Network.Retry.MaxDelay
	return cfg.Storage.ConnectTimeout + time.Duration(attempts)*perAttempt
}

// app is everything the agent commands share.
type app struct {
	cfg       *config.Configuration
	logger    *slog.Logger
	closer    io.Closer
	queue     *queue.Queue
	sink      *s3.Sink
	tracker   *health.Tracker
	collector *metrics.Collector
}

// setup loads and validates the configuration and builds every component
// except the camera. Nothing touches a device before validation passes.
func setup(ctx context.Context, opts *globalOptions, stderr io.Writer) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closer, err := newLogger(cfg, opts, stderr)
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, logger: logger, closer: closer}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		rt.close(ctx)
		return nil, err
	}

	rt.queue, err = queue.Open(cfg.Capture.QueueDir, logger)
	if err != nil {
		logger.Error("fallback directory is not usable", "path", cfg.Capture.QueueDir, "error", err)
		rt.close(ctx)
		return nil, err
	}

	rt.tracker = health.NewTracker(health.DefaultConfig())
	rt.tracker.OnStateChange(func(component string, from, to health.HealthState, err error) {
		logger.Info("component health changed", "health_component", component, "from", from.String(), "to", to.String())
	})

	rt.collector, err = metrics.NewCollector(&metrics.Config{
		Port:   cfg.Global.MetricsPort,
		Labels: map[string]string{"camera_id": cfg.Camera.ID},
	}, rt.tracker, logger)
	if err != nil {
		rt.close(ctx)
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create metrics collector")
	}
	if err := rt.collector.Start(ctx); err != nil {
		logger.Warn("metrics endpoint disabled", "port", cfg.Global.MetricsPort, "error", err)
	}

	rt.sink, err = s3.NewSink(ctx, sinkConfig(cfg), logger)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	return rt, nil
}

func (rt *app) newAgent(source camera.Source) (*agent.Agent, error) {
	return agent.New(agent.Options{
		CameraID:      rt.cfg.Camera.ID,
		Interval:      rt.cfg.Interval(),
		Source:        source,
		Sink:          rt.sink,
		Queue:         rt.queue,
		UploadTimeout: uploadTimeout(rt.cfg),
		Health:        rt.tracker,
		Metrics:       rt.collector,
		Logger:        rt.logger,
	})
}

func (rt *app) close(ctx context.Context) {
	if rt.collector != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := rt.collector.Stop(stopCtx); err != nil {
			rt.logger.Warn("failed to stop metrics server", "error", err)
		}
		cancel()
	}
	if rt.closer != nil {
		_ = rt.closer.Close()
	}
}
