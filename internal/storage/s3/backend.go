package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/internal/circuit"
	"github.com/stillshot/stillshot/internal/storage"
	"github.com/stillshot/stillshot/pkg/errors"
	"github.com/stillshot/stillshot/pkg/retry"
)

// Sink uploads captures to an S3-compatible bucket
type Sink struct {
	client  *s3.Client
	config  *Config
	logger  *slog.Logger
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	metrics *MetricsCollector
}

var _ storage.Sink = (*Sink)(nil)

// NewSink creates a sink. It does not contact the endpoint; call Connect
// for that.
func NewSink(ctx context.Context, cfg *Config, logger *slog.Logger) (*Sink, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid storage configuration").
			WithComponent("storage").WithOperation("NewSink")
	}
	cfg = cfg.withDefaults()

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage", "bucket", cfg.Bucket)

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to create S3 client").
			WithComponent("storage").WithOperation("NewSink")
	}

	sink := &Sink{
		client:  client,
		config:  cfg,
		logger:  logger,
		metrics: NewMetricsCollector(),
	}

	sink.retryer = retry.New(cfg.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Debug("retrying upload", "attempt", attempt, "delay", delay, "error", err)
	})

	if cfg.CircuitBreaker != nil {
		cbCfg := *cfg.CircuitBreaker
		// Rejections mean the service answered; only unreachable errors count.
		cbCfg.IsSuccessful = func(err error) bool {
			return err == nil || !errors.IsCode(err, errors.ErrCodeStorageUnreachable)
		}
		cbCfg.OnStateChange = func(name string, from, to circuit.State) {
			logger.Warn("storage circuit breaker state changed", "from", from.String(), "to", to.String())
		}
		sink.breaker = circuit.NewCircuitBreaker("storage", cbCfg)
	}

	logger.Info("S3 sink configured",
		"endpoint", cfg.Endpoint,
		"region", cfg.Region,
		"path_style", cfg.ForcePathStyle,
		"request_timeout", cfg.RequestTimeout,
		"circuit_breaker", sink.breaker != nil)

	return sink, nil
}

// Connect verifies the endpoint, credentials and bucket with HeadBucket.
func (s *Sink) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout+s.config.RequestTimeout)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		return classify(err, "Connect", "")
	}

	s.logger.Info("connected to storage", "endpoint", s.config.Endpoint)
	return nil
}

// Upload stores rec under its deterministic key.
func (s *Sink) Upload(ctx context.Context, rec camera.Record) error {
	desc := storage.NewDescriptor(rec, s.config.SourceTag)

	data, err := os.ReadFile(rec.LocalPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFilesystem, "failed to read capture").
			WithComponent("storage").WithOperation("Upload").
			WithContext("timestamp", rec.Timestamp).WithContext("path", rec.LocalPath)
	}

	start := time.Now()
	err = s.execute(ctx, func(ctx context.Context) error {
		return s.put(ctx, desc, data)
	})
	s.metrics.RecordMetrics(time.Since(start), err != nil)

	if err != nil {
		agentErr := classify(err, "Upload", desc.Key).WithContext("timestamp", rec.Timestamp)
		s.metrics.RecordError(agentErr,
			agentErr.Code == errors.ErrCodeStorageRejected,
			stderrors.Is(err, circuit.ErrOpenState) || stderrors.Is(err, circuit.ErrTooManyRequests))
		return agentErr
	}

	s.metrics.RecordSuccess(int64(len(data)))
	s.logger.Debug("uploaded", "key", desc.Key, "bytes", len(data), "duration", time.Since(start))
	return nil
}

func (s *Sink) execute(ctx context.Context, fn func(context.Context) error) error {
	attempt := func(ctx context.Context) error {
		return s.retryer.DoWithContext(ctx, fn)
	}
	if s.breaker == nil {
		return attempt(ctx)
	}
	return s.breaker.ExecuteWithContext(ctx, attempt)
}

func (s *Sink) put(ctx context.Context, desc storage.Descriptor, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(desc.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(desc.ContentType),
		Metadata:      desc.Metadata,
	})
	if err != nil {
		return classify(err, "PutObject", desc.Key)
	}
	return nil
}

// Stats returns a snapshot of upload statistics.
func (s *Sink) Stats() SinkStats {
	return s.metrics.Stats()
}

// BreakerState reports the circuit breaker state, or StateClosed when the
// breaker is disabled.
func (s *Sink) BreakerState() circuit.State {
	if s.breaker == nil {
		return circuit.StateClosed
	}
	return s.breaker.GetState()
}
