package s3

import (
	"fmt"
	"time"

	"github.com/stillshot/stillshot/internal/circuit"
	"github.com/stillshot/stillshot/internal/storage"
	"github.com/stillshot/stillshot/pkg/retry"
)

// Config represents S3 sink configuration
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool

	// SDK-level retries per request
	MaxRetries     int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// SourceTag is stored in the "source" metadata field
	SourceTag string

	// Retry governs whole-upload retries within one tick
	Retry retry.Config

	// CircuitBreaker is nil when the breaker is disabled
	CircuitBreaker *circuit.Config
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "ch-dk-2",
		ForcePathStyle: true,
		MaxRetries:     3,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		SourceTag:      storage.DefaultSourceTag,
		Retry:          retry.DefaultConfig(),
		CircuitBreaker: &circuit.Config{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
		},
	}
}

func (c *Config) validate() error {
	switch {
	case c.Bucket == "":
		return fmt.Errorf("bucket name cannot be empty")
	case c.Endpoint == "":
		return fmt.Errorf("endpoint cannot be empty")
	case c.AccessKeyID == "" || c.SecretAccessKey == "":
		return fmt.Errorf("access key and secret key are required")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := NewDefaultConfig()
	if out.Region == "" {
		out.Region = def.Region
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 1
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = def.RequestTimeout
	}
	if out.SourceTag == "" {
		out.SourceTag = def.SourceTag
	}
	return &out
}
