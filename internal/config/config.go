package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/stillshot/stillshot/pkg/errors"
)

// Camera driver selectors.
const (
	DriverModule = "module"
	DriverUSB    = "usb"
)

// PlaceholderCameraID is the identity shipped in sample configs; it must be replaced before deployment.
const PlaceholderCameraID = "cam-unknown"

// cameraIDPattern keeps the camera ID a single object-key segment.
var cameraIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DefaultPath is where the agent looks for its config file when --config is not given.
const DefaultPath = "/etc/stillshot/config.yaml"

// Configuration represents the complete agent configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Camera  CameraConfig  `yaml:"camera"`
	Capture CaptureConfig `yaml:"capture"`
	Storage StorageConfig `yaml:"storage"`
	Network NetworkConfig `yaml:"network"`
}

// GlobalConfig represents process-wide settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// CameraConfig describes the attached camera
type CameraConfig struct {
	ID             string        `yaml:"id"`
	Driver         string        `yaml:"driver"`
	Device         string        `yaml:"device"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	Quality        int           `yaml:"quality"`
	Warmup         time.Duration `yaml:"warmup"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// CaptureConfig controls the capture loop
type CaptureConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	QueueDir        string `yaml:"queue_dir"`
}

// StorageConfig describes the S3-compatible destination
type StorageConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Region         string        `yaml:"region"`
	Bucket         string        `yaml:"bucket"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	ForcePathStyle bool          `yaml:"force_path_style"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	SourceTag      string        `yaml:"source_tag"`
}

// NetworkConfig represents in-tick retry and circuit breaking for uploads
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// NewDefault returns a configuration with every optional field defaulted.
// Identity, endpoint, bucket and credentials are left empty.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Camera: CameraConfig{
			Driver:         DriverModule,
			Device:         "/dev/video0",
			Width:          1920,
			Height:         1080,
			Quality:        85,
			Warmup:         2 * time.Second,
			CaptureTimeout: 15 * time.Second,
		},
		Capture: CaptureConfig{
			IntervalSeconds: 300,
			QueueDir:        "./pending_uploads",
		},
		Storage: StorageConfig{
			Region:         "ch-dk-2",
			ForcePathStyle: true,
			RequestTimeout: 30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxRetries:     3,
			SourceTag:      "stillshot-agent",
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts: 2,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path and the
// environment, in that order of precedence. A missing file is not an error
// unless required is set.
func Load(path string, required bool) (*Configuration, error) {
	cfg := NewDefault()

	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			if required || !stderrors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("path", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("path", filename)
	}

	return nil
}

// LoadFromEnv overlays environment variables onto the configuration
func (c *Configuration) LoadFromEnv() error {
	var bad []string

	setString := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}
	setInt := func(name string, dst *int) {
		val := os.Getenv(name)
		if val == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			bad = append(bad, name)
			return
		}
		*dst = n
	}

	// Camera
	setString("CAMERA_ID", &c.Camera.ID)
	setString("CAMERA_TYPE", &c.Camera.Driver)
	setString("CAMERA_DEVICE", &c.Camera.Device)
	setInt("IMAGE_WIDTH", &c.Camera.Width)
	setInt("IMAGE_HEIGHT", &c.Camera.Height)
	setInt("IMAGE_QUALITY", &c.Camera.Quality)

	// Capture loop
	setInt("CAPTURE_INTERVAL_SECONDS", &c.Capture.IntervalSeconds)
	setString("STILLSHOT_QUEUE_DIR", &c.Capture.QueueDir)

	// Storage
	setString("S3_ENDPOINT", &c.Storage.Endpoint)
	setString("S3_ACCESS_KEY", &c.Storage.AccessKey)
	setString("S3_SECRET_KEY", &c.Storage.SecretKey)
	setString("S3_BUCKET", &c.Storage.Bucket)
	setString("S3_REGION", &c.Storage.Region)

	// Global
	setString("STILLSHOT_LOG_LEVEL", &c.Global.LogLevel)
	setString("STILLSHOT_LOG_FILE", &c.Global.LogFile)
	setInt("STILLSHOT_METRICS_PORT", &c.Global.MetricsPort)

	if len(bad) > 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			"non-numeric value in "+strings.Join(bad, ", ")).
			WithDetail("variables", bad)
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file")
	}

	return nil
}

// Interval returns the capture interval as a duration
func (c *Configuration) Interval() time.Duration {
	return time.Duration(c.Capture.IntervalSeconds) * time.Second
}

// NormalizedDriver maps driver aliases onto the canonical selector.
func (c *Configuration) NormalizedDriver() string {
	switch d := strings.ToLower(strings.TrimSpace(c.Camera.Driver)); d {
	case "pi", "picamera", "rpi", DriverModule:
		return DriverModule
	case "webcam", "v4l2", DriverUSB:
		return DriverUSB
	default:
		return d
	}
}

// ValidateStorage checks only the fields needed to reach the bucket.
func (c *Configuration) ValidateStorage() error {
	var missing []string
	if strings.TrimSpace(c.Storage.Endpoint) == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if strings.TrimSpace(c.Storage.AccessKey) == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if strings.TrimSpace(c.Storage.SecretKey) == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		missing = append(missing, "S3_BUCKET")
	}
	return missingError(missing)
}

// Validate checks required fields and ranges. All missing required fields
// are reported together in a single MISSING_CONFIG error.
func (c *Configuration) Validate() error {
	var missing []string
	if id := strings.TrimSpace(c.Camera.ID); id == "" || id == PlaceholderCameraID {
		missing = append(missing, "CAMERA_ID")
	}
	if err := c.ValidateStorage(); err != nil {
		var agentErr *errors.AgentError
		if stderrors.As(err, &agentErr) {
			missing = append(missing, agentErr.Details["missing"].([]string)...)
		}
	}
	if err := missingError(missing); err != nil {
		return err
	}

	invalid := func(field, format string, args ...interface{}) error {
		return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).
			WithContext("field", field)
	}

	if id := c.Camera.ID; !cameraIDPattern.MatchString(id) || id == "." || id == ".." {
		return invalid("camera.id", "camera id %q must use only letters, digits, '.', '_' and '-', and not be . or ..", id)
	}
	if c.Capture.IntervalSeconds <= 0 {
		return invalid("capture.interval_seconds", "interval must be greater than 0, got %d", c.Capture.IntervalSeconds)
	}
	if c.Camera.Quality < 0 || c.Camera.Quality > 100 {
		return invalid("camera.quality", "quality must be between 0 and 100, got %d", c.Camera.Quality)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return invalid("camera.width", "resolution must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if d := c.NormalizedDriver(); d != DriverModule && d != DriverUSB {
		return invalid("camera.driver", "unknown camera driver %q (must be %s or %s)", c.Camera.Driver, DriverModule, DriverUSB)
	}
	if strings.TrimSpace(c.Capture.QueueDir) == "" {
		return invalid("capture.queue_dir", "queue_dir must not be empty")
	}
	if c.Storage.RequestTimeout <= 0 {
		return invalid("storage.request_timeout", "request_timeout must be greater than 0")
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return invalid("global.metrics_port", "metrics_port out of range: %d", c.Global.MetricsPort)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("global.log_level", "invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return errors.NewError(errors.ErrCodeMissingConfig,
		"missing required configuration: "+strings.Join(missing, ", ")).
		WithDetail("missing", missing)
}
