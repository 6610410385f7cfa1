package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stillshot/stillshot/pkg/errors"
)

// Test Constants
const (
	TestCameraID = "cam-garden-01"
	TestEndpoint = "https://sos-ch-dk-2.exo.io"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CAMERA_ID", TestCameraID)
	t.Setenv("S3_ENDPOINT", TestEndpoint)
	t.Setenv("S3_ACCESS_KEY", "EXOkey")
	t.Setenv("S3_SECRET_KEY", "secret")
	t.Setenv("S3_BUCKET", "captures")
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 0 {
		t.Errorf("Expected metrics server disabled by default, got port %d", cfg.Global.MetricsPort)
	}
	if cfg.Capture.IntervalSeconds != 300 {
		t.Errorf("Expected IntervalSeconds to be 300, got %d", cfg.Capture.IntervalSeconds)
	}
	if cfg.Camera.Quality != 85 {
		t.Errorf("Expected Quality to be 85, got %d", cfg.Camera.Quality)
	}
	if cfg.Camera.Width != 1920 || cfg.Camera.Height != 1080 {
		t.Errorf("Expected 1920x1080, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Storage.Region != "ch-dk-2" {
		t.Errorf("Expected Region to be ch-dk-2, got %s", cfg.Storage.Region)
	}
	if cfg.Camera.Driver != DriverModule {
		t.Errorf("Expected Driver to be %s, got %s", DriverModule, cfg.Camera.Driver)
	}
	if cfg.Storage.RequestTimeout != 30*time.Second {
		t.Errorf("Expected RequestTimeout to be 30s, got %v", cfg.Storage.RequestTimeout)
	}
	if cfg.Interval() != 5*time.Minute {
		t.Errorf("Expected Interval() to be 5m, got %v", cfg.Interval())
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CAPTURE_INTERVAL_SECONDS", "60")
	t.Setenv("IMAGE_QUALITY", "70")
	t.Setenv("IMAGE_WIDTH", "1280")
	t.Setenv("IMAGE_HEIGHT", "720")
	t.Setenv("S3_REGION", "de-fra-1")
	t.Setenv("CAMERA_TYPE", "usb")
	t.Setenv("STILLSHOT_LOG_LEVEL", "DEBUG")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Camera.ID != TestCameraID {
		t.Errorf("Expected Camera.ID %s, got %s", TestCameraID, cfg.Camera.ID)
	}
	if cfg.Capture.IntervalSeconds != 60 {
		t.Errorf("Expected IntervalSeconds 60, got %d", cfg.Capture.IntervalSeconds)
	}
	if cfg.Camera.Quality != 70 || cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Errorf("Unexpected image settings: %+v", cfg.Camera)
	}
	if cfg.Storage.Region != "de-fra-1" {
		t.Errorf("Expected Region de-fra-1, got %s", cfg.Storage.Region)
	}
	if cfg.NormalizedDriver() != DriverUSB {
		t.Errorf("Expected usb driver, got %s", cfg.NormalizedDriver())
	}
	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadFromEnv_InvalidNumber(t *testing.T) {
	t.Setenv("CAPTURE_INTERVAL_SECONDS", "five")
	t.Setenv("IMAGE_QUALITY", "high")

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Fatalf("Expected INVALID_CONFIG, got %v", err)
	}
	if cfg.Capture.IntervalSeconds != 300 {
		t.Errorf("Interval should keep its default, got %d", cfg.Capture.IntervalSeconds)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Configuration)
		wantMissing []string
	}{
		{
			name:        "everything missing",
			mutate:      func(*Configuration) {},
			wantMissing: []string{"CAMERA_ID", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET"},
		},
		{
			name: "placeholder camera id",
			mutate: func(c *Configuration) {
				c.Camera.ID = PlaceholderCameraID
				c.Storage.Endpoint = TestEndpoint
				c.Storage.AccessKey = "k"
				c.Storage.SecretKey = "s"
				c.Storage.Bucket = "b"
			},
			wantMissing: []string{"CAMERA_ID"},
		},
		{
			name: "only bucket missing",
			mutate: func(c *Configuration) {
				c.Camera.ID = TestCameraID
				c.Storage.Endpoint = TestEndpoint
				c.Storage.AccessKey = "k"
				c.Storage.SecretKey = "s"
			},
			wantMissing: []string{"S3_BUCKET"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.IsCode(err, errors.ErrCodeMissingConfig) {
				t.Fatalf("Expected MISSING_CONFIG, got %v", err)
			}

			agentErr := err.(*errors.AgentError)
			got, _ := agentErr.Details["missing"].([]string)
			if len(got) != len(tt.wantMissing) {
				t.Fatalf("missing = %v, want %v", got, tt.wantMissing)
			}
			for i := range got {
				if got[i] != tt.wantMissing[i] {
					t.Errorf("missing[%d] = %s, want %s", i, got[i], tt.wantMissing[i])
				}
			}
		})
	}
}

func TestValidate_Ranges(t *testing.T) {
	valid := func() *Configuration {
		cfg := NewDefault()
		cfg.Camera.ID = TestCameraID
		cfg.Storage.Endpoint = TestEndpoint
		cfg.Storage.AccessKey = "k"
		cfg.Storage.SecretKey = "s"
		cfg.Storage.Bucket = "b"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero interval", func(c *Configuration) { c.Capture.IntervalSeconds = 0 }},
		{"negative interval", func(c *Configuration) { c.Capture.IntervalSeconds = -5 }},
		{"quality above 100", func(c *Configuration) { c.Camera.Quality = 101 }},
		{"negative quality", func(c *Configuration) { c.Camera.Quality = -1 }},
		{"zero width", func(c *Configuration) { c.Camera.Width = 0 }},
		{"unknown driver", func(c *Configuration) { c.Camera.Driver = "gopro" }},
		{"empty queue dir", func(c *Configuration) { c.Capture.QueueDir = "" }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "VERBOSE" }},
		{"metrics port out of range", func(c *Configuration) { c.Global.MetricsPort = 70000 }},
		{"camera id dot-dot", func(c *Configuration) { c.Camera.ID = ".." }},
		{"camera id dot", func(c *Configuration) { c.Camera.ID = "." }},
		{"camera id with slash", func(c *Configuration) { c.Camera.ID = "../other" }},
		{"camera id with backslash", func(c *Configuration) { c.Camera.ID = `gate\north` }},
		{"camera id with space", func(c *Configuration) { c.Camera.ID = "north gate" }},
		{"camera id padded", func(c *Configuration) { c.Camera.ID = " cam-01" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Expected INVALID_CONFIG, got %v", err)
			}
		})
	}

	edges := valid()
	edges.Camera.Quality = 0
	edges.Camera.Driver = "pi"
	edges.Global.LogLevel = "warn"
	edges.Camera.ID = "Cam_01.north-gate"
	if err := edges.Validate(); err != nil {
		t.Errorf("quality 0, pi alias, lowercase level and dotted camera id should validate: %v", err)
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "nested", "config.yaml")

	saved := NewDefault()
	saved.Camera.ID = TestCameraID
	saved.Capture.IntervalSeconds = 120
	saved.Storage.Bucket = "captures"

	if err := saved.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded := &Configuration{}
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Camera.ID != TestCameraID || loaded.Capture.IntervalSeconds != 120 || loaded.Storage.Bucket != "captures" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if loaded.Camera.Warmup != 2*time.Second {
		t.Errorf("Expected Warmup 2s after round trip, got %v", loaded.Camera.Warmup)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	yamlDoc := `
camera:
  id: cam-from-file
  quality: 60
capture:
  interval_seconds: 30
`
	if err := os.WriteFile(configFile, []byte(yamlDoc), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("CAMERA_ID", "cam-from-env")

		cfg, err := Load(configFile, true)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Camera.ID != "cam-from-env" {
			t.Errorf("Expected env to win, got %s", cfg.Camera.ID)
		}
		if cfg.Camera.Quality != 60 || cfg.Capture.IntervalSeconds != 30 {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if cfg.Camera.Width != 1920 {
			t.Errorf("defaults lost for unset fields: width %d", cfg.Camera.Width)
		}
	})

	t.Run("optional missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "absent.yaml"), false)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Capture.IntervalSeconds != 300 {
			t.Errorf("Expected defaults, got %+v", cfg.Capture)
		}
	})

	t.Run("required missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(tmpDir, "absent.yaml"), true)
		if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
			t.Errorf("Expected CONFIG_LOAD, got %v", err)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(tmpDir, "bad.yaml")
		if err := os.WriteFile(bad, []byte("camera: [unclosed"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := Load(bad, false)
		if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
			t.Errorf("Expected CONFIG_LOAD, got %v", err)
		}
	})
}
