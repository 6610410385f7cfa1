// Package camera defines the image source abstraction and the capture record
// shared by the queue, the storage sink and the scheduler.
package camera

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the capture timestamp format. It is filename-safe and
// sorts lexically in capture order.
const TimestampLayout = "2006-01-02T15-04-05"

// FileExt is the extension of every capture file.
const FileExt = ".jpg"

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}$`)

// Record is one successfully captured image on local disk.
type Record struct {
	Timestamp string
	LocalPath string
	CameraID  string
}

// FileName returns "{timestamp}.jpg".
func (r Record) FileName() string {
	return FileName(r.Timestamp)
}

// FileName returns the queue file name for a timestamp.
func FileName(timestamp string) string {
	return timestamp + FileExt
}

// IsTimestamp reports whether s has the capture timestamp shape.
func IsTimestamp(s string) bool {
	if !timestampPattern.MatchString(s) {
		return false
	}
	_, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	return err == nil
}

// TimestampFromPath extracts the timestamp from a queue file path, reporting
// false when the base name is not "{timestamp}.jpg".
func TimestampFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, FileExt) {
		return "", false
	}
	ts := strings.TrimSuffix(base, FileExt)
	if !IsTimestamp(ts) {
		return "", false
	}
	return ts, true
}

// Source produces one still image per Capture call.
type Source interface {
	// Open initializes the device. Calling Open on an open source is a no-op.
	Open(ctx context.Context) error

	// Capture writes exactly one "{timestamp}.jpg" into dir. On failure no
	// file is left behind.
	Capture(ctx context.Context, dir string) (*Record, error)

	// Close releases the device. It is safe to call more than once.
	Close() error

	// Name identifies the driver in logs.
	Name() string
}

// Options are the settings shared by every driver.
type Options struct {
	CameraID string
	Device   string
	Width    int
	Height   int
	Quality  int

	// Warmup is waited once after the device is opened so exposure can settle
	Warmup time.Duration

	// CaptureTimeout bounds a single capture
	CaptureTimeout time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// WithDefaults fills unset optional fields.
func (o Options) WithDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.Quality < 0 || o.Quality > 100 {
		o.Quality = 85
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = 15 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stamper issues capture timestamps that are unique within a process. When
// two captures fall in the same second the second one waits for the next.
type Stamper struct {
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	last  string
}

// NewStamper creates a Stamper reading the given clock.
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now, sleep: Sleep}
}

// Next returns a timestamp different from every previous one.
func (s *Stamper) Next(ctx context.Context) (string, error) {
	for {
		t := s.now()
		ts := t.Format(TimestampLayout)
		if ts != s.last {
			s.last = ts
			return ts, nil
		}
		wait := t.Truncate(time.Second).Add(time.Second).Sub(t)
		if err := s.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}
