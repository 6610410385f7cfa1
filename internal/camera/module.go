package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stillshot/stillshot/pkg/errors"
)

// Still-capture tools shipped with Raspberry Pi OS, newest first.
var moduleTools = []string{"rpicam-still", "libcamera-still"}

// Runner executes an external command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ModuleSource drives a Raspberry Pi camera module through the libcamera
// still-capture tool. The JPEG is streamed on stdout and committed with
// WriteImage.
type ModuleSource struct {
	opts     Options
	lookPath func(string) (string, error)
	run      Runner
	sleep    func(context.Context, time.Duration) error
	stamper  *Stamper

	mu   sync.Mutex
	tool string
	open bool
}

// ModuleOption customizes a ModuleSource.
type ModuleOption func(*ModuleSource)

// WithRunner replaces command execution, mainly for tests.
func WithRunner(run Runner) ModuleOption {
	return func(m *ModuleSource) { m.run = run }
}

// WithLookPath replaces executable resolution, mainly for tests.
func WithLookPath(lookPath func(string) (string, error)) ModuleOption {
	return func(m *ModuleSource) { m.lookPath = lookPath }
}

// WithSleep replaces the warm-up wait, mainly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) ModuleOption {
	return func(m *ModuleSource) { m.sleep = sleep }
}

// NewModuleSource creates a source for the Raspberry Pi camera module.
func NewModuleSource(opts Options, options ...ModuleOption) *ModuleSource {
	opts = opts.WithDefaults()
	opts.Logger = opts.Logger.With("component", "camera", "driver", "module")

	m := &ModuleSource{
		opts:     opts,
		lookPath: exec.LookPath,
		run:      execRunner,
		sleep:    Sleep,
	}
	for _, o := range options {
		o(m)
	}
	m.stamper = &Stamper{now: opts.Now, sleep: m.sleep}
	return m
}

var _ Source = (*ModuleSource)(nil)

// Name implements Source.
func (m *ModuleSource) Name() string { return "module" }

// Open locates the capture tool, checks that a camera is attached and waits
// for the warm-up period.
func (m *ModuleSource) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}

	tool, err := m.findTool()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCameraUnavailable, "no libcamera still-capture tool found").
			WithComponent("camera").WithOperation("Open").
			WithContext("candidates", strings.Join(moduleTools, ","))
	}

	stdout, stderr, err := m.run(ctx, tool, "--list-cameras")
	listing := string(stdout) + string(stderr)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCameraInitFailed, "failed to enumerate cameras").
			WithComponent("camera").WithOperation("Open").
			WithContext("tool", tool).WithContext("output", strings.TrimSpace(listing))
	}
	if strings.Contains(listing, "No cameras available") {
		return errors.NewError(errors.ErrCodeCameraInitFailed, "no camera module detected").
			WithComponent("camera").WithOperation("Open").WithContext("tool", tool)
	}

	if err := m.sleep(ctx, m.opts.Warmup); err != nil {
		return errors.Wrap(err, errors.ErrCodeCameraInitFailed, "interrupted during warm-up").
			WithComponent("camera").WithOperation("Open")
	}

	m.tool = tool
	m.open = true
	m.opts.Logger.Info("camera initialized",
		"tool", tool, "width", m.opts.Width, "height", m.opts.Height, "quality", m.opts.Quality)
	return nil
}

func (m *ModuleSource) findTool() (string, error) {
	var firstErr error
	for _, name := range moduleTools {
		path, err := m.lookPath(name)
		if err == nil {
			return path, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", firstErr
}

// Capture takes one still and stores it in dir.
func (m *ModuleSource) Capture(ctx context.Context, dir string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	readErr := func(cause error, msg, ts string) *errors.AgentError {
		return errors.Wrap(cause, errors.ErrCodeCaptureReadFailed, msg).
			WithComponent("camera").WithOperation("Capture").WithContext("timestamp", ts)
	}

	if !m.open {
		return nil, readErr(nil, "camera is not open", "")
	}

	ts, err := m.stamper.Next(ctx)
	if err != nil {
		return nil, readErr(err, "interrupted before capture", "")
	}

	captureCtx, cancel := context.WithTimeout(ctx, m.opts.CaptureTimeout)
	defer cancel()

	args := []string{
		"--nopreview",
		"--immediate",
		"--width", strconv.Itoa(m.opts.Width),
		"--height", strconv.Itoa(m.opts.Height),
		"--quality", strconv.Itoa(m.opts.Quality),
		"--encoding", "jpg",
		"--output", "-",
	}

	stdout, stderr, err := m.run(captureCtx, m.tool, args...)
	if err != nil {
		return nil, readErr(err, "capture command failed", ts).
			WithContext("stderr", strings.TrimSpace(string(stderr)))
	}
	if !IsJPEG(stdout) {
		return nil, readErr(nil, fmt.Sprintf("capture produced %d bytes of non-JPEG data", len(stdout)), ts)
	}

	path, err := WriteImage(dir, ts, stdout)
	if err != nil {
		return nil, readErr(err, "failed to write image", ts)
	}

	m.opts.Logger.Debug("image captured", "timestamp", ts, "bytes", len(stdout))
	return &Record{Timestamp: ts, LocalPath: path, CameraID: m.opts.CameraID}, nil
}

// Close marks the source closed. The tool holds the device only while it runs.
func (m *ModuleSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.open = false
	return nil
}
