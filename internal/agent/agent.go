package agent

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/internal/metrics"
	"github.com/stillshot/stillshot/internal/queue"
	"github.com/stillshot/stillshot/internal/storage"
	"github.com/stillshot/stillshot/pkg/errors"
	"github.com/stillshot/stillshot/pkg/health"
)

// Health component names.
const (
	ComponentCamera  = "camera"
	ComponentStorage = "storage"
)

// State is the lifecycle state of an Agent.
type State int32

const (
	StateInitializing State = iota
	StateValidating
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recorder receives loop metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordCapture(success bool)
	RecordUpload(origin string, duration time.Duration, size int64, success bool)
	SetQueueDepth(n int)
	RecordTick()
}

type nopRecorder struct{}

func (nopRecorder) RecordCapture(bool)                              {}
func (nopRecorder) RecordUpload(string, time.Duration, int64, bool) {}
func (nopRecorder) SetQueueDepth(int)                               {}
func (nopRecorder) RecordTick()                                     {}

// Options wires an Agent.
type Options struct {
	CameraID string
	Interval time.Duration

	// Source may be nil for an agent that only flushes the queue
	Source camera.Source
	Sink   storage.Sink
	Queue  *queue.Queue

	// UploadTimeout bounds one upload, including its retries. Uploads are
	// detached from shutdown so an in-flight upload can finish.
	UploadTimeout time.Duration

	Health  *health.Tracker
	Metrics Recorder
	Logger  *slog.Logger

	// Sleep waits between ticks; defaults to camera.Sleep
	Sleep func(context.Context, time.Duration) error
}

// Agent is the capture scheduler. It is a single sequential worker; none of
// its methods may be called concurrently except State.
type Agent struct {
	cameraID      string
	interval      time.Duration
	source        camera.Source
	sink          storage.Sink
	queue         *queue.Queue
	uploadTimeout time.Duration
	health        *health.Tracker
	metrics       Recorder
	logger        *slog.Logger
	sleep         func(context.Context, time.Duration) error

	state atomic.Int32
}

// New creates an agent in the Initializing state.
func New(opts Options) (*Agent, error) {
	invalid := func(msg string) error {
		return errors.NewError(errors.ErrCodeInvalidState, msg).WithComponent("agent").WithOperation("New")
	}
	switch {
	case opts.CameraID == "":
		return nil, invalid("camera id is required")
	case opts.Queue == nil:
		return nil, invalid("queue is required")
	case opts.Sink == nil:
		return nil, invalid("storage sink is required")
	}

	a := &Agent{
		cameraID:      opts.CameraID,
		interval:      opts.Interval,
		source:        opts.Source,
		sink:          opts.Sink,
		queue:         opts.Queue,
		uploadTimeout: opts.UploadTimeout,
		health:        opts.Health,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		sleep:         opts.Sleep,
	}
	if a.interval <= 0 {
		a.interval = 300 * time.Second
	}
	if a.uploadTimeout <= 0 {
		a.uploadTimeout = 2 * time.Minute
	}
	if a.health == nil {
		a.health = health.NewTracker(health.DefaultConfig())
	}
	a.health.RegisterComponent(ComponentCamera)
	a.health.RegisterComponent(ComponentStorage)
	if a.metrics == nil {
		a.metrics = nopRecorder{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "agent", "camera_id", a.cameraID)
	if a.sleep == nil {
		a.sleep = camera.Sleep
	}

	a.setState(StateInitializing)
	return a, nil
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	if prev != s {
		a.logger.Debug("state changed", "from", prev.String(), "to", s.String())
	}
}

// Run connects to storage, opens the camera and runs ticks until ctx is
// canceled. A canceled context is a graceful shutdown and returns nil.
// Camera and queue failures are returned.
func (a *Agent) Run(ctx context.Context) error {
	if started, err := a.start(ctx); !started {
		return err
	}
	defer a.shutdown()

	a.logger.Info("capture loop started", "interval", a.interval, "driver", a.source.Name(), "queue_dir", a.queue.Dir())

	for {
		if _, err := a.tick(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := a.sleep(ctx, a.interval); err != nil {
			return nil
		}
	}
}

// RunOnce runs a single tick (drain, capture, upload) without sleeping and
// then releases the camera.
func (a *Agent) RunOnce(ctx context.Context) (TickReport, error) {
	if started, err := a.start(ctx); !started {
		return TickReport{}, err
	}
	defer a.shutdown()

	return a.tick(ctx)
}

// Flush drains the queue once. It does not use the camera.
func (a *Agent) Flush(ctx context.Context) (DrainReport, error) {
	report, err := a.drain(ctx)
	a.updateQueueDepth()
	return report, err
}

// start performs Validating→Running: storage first (non-fatal), then the
// camera (fatal). It reports false with a nil error when shutdown was
// requested while the camera was initializing.
func (a *Agent) start(ctx context.Context) (bool, error) {
	if a.source == nil {
		return false, errors.NewError(errors.ErrCodeInvalidState, "no camera source configured").
			WithComponent("agent").WithOperation("start")
	}

	a.setState(StateValidating)

	if err := a.sink.Connect(ctx); err != nil {
		a.health.MarkDegraded(ComponentStorage, err)
		a.logger.Warn("storage unreachable at startup, continuing in local-only mode",
			"operation", "connect", "error", err)
	} else {
		a.health.RecordSuccess(ComponentStorage)
	}

	if err := a.source.Open(ctx); err != nil {
		a.closeSource()
		a.setState(StateStopped)
		if ctx.Err() != nil {
			a.logger.Info("shutdown requested during camera initialization", "operation", "open", "error", err)
			return false, nil
		}
		a.health.RecordError(ComponentCamera, err)
		a.logger.Error("camera initialization failed", "operation", "open", "driver", a.source.Name(), "error", err)
		return false, err
	}
	a.health.RecordSuccess(ComponentCamera)

	a.updateQueueDepth()
	a.setState(StateRunning)
	return true, nil
}

func (a *Agent) shutdown() {
	a.setState(StateShuttingDown)
	a.closeSource()
	a.setState(StateStopped)
	a.logger.Info("agent stopped")
}

func (a *Agent) closeSource() {
	if err := a.source.Close(); err != nil {
		a.logger.Warn("failed to release camera", "operation", "close", "error", err)
	}
}

func (a *Agent) updateQueueDepth() {
	n, err := a.queue.Len()
	if err != nil {
		a.logger.Warn("failed to count pending uploads", "error", err)
		return
	}
	a.metrics.SetQueueDepth(n)
}

// fileSize returns the size of path, or 0 if it cannot be read.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

var _ Recorder = (*metrics.Collector)(nil)
