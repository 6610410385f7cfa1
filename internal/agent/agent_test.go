package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/internal/metrics"
	"github.com/stillshot/stillshot/internal/queue"
	"github.com/stillshot/stillshot/internal/storage"
	"github.com/stillshot/stillshot/pkg/errors"
	"github.com/stillshot/stillshot/pkg/health"
)

var testJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'i', 'm', 'g'}

// events records the order of calls across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeSource struct {
	ev       *events
	openErr  error
	failNext bool
	clock    time.Time
	opened   bool
	closes   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(context.Context) error {
	f.ev.add("open")
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeSource) Capture(_ context.Context, dir string) (*camera.Record, error) {
	f.ev.add("capture")
	if f.failNext {
		f.failNext = false
		return nil, errors.NewError(errors.ErrCodeCaptureReadFailed, "sensor timeout")
	}
	f.clock = f.clock.Add(time.Second)
	ts := f.clock.Format(camera.TimestampLayout)
	path, err := camera.WriteImage(dir, ts, testJPEG)
	if err != nil {
		return nil, err
	}
	return &camera.Record{Timestamp: ts, LocalPath: path, CameraID: "cam-01"}, nil
}

func (f *fakeSource) Close() error {
	f.closes++
	f.opened = false
	return nil
}

type fakeSink struct {
	ev         *events
	mu         sync.Mutex
	up         bool
	connectErr error
	objects    map[string]storage.Descriptor
	attempts   []string
}

func newFakeSink(ev *events, up bool) *fakeSink {
	return &fakeSink{ev: ev, up: up, objects: map[string]storage.Descriptor{}}
}

func (f *fakeSink) setUp(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = up
}

func (f *fakeSink) Connect(context.Context) error {
	f.ev.add("connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	return nil
}

func (f *fakeSink) Upload(ctx context.Context, rec camera.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ev.add("upload:" + rec.Timestamp)
	f.attempts = append(f.attempts, rec.Timestamp)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !f.up {
		return errors.NewError(errors.ErrCodeStorageUnreachable, "connection refused")
	}
	if _, err := os.ReadFile(rec.LocalPath); err != nil {
		return err
	}
	d := storage.NewDescriptor(rec, "")
	f.objects[d.Key] = d
	return nil
}

func (f *fakeSink) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

type fixture struct {
	ev      *events
	source  *fakeSource
	sink    *fakeSink
	queue   *queue.Queue
	tracker *health.Tracker
	metrics *metrics.Collector
}

func newFixture(t *testing.T, storageUp bool) *fixture {
	t.Helper()
	ev := &events{}
	q, err := queue.Open(filepath.Join(t.TempDir(), "pending_uploads"), nil)
	require.NoError(t, err)

	tracker := health.NewTracker(health.DefaultConfig())
	collector, err := metrics.NewCollector(nil, tracker, nil)
	require.NoError(t, err)

	return &fixture{
		ev:      ev,
		source:  &fakeSource{ev: ev, clock: time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)},
		sink:    newFakeSink(ev, storageUp),
		queue:   q,
		tracker: tracker,
		metrics: collector,
	}
}

func (f *fixture) agent(t *testing.T, sleep func(context.Context, time.Duration) error) *Agent {
	t.Helper()
	a, err := New(Options{
		CameraID: "cam-01",
		Interval: time.Second,
		Source:   f.source,
		Sink:     f.sink,
		Queue:    f.queue,
		Health:   f.tracker,
		Metrics:  f.metrics,
		Sleep:    sleep,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) pending(t *testing.T) []string {
	t.Helper()
	seq, _, err := f.queue.ListPending("cam-01")
	require.NoError(t, err)
	var out []string
	for rec := range seq {
		out = append(out, rec.Timestamp)
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name string
		opts Options
	}{
		{"camera id", Options{Sink: f.sink, Queue: f.queue}},
		{"queue", Options{CameraID: "cam-01", Sink: f.sink}},
		{"sink", Options{CameraID: "cam-01", Queue: f.queue}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.opts)
			assert.Nil(t, a)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
		})
	}
}

func TestRun_StorageUpDownUp(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	a := f.agent(t, func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, time.Second, d)
		sleeps++
		switch sleeps {
		case 1:
			f.sink.setUp(false)
		case 2:
			f.sink.setUp(true)
		default:
			cancel()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, a.Run(ctx))
	assert.Equal(t, StateStopped, a.State())

	assert.Empty(t, f.pending(t), "fallback directory drained")
	assert.ElementsMatch(t, []string{
		"cameras/cam-01/2024-05-01T10-00-01.jpg",
		"cameras/cam-01/2024-05-01T10-00-02.jpg",
		"cameras/cam-01/2024-05-01T10-00-03.jpg",
	}, f.sink.keys())

	assert.Equal(t, []string{
		"connect", "open",
		"capture", "upload:2024-05-01T10-00-01",
		"capture", "upload:2024-05-01T10-00-02",
		// the entry left by the failed upload is drained before the next capture
		"upload:2024-05-01T10-00-02", "capture", "upload:2024-05-01T10-00-03",
	}, f.ev.all())

	assert.Equal(t, 1, f.source.closes)
	assert.Equal(t, float64(3), gatheredValue(t, f.metrics, "stillshot_ticks_total"))
	assert.Equal(t, float64(0), gatheredValue(t, f.metrics, "stillshot_queue_depth"))
}

func gatheredValue(t *testing.T, c *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRun_CameraUnavailable(t *testing.T) {
	f := newFixture(t, true)
	f.source.openErr = errors.NewError(errors.ErrCodeCameraUnavailable, "no camera tool")

	a := f.agent(t, nil)
	err := a.Run(context.Background())

	assert.True(t, errors.IsCode(err, errors.ErrCodeCameraUnavailable))
	assert.Equal(t, []string{"connect", "open"}, f.ev.all(), "connect happens before open")
	assert.Empty(t, f.pending(t))
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, 1, f.source.closes)
	assert.Equal(t, health.StateDegraded, f.tracker.GetState(ComponentCamera))
}

func TestRun_ShutdownDuringCameraInit(t *testing.T) {
	f := newFixture(t, true)
	f.source.openErr = errors.NewError(errors.ErrCodeCameraInitFailed, "interrupted during warm-up")
	a := f.agent(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, a.Run(ctx))
	assert.Equal(t, []string{"connect", "open"}, f.ev.all())
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, 1, f.source.closes)

	report, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Captured)
	assert.Empty(t, f.pending(t))
}

func TestRunOnce_StorageUnreachableAtStartup(t *testing.T) {
	f := newFixture(t, false)
	f.sink.connectErr = errors.NewError(errors.ErrCodeStorageUnreachable, "dial tcp: no route to host")

	a := f.agent(t, nil)

	for i := 0; i < 2; i++ {
		report, err := a.RunOnce(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, report.Captured)
		assert.False(t, report.Uploaded)
	}

	assert.Equal(t, []string{"2024-05-01T10-00-01", "2024-05-01T10-00-02"}, f.pending(t), "captures accumulate")
	assert.NotEqual(t, health.StateHealthy, f.tracker.GetState(ComponentStorage))

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunOnce_FailedUploadIsDrainedNextTick(t *testing.T) {
	f := newFixture(t, false)
	a := f.agent(t, nil)

	first, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, first.Uploaded)

	// Exactly one file for the capture before its first successful upload.
	assert.Equal(t, []string{first.Captured}, f.pending(t))

	f.sink.setUp(true)
	second, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Pending: 1, Uploaded: 1}, second.Drain)
	assert.True(t, second.Uploaded)
	assert.Empty(t, f.pending(t))
	assert.Len(t, f.sink.keys(), 2)
}

func TestRunOnce_CaptureFailureSkipsTick(t *testing.T) {
	f := newFixture(t, true)
	f.source.failNext = true
	a := f.agent(t, nil)

	report, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, errors.IsCode(report.CaptureErr, errors.ErrCodeCaptureReadFailed))
	assert.Empty(t, report.Captured)
	assert.Empty(t, f.pending(t), "no queue entry for a failed capture")

	staged, err := os.ReadDir(f.queue.StagingDir())
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRunOnce_DuplicateTimestampKeepsEarlierCapture(t *testing.T) {
	f := newFixture(t, false)
	a := f.agent(t, nil)

	// Pre-queue the timestamp the fake source will produce next.
	_, err := f.queue.Enqueue([]byte{0xFF, 0xD8, 0xFF, 0x01}, "2024-05-01T10-00-01", "cam-01")
	require.NoError(t, err)

	report, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, errors.IsCode(report.CaptureErr, errors.ErrCodeEntryExists))

	data, err := os.ReadFile(filepath.Join(f.queue.Dir(), "2024-05-01T10-00-01.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0x01}, data)

	staged, err := os.ReadDir(f.queue.StagingDir())
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestFlush(t *testing.T) {
	f := newFixture(t, true)
	for _, ts := range []string{"2024-05-01T09-00-00", "2024-05-01T08-00-00"} {
		_, err := f.queue.Enqueue(testJPEG, ts, "cam-01")
		require.NoError(t, err)
	}

	a, err := New(Options{CameraID: "cam-01", Sink: f.sink, Queue: f.queue})
	require.NoError(t, err)

	report, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainReport{Pending: 2, Uploaded: 2}, report)
	assert.Equal(t, []string{"upload:2024-05-01T08-00-00", "upload:2024-05-01T09-00-00"}, f.ev.all(), "oldest first")
	assert.Empty(t, f.pending(t))

	_, err = a.RunOnce(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState), "no camera configured")
}

func TestDrain_StopsAtShutdown(t *testing.T) {
	f := newFixture(t, true)
	for _, ts := range []string{"2024-05-01T09-00-00", "2024-05-01T09-00-01"} {
		_, err := f.queue.Enqueue(testJPEG, ts, "cam-01")
		require.NoError(t, err)
	}
	a := f.agent(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := a.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainReport{Pending: 2, Skipped: 2}, report)
	assert.Len(t, f.pending(t), 2)
}

func TestUpload_DetachedFromShutdown(t *testing.T) {
	f := newFixture(t, true)
	rec, err := f.queue.Enqueue(testJPEG, "2024-05-01T09-00-00", "cam-01")
	require.NoError(t, err)
	a := f.agent(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, a.upload(ctx, rec, metrics.OriginDrain), "in-flight upload completes after cancellation")
	assert.Empty(t, f.pending(t))
}

func TestRun_ShutdownDuringSleep(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	a := f.agent(t, func(ctx context.Context, d time.Duration) error {
		cancel()
		return camera.Sleep(ctx, time.Hour)
	})

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, []string{"connect", "open", "capture", "upload:2024-05-01T10-00-01"}, f.ev.all())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(42).String())
}
