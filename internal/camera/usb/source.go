// Package usb captures stills from a V4L2/UVC webcam through OpenCV.
package usb

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/pkg/errors"
)

// Frames discarded after open; UVC devices buffer a few stale frames.
const flushFrames = 4

// Source is a camera.Source backed by gocv.VideoCapture.
type Source struct {
	opts    camera.Options
	sleep   func(context.Context, time.Duration) error
	stamper *camera.Stamper

	mu     sync.Mutex
	webcam *gocv.VideoCapture
}

var _ camera.Source = (*Source)(nil)

// NewSource creates a webcam source. opts.Device is either a device index
// ("0") or a device node path ("/dev/video0").
func NewSource(opts camera.Options) *Source {
	opts = opts.WithDefaults()
	opts.Logger = opts.Logger.With("component", "camera", "driver", "usb")
	return &Source{
		opts:    opts,
		sleep:   camera.Sleep,
		stamper: camera.NewStamper(opts.Now),
	}
}

// Name implements camera.Source.
func (s *Source) Name() string { return "usb" }

// device resolves the configured device to what OpenVideoCapture accepts.
func (s *Source) device() (interface{}, error) {
	dev := strings.TrimSpace(s.opts.Device)
	if dev == "" {
		return 0, nil
	}
	if id, err := strconv.Atoi(dev); err == nil {
		return id, nil
	}
	if _, err := os.Stat(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// Open opens the webcam, applies the resolution and waits for the warm-up.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.webcam != nil {
		return nil
	}

	dev, err := s.device()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCameraUnavailable, "webcam device not found").
			WithComponent("camera").WithOperation("Open").WithContext("device", s.opts.Device)
	}

	webcam, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCameraInitFailed, "failed to open webcam").
			WithComponent("camera").WithOperation("Open").WithContext("device", s.opts.Device)
	}
	if !webcam.IsOpened() {
		_ = webcam.Close()
		return errors.NewError(errors.ErrCodeCameraInitFailed, "webcam did not open").
			WithComponent("camera").WithOperation("Open").WithContext("device", s.opts.Device)
	}

	webcam.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))

	if err := s.sleep(ctx, s.opts.Warmup); err != nil {
		_ = webcam.Close()
		return errors.Wrap(err, errors.ErrCodeCameraInitFailed, "interrupted during warm-up").
			WithComponent("camera").WithOperation("Open")
	}

	s.webcam = webcam
	s.opts.Logger.Info("camera initialized",
		"device", s.opts.Device,
		"width", int(webcam.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(webcam.Get(gocv.VideoCaptureFrameHeight)),
		"quality", s.opts.Quality)
	return nil
}

// Capture reads one frame, encodes it as JPEG and stores it in dir.
func (s *Source) Capture(ctx context.Context, dir string) (*camera.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readErr := func(cause error, msg, ts string) *errors.AgentError {
		return errors.Wrap(cause, errors.ErrCodeCaptureReadFailed, msg).
			WithComponent("camera").WithOperation("Capture").WithContext("timestamp", ts)
	}

	if s.webcam == nil {
		return nil, readErr(nil, "camera is not open", "")
	}

	ts, err := s.stamper.Next(ctx)
	if err != nil {
		return nil, readErr(err, "interrupted before capture", "")
	}

	s.webcam.Grab(flushFrames)

	img := gocv.NewMat()
	defer img.Close()

	if ok := s.webcam.Read(&img); !ok || img.Empty() {
		return nil, readErr(nil, "failed to read frame", ts)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), s.opts.Quality})
	if err != nil {
		return nil, readErr(err, "failed to encode frame", ts)
	}
	defer buf.Close()

	data := buf.GetBytes()
	path, err := camera.WriteImage(dir, ts, data)
	if err != nil {
		return nil, readErr(err, "failed to write image", ts)
	}

	s.opts.Logger.Debug("image captured", "timestamp", ts, "bytes", len(data),
		"frame", fmt.Sprintf("%dx%d", img.Cols(), img.Rows()))
	return &camera.Record{Timestamp: ts, LocalPath: path, CameraID: s.opts.CameraID}, nil
}

// Close releases the webcam.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.webcam == nil {
		return nil
	}
	err := s.webcam.Close()
	s.webcam = nil
	return err
}
