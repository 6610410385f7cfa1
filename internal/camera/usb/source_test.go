package usb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/pkg/errors"
)

func TestSource_MissingDeviceIsUnavailable(t *testing.T) {
	src := NewSource(camera.Options{
		CameraID: "cam-usb",
		Device:   filepath.Join(t.TempDir(), "video9"),
	})

	err := src.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCameraUnavailable), "got %v", err)
	assert.Equal(t, "usb", src.Name())
}

func TestSource_CaptureBeforeOpen(t *testing.T) {
	src := NewSource(camera.Options{CameraID: "cam-usb", Device: "/nonexistent/video0"})

	rec, err := src.Capture(context.Background(), t.TempDir())
	assert.Nil(t, rec)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCaptureReadFailed))

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}

func TestSource_DeviceResolution(t *testing.T) {
	tests := []struct {
		device string
		want   interface{}
	}{
		{"", 0},
		{"0", 0},
		{" 2 ", 2},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			src := NewSource(camera.Options{Device: tt.device})
			got, err := src.device()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
