package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stillshot/stillshot/internal/camera"
)

func TestNewDescriptor(t *testing.T) {
	rec := camera.Record{Timestamp: "2024-05-01T10-00-00", LocalPath: "/q/2024-05-01T10-00-00.jpg", CameraID: "cam-01"}

	d := NewDescriptor(rec, "")
	assert.Equal(t, "cameras/cam-01/2024-05-01T10-00-00.jpg", d.Key)
	assert.Equal(t, "image/jpeg", d.ContentType)
	assert.Equal(t, map[string]string{
		"camera_id":   "cam-01",
		"captured_at": "2024-05-01T10-00-00",
		"source":      "stillshot-agent",
	}, d.Metadata)

	assert.Equal(t, "edge-lab", NewDescriptor(rec, "edge-lab").Metadata[MetaSource])
}

func TestKey_IsDeterministic(t *testing.T) {
	assert.Equal(t, Key("north-gate", "2023-12-31T23-59-59"), Key("north-gate", "2023-12-31T23-59-59"))
	assert.NotEqual(t, Key("a", "2023-12-31T23-59-59"), Key("b", "2023-12-31T23-59-59"))
}

func TestKey_UsesCameraIDVerbatim(t *testing.T) {
	tests := []struct {
		cameraID string
		want     string
	}{
		{"cam-01", "cameras/cam-01/2024-05-01T10-00-01.jpg"},
		{"..", "cameras/../2024-05-01T10-00-01.jpg"},
		{"../other", "cameras/../other/2024-05-01T10-00-01.jpg"},
		{"a.b", "cameras/a.b/2024-05-01T10-00-01.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.cameraID, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.cameraID, "2024-05-01T10-00-01"))
		})
	}
}
