// Package storage defines the object-storage sink that captures are
// delivered to and the deterministic object layout they are stored under.
package storage

import (
	"context"

	"github.com/stillshot/stillshot/internal/camera"
)

// ContentTypeJPEG is sent with every upload.
const ContentTypeJPEG = "image/jpeg"

// DefaultSourceTag identifies objects written by this agent.
const DefaultSourceTag = "stillshot-agent"

// Object metadata keys.
const (
	MetaCameraID   = "camera_id"
	MetaCapturedAt = "captured_at"
	MetaSource     = "source"
)

// Sink delivers capture records to object storage.
type Sink interface {
	// Connect checks that the bucket is reachable with the configured
	// credentials. Callers treat a failure as non-fatal.
	Connect(ctx context.Context) error

	// Upload stores the file at rec.LocalPath. It returns nil only once the
	// service has acknowledged the object and never touches the local file.
	Upload(ctx context.Context, rec camera.Record) error
}

// Descriptor is the per-attempt description of an upload.
type Descriptor struct {
	Key         string
	ContentType string
	Metadata    map[string]string
}

// Key returns "cameras/{cameraID}/{timestamp}.jpg". The camera ID is used
// verbatim; configuration validation keeps it a single key segment.
func Key(cameraID, timestamp string) string {
	return "cameras/" + cameraID + "/" + camera.FileName(timestamp)
}

// NewDescriptor derives the upload descriptor for rec.
func NewDescriptor(rec camera.Record, sourceTag string) Descriptor {
	if sourceTag == "" {
		sourceTag = DefaultSourceTag
	}
	return Descriptor{
		Key:         Key(rec.CameraID, rec.Timestamp),
		ContentType: ContentTypeJPEG,
		Metadata: map[string]string{
			MetaCameraID:   rec.CameraID,
			MetaCapturedAt: rec.Timestamp,
			MetaSource:     sourceTag,
		},
	}
}
