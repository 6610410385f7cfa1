package agent

import (
	"context"
	"os"
	"time"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/internal/metrics"
	"github.com/stillshot/stillshot/pkg/errors"
)

// DrainReport summarizes one pass over the pending queue.
type DrainReport struct {
	Pending  int
	Uploaded int
	Failed   int
	// Skipped entries were not attempted because shutdown began
	Skipped int
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Drain DrainReport

	// Captured is the timestamp of this tick's capture, empty if none
	Captured   string
	CaptureErr error
	Uploaded   bool
}

// tick runs DrainPending → CaptureOne → UploadOne. Only queue listing
// failures are returned; everything else is logged and retried later.
func (a *Agent) tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	defer a.metrics.RecordTick()
	defer a.updateQueueDepth()

	drain, err := a.drain(ctx)
	report.Drain = drain
	if err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		return report, nil
	}

	rec, err := a.captureOne(ctx)
	if err != nil {
		report.CaptureErr = err
		return report, nil
	}
	report.Captured = rec.Timestamp
	report.Uploaded = a.upload(ctx, rec, metrics.OriginFresh)

	return report, nil
}

// drain uploads every entry pending at the start of the call, oldest first.
func (a *Agent) drain(ctx context.Context) (DrainReport, error) {
	seq, n, err := a.queue.ListPending(a.cameraID)
	if err != nil {
		a.logger.Error("failed to list pending uploads", "operation", "drain", "error", err)
		return DrainReport{}, err
	}

	report := DrainReport{Pending: n}
	if n == 0 {
		return report, nil
	}
	a.logger.Info("draining pending uploads", "operation", "drain", "pending", n)

	for rec := range seq {
		if ctx.Err() != nil {
			report.Skipped = n - report.Uploaded - report.Failed
			break
		}
		if a.upload(ctx, rec, metrics.OriginDrain) {
			report.Uploaded++
		} else {
			report.Failed++
		}
	}

	a.logger.Info("drain finished", "operation", "drain",
		"uploaded", report.Uploaded, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// captureOne captures into the staging area and moves the file into the
// queue, so from here on the capture is durable.
func (a *Agent) captureOne(ctx context.Context) (camera.Record, error) {
	rec, err := a.source.Capture(ctx, a.queue.StagingDir())
	if err != nil {
		a.metrics.RecordCapture(false)
		a.health.RecordError(ComponentCamera, err)
		a.logger.Error("capture failed, skipping this cycle", "operation", "capture", "error", err)
		return camera.Record{}, err
	}
	rec.CameraID = a.cameraID

	queued, err := a.queue.EnqueueFile(*rec)
	if err != nil {
		a.metrics.RecordCapture(false)
		if errors.IsCode(err, errors.ErrCodeEntryExists) {
			// Same timestamp already queued; the earlier capture is kept.
			a.logger.Warn("capture duplicates a pending entry, discarding the newer image",
				"operation", "enqueue", "timestamp", rec.Timestamp)
			_ = os.Remove(rec.LocalPath)
		} else {
			// Left in staging; recovered into the queue on next start.
			a.logger.Error("failed to enqueue capture", "operation", "enqueue",
				"timestamp", rec.Timestamp, "path", rec.LocalPath, "error", err)
		}
		return camera.Record{}, err
	}

	a.metrics.RecordCapture(true)
	a.health.RecordSuccess(ComponentCamera)
	a.logger.Info("image captured", "operation", "capture", "timestamp", queued.Timestamp)
	return queued, nil
}

// upload delivers rec and removes its queue entry on success. Failures
// leave the entry for a later drain.
func (a *Agent) upload(ctx context.Context, rec camera.Record, origin string) bool {
	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.uploadTimeout)
	defer cancel()

	size := fileSize(rec.LocalPath)
	start := time.Now()
	err := a.sink.Upload(upCtx, rec)
	a.metrics.RecordUpload(origin, time.Since(start), size, err == nil)

	if err != nil {
		a.health.RecordError(ComponentStorage, err)
		a.logger.Warn("upload failed, keeping image for retry", "operation", "upload",
			"origin", origin, "timestamp", rec.Timestamp, "code", string(errors.CodeOf(err)), "error", err)
		return false
	}
	a.health.RecordSuccess(ComponentStorage)

	if err := a.queue.Remove(rec); err != nil {
		// The object key is deterministic, so a later re-upload is harmless.
		a.logger.Error("uploaded but failed to remove local copy", "operation", "remove",
			"timestamp", rec.Timestamp, "error", err)
		return true
	}

	a.logger.Info("image uploaded", "operation", "upload", "origin", origin, "timestamp", rec.Timestamp, "bytes", size)
	return true
}
