// Package queue implements the durable fallback directory. Every
// "{timestamp}.jpg" file in the directory is one capture that has not yet
// been confirmed by storage; there is no index, so the directory itself is
// the queue and survives restarts.
package queue

import (
	stderrors "errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/pkg/errors"
)

// StagingName is the hidden subdirectory cameras write into before a capture
// is moved into the queue.
const StagingName = ".staging"

// Queue is a directory of pending captures. It is not safe for concurrent
// use by multiple processes.
type Queue struct {
	dir     string
	staging string
	logger  *slog.Logger
}

// Open prepares dir for use, creating it and its staging area if needed.
// Complete captures left in staging by a crash are moved into the queue and
// partial writes are discarded.
func Open(dir string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.NewError(errors.ErrCodeFilesystem, "queue directory is empty").
			WithComponent("queue").WithOperation("Open")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fsError(err, "Open", "failed to resolve queue directory", dir)
	}

	q := &Queue{
		dir:     abs,
		staging: filepath.Join(abs, StagingName),
		logger:  logger.With("component", "queue"),
	}

	if err := os.MkdirAll(q.staging, 0o755); err != nil {
		return nil, fsError(err, "Open", "failed to create queue directory", abs)
	}
	if err := q.recoverStaging(); err != nil {
		return nil, err
	}
	if err := q.clearPartials(); err != nil {
		return nil, err
	}

	return q, nil
}

// clearPartials removes temporary files an interrupted Enqueue left in the
// queue directory.
func (q *Queue) clearPartials() error {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fsError(err, "Open", "queue directory is not readable", q.dir)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !camera.IsPartialName(entry.Name()) {
			continue
		}
		path := filepath.Join(q.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fsError(err, "Open", "failed to remove partial write", path)
		}
		q.logger.Debug("discarded partial write", "path", path)
	}
	return nil
}

func fsError(cause error, op, msg, path string) *errors.AgentError {
	return errors.Wrap(cause, errors.ErrCodeFilesystem, msg).
		WithComponent("queue").WithOperation(op).WithContext("path", path)
}

func (q *Queue) recoverStaging() error {
	entries, err := os.ReadDir(q.staging)
	if err != nil {
		return fsError(err, "Open", "failed to read staging directory", q.staging)
	}

	for _, entry := range entries {
		path := filepath.Join(q.staging, entry.Name())
		ts, ok := camera.TimestampFromPath(path)
		if !ok || !entry.Type().IsRegular() {
			if err := os.RemoveAll(path); err != nil {
				return fsError(err, "Open", "failed to clear staging entry", path)
			}
			q.logger.Debug("discarded partial capture", "path", path)
			continue
		}

		rec, err := q.EnqueueFile(camera.Record{Timestamp: ts, LocalPath: path})
		switch {
		case err == nil:
			q.logger.Info("recovered staged capture", "timestamp", ts, "path", rec.LocalPath)
		case errors.IsCode(err, errors.ErrCodeEntryExists):
			q.logger.Warn("staged capture duplicates a queue entry, discarding", "timestamp", ts)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fsError(err, "Open", "failed to clear staging entry", path)
			}
		default:
			return err
		}
	}
	return nil
}

// Dir returns the absolute queue directory.
func (q *Queue) Dir() string { return q.dir }

// StagingDir returns the directory cameras should capture into.
func (q *Queue) StagingDir() string { return q.staging }

func (q *Queue) entryPath(ts string) string {
	return filepath.Join(q.dir, camera.FileName(ts))
}

func entryExists(ts, path string) *errors.AgentError {
	return errors.NewError(errors.ErrCodeEntryExists, "a pending capture with this timestamp already exists").
		WithComponent("queue").WithContext("timestamp", ts).WithContext("path", path)
}

// Enqueue stores data as a new pending entry. The write is atomic and never
// replaces an existing entry.
func (q *Queue) Enqueue(data []byte, timestamp, cameraID string) (camera.Record, error) {
	if !camera.IsTimestamp(timestamp) {
		return camera.Record{}, errors.NewError(errors.ErrCodeInvalidState, "malformed capture timestamp").
			WithComponent("queue").WithOperation("Enqueue").WithContext("timestamp", timestamp)
	}

	path, err := camera.WriteImage(q.dir, timestamp, data)
	if err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return camera.Record{}, entryExists(timestamp, q.entryPath(timestamp)).WithOperation("Enqueue")
		}
		return camera.Record{}, fsError(err, "Enqueue", "failed to write queue entry", q.entryPath(timestamp)).
			WithContext("timestamp", timestamp)
	}

	q.logger.Debug("enqueued", "timestamp", timestamp, "bytes", len(data))
	return camera.Record{Timestamp: timestamp, LocalPath: path, CameraID: cameraID}, nil
}

// EnqueueFile moves a capture written elsewhere on the same filesystem into
// the queue. The returned record points at the queue entry.
func (q *Queue) EnqueueFile(rec camera.Record) (camera.Record, error) {
	target := q.entryPath(rec.Timestamp)
	if filepath.Clean(rec.LocalPath) == target {
		return rec, nil
	}

	if _, err := os.Lstat(target); err == nil {
		return camera.Record{}, entryExists(rec.Timestamp, target).WithOperation("EnqueueFile")
	} else if !os.IsNotExist(err) {
		return camera.Record{}, fsError(err, "EnqueueFile", "failed to inspect queue entry", target)
	}

	if err := os.Rename(rec.LocalPath, target); err != nil {
		return camera.Record{}, fsError(err, "EnqueueFile", "failed to move capture into queue", rec.LocalPath).
			WithContext("timestamp", rec.Timestamp)
	}

	rec.LocalPath = target
	return rec, nil
}

// ListPending snapshots the directory and returns the pending entries in
// timestamp order along with their count. Files that are not
// "{timestamp}.jpg" are skipped. Records are tagged with cameraID.
func (q *Queue) ListPending(cameraID string) (iter.Seq[camera.Record], int, error) {
	records, err := q.snapshot(cameraID)
	if err != nil {
		return nil, 0, err
	}

	seq := func(yield func(camera.Record) bool) {
		for _, rec := range records {
			if !yield(rec) {
				return
			}
		}
	}
	return seq, len(records), nil
}

func (q *Queue) snapshot(cameraID string) ([]camera.Record, error) {
	// os.ReadDir sorts by name, and timestamp names sort chronologically.
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fsError(err, "ListPending", "failed to list queue directory", q.dir)
	}

	records := make([]camera.Record, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
			continue
		}
		ts, ok := camera.TimestampFromPath(name)
		if !ok {
			continue
		}
		records = append(records, camera.Record{
			Timestamp: ts,
			LocalPath: filepath.Join(q.dir, name),
			CameraID:  cameraID,
		})
	}
	return records, nil
}

// Remove deletes the entry for rec. Removing an absent entry is not an error.
func (q *Queue) Remove(rec camera.Record) error {
	path := q.entryPath(rec.Timestamp)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fsError(err, "Remove", "failed to remove queue entry", path).
			WithContext("timestamp", rec.Timestamp)
	}
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() (int, error) {
	records, err := q.snapshot("")
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
