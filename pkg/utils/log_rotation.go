package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	// Filename is the file to write logs to
	Filename string

	// MaxSizeMB is the size in megabytes that triggers rotation (0 = never rotate)
	MaxSizeMB int64

	// MaxBackups is the number of rotated files to retain (0 = retain all)
	MaxBackups int

	// Compress gzips rotated files
	Compress bool
}

// LogRotator is an io.Writer that rotates its file once it grows past MaxSizeMB.
// Edge devices log to small SD cards, so rotated files are capped by count.
type LogRotator struct {
	mu sync.Mutex

	config *RotationConfig
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewLogRotator creates a new log rotator
func NewLogRotator(config *RotationConfig) (*LogRotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	rotator := &LogRotator{
		config: config,
		now:    time.Now,
	}

	if err := rotator.openFile(); err != nil {
		return nil, err
	}

	return rotator, nil
}

// Write implements io.Writer
func (lr *LogRotator) Write(p []byte) (n int, err error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return 0, os.ErrClosed
	}

	if lr.shouldRotate(int64(len(p))) {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err = lr.file.Write(p)
	lr.size += int64(n)

	return n, err
}

// Close closes the log file
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file != nil {
		err := lr.file.Close()
		lr.file = nil
		return err
	}
	return nil
}

// Rotate forces an immediate rotation
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

func (lr *LogRotator) shouldRotate(writeSize int64) bool {
	if lr.config.MaxSizeMB <= 0 || lr.size == 0 {
		return false
	}
	return lr.size+writeSize > lr.config.MaxSizeMB*1024*1024
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		lr.file = nil
	}

	backupName := lr.nextBackupName()
	if err := os.Rename(lr.config.Filename, backupName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	// Compression and cleanup failures must not stop logging.
	if lr.config.Compress {
		if err := compressFile(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress log file %s: %v\n", backupName, err)
		}
	}
	if err := lr.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clean up old log backups: %v\n", err)
	}

	return lr.openFile()
}

func (lr *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	lr.file = file
	lr.size = info.Size()
	return nil
}

func (lr *LogRotator) nameParts() (dir, prefix, ext string) {
	dir = filepath.Dir(lr.config.Filename)
	base := filepath.Base(lr.config.Filename)
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	return dir, prefix, ext
}

// nextBackupName returns "<prefix>-<UTC timestamp>[.<n>]<ext>", adding a
// counter when several rotations happen within the same second.
func (lr *LogRotator) nextBackupName() string {
	dir, prefix, ext := lr.nameParts()
	stamp := lr.now().UTC().Format("2006-01-02T15-04-05")

	name := filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, stamp, ext))
	for i := 1; exists(name) || exists(name+".gz"); i++ {
		name = filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", prefix, stamp, i, ext))
	}
	return name
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = gz.Close()
		_ = dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}

func (lr *LogRotator) cleanupOldBackups() error {
	if lr.config.MaxBackups <= 0 {
		return nil
	}

	backups, err := lr.backupFiles()
	if err != nil {
		return err
	}
	if len(backups) <= lr.config.MaxBackups {
		return nil
	}

	// Names embed a sortable timestamp; oldest first.
	sort.Strings(backups)
	dir, _, _ := lr.nameParts()
	for _, name := range backups[:len(backups)-lr.config.MaxBackups] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (lr *LogRotator) backupFiles() ([]string, error) {
	dir, prefix, ext := lr.nameParts()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	current := filepath.Base(lr.config.Filename)
	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if name == current || entry.IsDir() || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if strings.HasSuffix(name, ext) || strings.HasSuffix(name, ext+".gz") {
			backups = append(backups, name)
		}
	}
	return backups, nil
}
