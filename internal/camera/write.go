package camera

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// IsJPEG reports whether data starts with a JPEG start-of-image marker.
func IsJPEG(data []byte) bool {
	return bytes.HasPrefix(data, jpegSOI)
}

const partSuffix = ".part"

// IsPartialName reports whether name is a temporary file left by an
// interrupted WriteImage.
func IsPartialName(name string) bool {
	rest, ok := strings.CutPrefix(name, ".")
	if !ok || !strings.HasSuffix(rest, partSuffix) || len(rest) <= len(TimestampLayout) {
		return false
	}
	return rest[len(TimestampLayout)] == '-' && IsTimestamp(rest[:len(TimestampLayout)])
}

// WriteImage stores data as dir/{timestamp}.jpg. The bytes go to a hidden
// temporary file that is synced and renamed into place, so a crash never
// leaves a truncated .jpg behind. An existing file is never replaced; the
// directory is assumed to have a single writer.
func WriteImage(dir, timestamp string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image")
	}

	final := filepath.Join(dir, FileName(timestamp))
	if _, err := os.Lstat(final); err == nil {
		return "", fmt.Errorf("%s: %w", final, fs.ErrExist)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "."+timestamp+"-*"+partSuffix)
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", err
	}

	if err := os.Rename(tmpName, final); err != nil {
		return "", err
	}
	committed = true

	return final, nil
}
