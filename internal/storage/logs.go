package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// LogStorage archives captured step output as zstd-compressed files.
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveLog writes output for step index of a run and returns the file path.
// Files live under <BaseDir>/<run>/ so concurrent runs never collide.
func (ls *LogStorage) SaveLog(runID string, index int, label, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%02d_%s.log.zst", index, sanitize(label)))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return "", err
	}
	if _, err := io.WriteString(enc, output); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return "", fmt.Errorf("compressing log: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("compressing log: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// ReadLog returns the decompressed content of a saved log.
func ReadLog(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return "", err
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	return string(data), nil
}

// sanitize keeps letters, digits, '-' and '_', mapping spaces to '-'.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_':
			clean = append(clean, r)
		case r == ' ':
			clean = append(clean, '-')
		}
	}
	if len(clean) == 0 {
		return "step"
	}
	return string(clean)
}
