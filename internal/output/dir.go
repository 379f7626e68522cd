package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DirSink writes chapters into a local directory.
type DirSink struct {
	dir    string
	format Format
	mu     sync.Mutex
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string, format Format) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &DirSink{dir: dir, format: format}, nil
}

// WriteChapter writes through a temporary file and renames it into place,
// so a crash never leaves a half-written chapter.
func (s *DirSink) WriteChapter(ctx context.Context, ch ChapterFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, FileName(ch.Index, s.format))

	tmp, err := os.CreateTemp(s.dir, ".chapter-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(Render(ch, s.format)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return path, nil
}

func (s *DirSink) AppendFailure(ctx context.Context, f Failure) error {
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.ErrorLogLocation(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return file.Close()
}

func (s *DirSink) ErrorLogLocation() string {
	return filepath.Join(s.dir, ErrorLogName)
}

func (s *DirSink) Close() error { return nil }
