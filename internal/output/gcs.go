package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSink writes chapters as objects under gs://bucket/prefix.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
	format Format

	mu  sync.Mutex
	log bytes.Buffer
}

// ParseGCSURL splits gs://bucket/prefix.
func ParseGCSURL(u string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(u, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URL: %q", u)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", u)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewGCSSink opens the bucket and loads an existing error log so that a
// resumed run appends to it.
func NewGCSSink(ctx context.Context, url string, format Format, opts ...option.ClientOption) (*GCSSink, error) {
	bucket, prefix, err := ParseGCSURL(url)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	s := &GCSSink{client: client, bucket: bucket, prefix: prefix, format: format}

	r, err := s.object(ErrorLogName).NewReader(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
	case err != nil:
		client.Close()
		return nil, fmt.Errorf("failed to read error log: %w", err)
	default:
		_, err = io.Copy(&s.log, r)
		r.Close()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to read error log: %w", err)
		}
	}
	return s, nil
}

func (s *GCSSink) name(file string) string {
	if s.prefix == "" {
		return file
	}
	return path.Join(s.prefix, file)
}

func (s *GCSSink) object(file string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.name(file))
}

func (s *GCSSink) location(file string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.name(file))
}

func contentType(f Format) string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func (s *GCSSink) put(ctx context.Context, file, ctype string, data []byte) error {
	w := s.object(file).NewWriter(ctx)
	w.ContentType = ctype
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", s.location(file), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", s.location(file), err)
	}
	return nil
}

// WriteChapter uploads the chapter. GCS object writes are atomic: readers
// see the old object until Close succeeds.
func (s *GCSSink) WriteChapter(ctx context.Context, ch ChapterFile) (string, error) {
	file := FileName(ch.Index, s.format)
	if err := s.put(ctx, file, contentType(s.format), Render(ch, s.format)); err != nil {
		return "", err
	}
	return s.location(file), nil
}

// AppendFailure rewrites the error log object with the new line added;
// objects cannot be appended to in place.
func (s *GCSSink) AppendFailure(ctx context.Context, f Failure) error {
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Write(line)
	s.log.WriteByte('\n')
	return s.put(ctx, ErrorLogName, "application/x-ndjson", s.log.Bytes())
}

func (s *GCSSink) ErrorLogLocation() string { return s.location(ErrorLogName) }

func (s *GCSSink) Close() error { return s.client.Close() }

// Open returns a GCSSink for gs:// destinations and a DirSink otherwise.
func Open(ctx context.Context, dest string, format Format, opts ...option.ClientOption) (Sink, error) {
	if strings.HasPrefix(dest, "gs://") {
		return NewGCSSink(ctx, dest, format, opts...)
	}
	return NewDirSink(dest, format)
}
