package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

// GCSSink writes the rendered report HTML to a Cloud Storage bucket.
type GCSSink struct {
	bucket string
	prefix string

	client    *storage.Client
	newWriter func(ctx context.Context, bucket, object string) io.WriteCloser
}

var _ Sink = (*GCSSink)(nil)

// NewGCSSink creates a storage client using Application Default Credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s := &GCSSink{bucket: bucket, prefix: prefix, client: client}
	s.newWriter = func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "text/html; charset=utf-8"
		return w
	}
	return s, nil
}

// Close closes the storage client.
func (s *GCSSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *GCSSink) Put(ctx context.Context, report *domain.MonthlyReport, html string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	object := ObjectName(s.prefix, report)
	w := s.newWriter(ctx, s.bucket, object)

	if _, err := io.Copy(w, strings.NewReader(html)); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy report to GCS writer: %w", err)
	}

	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload of %s: %w", URI(s.bucket, object), err)
	}
	return nil
}

// ObjectName is the object path of a report: <prefix>/<user id>/<yyyy-mm>.html.
func ObjectName(prefix string, report *domain.MonthlyReport) string {
	p := report.Stats.Period
	return path.Join(prefix, report.User.ID, fmt.Sprintf("%04d-%02d.html", p.Year, int(p.Month)))
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}
