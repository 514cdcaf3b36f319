package s3blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// multipartMinPart is the smallest part size S3 accepts for multipart
// uploads. Requests below it are clamped up.
const multipartMinPart int64 = 5 * 1024 * 1024

// Writer uploads venue artifacts (settlement reports, retention-sweep
// batches) to the configured bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

// NewWriter returns a Writer bound to the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.S3(), bucket: c.Bucket()}
}

// Put stores the object in a single request. Settlement reports are a few
// kilobytes, so this is the common path; use PutMultipart for sweep batches
// of unknown size. An empty contentType is inferred from the key.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}

	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams the object through the upload manager, which splits
// it into parts and uploads the parts concurrently. Retention sweeps use
// this for their row batches because a batch's size is unknown until the
// rows are encoded. partSize below the S3 minimum is clamped.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	if partSize < multipartMinPart {
		partSize = multipartMinPart
	}

	up := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	_, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentTypeForKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}

// contentTypeForKey maps the venue's object key conventions to a MIME type.
// Settlement reports end in .json.gz, sweep batches in .jsonl.
func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".json.gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".jsonl"), strings.HasSuffix(key, ".ndjson"):
		return "application/x-ndjson"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

var _ domain.BlobWriter = (*Writer)(nil)
