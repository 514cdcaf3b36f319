package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Reader serves archived venue artifacts back out of the bucket, mainly
// settlement reports requested through the API after a proposal closed.
type Reader struct {
	api    *s3.Client
	bucket string
}

// NewReader returns a Reader bound to the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.S3(), bucket: c.Bucket()}
}

// Get opens the object at key. The caller owns the returned body and must
// close it. A missing object maps to domain.ErrNotFound so the API layer
// can answer 404 without knowing about S3.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return out.Body, nil
}

// List walks every object under prefix, following continuation tokens. The
// settlement archive keys reports settlements/<market>/<proposal>.json.gz,
// so a market's full history is one prefix away. ListObjectsV2 carries no
// content type; BlobInfo.ContentType stays empty here.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pager := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})

	var infos []domain.BlobInfo
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := domain.BlobInfo{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Exists reports whether key is present, via HeadObject. The settlement
// sweeper uses this to decide whether a report still needs archiving.
func (r *Reader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	return true, nil
}

// statusCoder is the smithy response-error surface carrying the HTTP status.
type statusCoder interface {
	HTTPStatusCode() int
}

// isMissing classifies an S3 error as "object does not exist". GetObject
// reports *types.NoSuchKey; HeadObject reports a bare 404 that the SDK
// types as *types.NotFound; some S3-compatible stores return only the
// status code, so that is checked last.
func isMissing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	switch {
	case errors.As(err, &noKey):
		return true
	case errors.As(err, &notFound):
		return true
	}

	var coded statusCoder
	return errors.As(err, &coded) && coded.HTTPStatusCode() == 404
}

var _ domain.BlobReader = (*Reader)(nil)
