package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object, as returned by BlobReader.List.
// The settlement API serves these directly when a market's reports are
// listed.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter is the venue's upload surface for object storage. Settlement
// reports go through Put; retention sweeps stream their row batches through
// PutMultipart, with an empty contentType on Put inferred from the path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archived objects back. Get reports ErrNotFound for a
// missing path, so handlers can answer 404 without knowing the backend.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver sweeps rows older than the cutoff into cold storage, one method
// per retained table. Each returns the number of rows uploaded; deleting
// the swept rows is a separate, later step.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveArbHistory(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
