package storage

import (
	"context"
	"io"
	"time"
)

type UploadResult struct {
	Key  string
	ETag string
}

// ArchiveStore keeps generated personal-data archives and hands out
// short-lived download links for them.
type ArchiveStore interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
