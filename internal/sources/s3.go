package sources

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roundcast/backend/internal/media"
)

// ObjectStore is the object storage surface used by S3Archive. *storage.S3Storage satisfies it.
type ObjectStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
	Delete(ctx context.Context, key string) error
}

// S3Archive stores sources in object storage.
type S3Archive struct {
	Store   ObjectStore
	TempDir string
}

// Scheme implements Archive.
func (a *S3Archive) Scheme() string { return SchemeS3 }

// Save uploads r and returns the object key.
func (a *S3Archive) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	return a.Store.Save(ctx, name, r)
}

// Open downloads the object into a fresh temp file.
func (a *S3Archive) Open(ctx context.Context, key string) (string, error) {
	out := media.NewTempPath(a.TempDir, filepath.Ext(key))
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("s3 archive: %w", err)
	}
	if _, err := a.Store.Download(ctx, key, f); err != nil {
		_ = f.Close()
		_ = media.Remove(out)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = media.Remove(out)
		return "", fmt.Errorf("s3 archive: %w", err)
	}
	return out, nil
}

// Delete removes the object.
func (a *S3Archive) Delete(ctx context.Context, key string) error {
	return a.Store.Delete(ctx, key)
}
