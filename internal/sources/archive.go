package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roundcast/backend/internal/media"
)

// Opener materialises a source reference as a local temp file owned by the caller.
type Opener interface {
	Open(ctx context.Context, ref string) (string, error)
}

// Archive keeps original footage so artifacts can be re-derived later.
type Archive interface {
	Opener
	Scheme() string
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// LocalArchive stores sources in a directory on disk.
type LocalArchive struct {
	Dir     string
	TempDir string
}

// NewLocalArchive creates dir if needed.
func NewLocalArchive(dir, tempDir string) (*LocalArchive, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("local archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalArchive{Dir: dir, TempDir: tempDir}, nil
}

// Scheme implements Archive.
func (a *LocalArchive) Scheme() string { return SchemeFile }

// Save copies r into the archive under name and returns the reference.
func (a *LocalArchive) Save(_ context.Context, name string, r io.Reader) (string, error) {
	ref, err := cleanRef(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(a.Dir, ref)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("local archive: %w", err)
	}
	if err := writeFile(dst, r); err != nil {
		return "", fmt.Errorf("local archive save %s: %w", ref, err)
	}
	return ref, nil
}

// Open copies the archived file to a fresh temp path.
func (a *LocalArchive) Open(_ context.Context, ref string) (string, error) {
	ref, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	src, err := os.Open(filepath.Join(a.Dir, ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceMissing, ref)
		}
		return "", fmt.Errorf("local archive open %s: %w", ref, err)
	}
	defer src.Close()

	out := media.NewTempPath(a.TempDir, filepath.Ext(ref))
	if err := writeFile(out, src); err != nil {
		return "", fmt.Errorf("local archive copy %s: %w", ref, err)
	}
	return out, nil
}

// Delete removes the archived file.
func (a *LocalArchive) Delete(_ context.Context, ref string) error {
	ref, err := cleanRef(ref)
	if err != nil {
		return err
	}
	return media.Remove(filepath.Join(a.Dir, ref))
}

// cleanRef rejects references that would escape the archive directory.
func cleanRef(ref string) (string, error) {
	cleaned := filepath.Clean(strings.TrimLeft(ref, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive reference %q", ref)
	}
	return cleaned, nil
}

// writeFile streams r into path, removing the partial file on failure.
func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = media.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = media.Remove(path)
		return err
	}
	return nil
}
