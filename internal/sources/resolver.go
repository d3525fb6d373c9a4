package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Resolver turns source handles into local files and archives new footage.
type Resolver struct {
	archive Archive
	openers map[string]Opener
	logger  *slog.Logger
}

// NewResolver wires the archive and the platform file opener.
func NewResolver(archive Archive, platform Opener, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{archive: archive, openers: make(map[string]Opener), logger: logger}
	if archive != nil {
		r.openers[archive.Scheme()] = archive
	}
	if platform != nil {
		r.openers[SchemeTelegram] = platform
	}
	return r
}

// Register adds an opener for scheme.
func (r *Resolver) Register(scheme string, opener Opener) {
	r.openers[scheme] = opener
}

// Open materialises handle as a temp file owned by the caller.
func (r *Resolver) Open(ctx context.Context, handle string) (string, error) {
	scheme, ref, err := ParseHandle(handle)
	if err != nil {
		return "", err
	}
	opener, ok := r.openers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
	return opener.Open(ctx, ref)
}

// Keep archives a copy of the local file at path under a fresh name and returns its handle.
// The file at path is left in place.
func (r *Resolver) Keep(ctx context.Context, ownerID int64, path string) (string, error) {
	if r.archive == nil {
		return "", errors.New("no source archive configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	name := fmt.Sprintf("%d/%s%s", ownerID, uuid.NewString(), filepath.Ext(path))
	ref, err := r.archive.Save(ctx, name, f)
	if err != nil {
		return "", err
	}
	return Handle(r.archive.Scheme(), ref), nil
}

// Discard removes archived footage. Platform handles are left alone; failures are logged.
func (r *Resolver) Discard(ctx context.Context, handle string) {
	scheme, ref, err := ParseHandle(handle)
	if err != nil || r.archive == nil || scheme != r.archive.Scheme() {
		return
	}
	if err := r.archive.Delete(ctx, ref); err != nil {
		r.logger.WarnContext(ctx, "failed to discard source", "handle", handle, "error", err)
	}
}
