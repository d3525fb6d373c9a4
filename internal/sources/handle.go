package sources

import (
	"errors"
	"fmt"
	"strings"
)

// Source handle schemes.
const (
	SchemeTelegram = "tg"
	SchemeFile     = "file"
	SchemeS3       = "s3"
	SchemeStock    = "stock"
)

var (
	// ErrUnknownScheme indicates a source handle no opener is registered for.
	ErrUnknownScheme = errors.New("unknown source handle scheme")
	// ErrSourceMissing indicates the referenced source no longer exists.
	ErrSourceMissing = errors.New("source not found")
)

// Handle joins a scheme and reference into an opaque source handle.
func Handle(scheme, ref string) string {
	return scheme + ":" + ref
}

// ParseHandle splits a source handle into scheme and reference.
func ParseHandle(handle string) (string, string, error) {
	scheme, ref, ok := strings.Cut(strings.TrimSpace(handle), ":")
	if !ok || scheme == "" || ref == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownScheme, handle)
	}
	return scheme, ref, nil
}
