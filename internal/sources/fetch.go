package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roundcast/backend/internal/media"
)

var (
	// ErrFetch indicates a remote download failed or returned an unusable payload.
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidURL indicates the URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
)

var validate = validator.New()

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if err := validate.Var(raw, "required,url"); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed, nil
}

// Fetcher downloads videos from URLs. Direct video responses are streamed to
// disk; anything else is handed to yt-dlp when it is configured.
type Fetcher struct {
	Client   *http.Client
	YTDLP    *YTDLPDownloader
	TempDir  string
	MaxBytes int64
	Logger   *slog.Logger
}

// NewFetcher constructs a Fetcher with a bounded HTTP client.
func NewFetcher(ytdlp *YTDLPDownloader, tempDir string, maxBytes int64, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		Client:   &http.Client{Timeout: 2 * time.Minute},
		YTDLP:    ytdlp,
		TempDir:  tempDir,
		MaxBytes: maxBytes,
		Logger:   logger,
	}
}

// Download fetches rawURL into a temp file owned by the caller.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (string, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return "", err
	}

	resp, err := f.get(ctx, target.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if isVideoPayload(resp.Header.Get("Content-Type")) {
		return saveBody(resp.Body, f.TempDir, extensionFor(resp.Header.Get("Content-Type")), f.MaxBytes)
	}

	if f.YTDLP == nil {
		return "", fmt.Errorf("%w: %s did not return a video (content type %q)", ErrFetch, target.Host, resp.Header.Get("Content-Type"))
	}
	f.Logger.DebugContext(ctx, "falling back to yt-dlp", "host", target.Host)
	return f.YTDLP.Download(ctx, target.String(), f.TempDir)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	return httpGet(ctx, f.client(), rawURL)
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

func httpGet(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}
	return resp, nil
}

func isVideoPayload(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/") || mediaType == "application/octet-stream"
}

func extensionFor(contentType string) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ".mp4"
	}
}

// saveBody streams body into a temp file, failing once more than maxBytes arrive.
func saveBody(body io.Reader, dir, suffix string, maxBytes int64) (string, error) {
	out := media.NewTempPath(dir, suffix)
	file, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	reader := body
	if maxBytes > 0 {
		reader = io.LimitReader(body, maxBytes+1)
	}
	n, err := io.Copy(file, reader)
	closeErr := file.Close()
	switch {
	case err != nil:
		_ = media.Remove(out)
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	case closeErr != nil:
		_ = media.Remove(out)
		return "", fmt.Errorf("close download file: %w", closeErr)
	case maxBytes > 0 && n > maxBytes:
		_ = media.Remove(out)
		return "", fmt.Errorf("%w: payload exceeds %d bytes", ErrFetch, maxBytes)
	case n == 0:
		_ = media.Remove(out)
		return "", fmt.Errorf("%w: empty payload", ErrFetch)
	}
	return out, nil
}
