package sources

import (
	"context"
	"fmt"
	"net/http"
	"path"
)

// FileLinker resolves platform file ids to download URLs. *tgbotapi.BotAPI satisfies it.
type FileLinker interface {
	GetFileDirectURL(fileID string) (string, error)
}

// PlatformFiles opens tg: handles by downloading through the Bot API file endpoint.
type PlatformFiles struct {
	Bot      FileLinker
	Client   *http.Client
	TempDir  string
	MaxBytes int64
}

// Open downloads the platform file into a temp file.
func (p *PlatformFiles) Open(ctx context.Context, fileID string) (string, error) {
	if p.Bot == nil {
		return "", fmt.Errorf("%w: platform files unavailable", ErrFetch)
	}
	link, err := p.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve file %s: %w", ErrFetch, fileID, err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httpGet(ctx, client, link)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	suffix := path.Ext(resp.Request.URL.Path)
	if suffix == "" {
		suffix = ".mp4"
	}
	return saveBody(resp.Body, p.TempDir, suffix, p.MaxBytes)
}
