package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/metrics"
)

// PreviewKey identifies a rendered preview by its source and transform parameters.
type PreviewKey struct {
	Source string
	Text   string
	Effect string
}

// String returns a compact, stable cache key.
func (k PreviewKey) String() string {
	sum := sha256.Sum256([]byte(k.Source + "\x00" + k.Text + "\x00" + k.Effect))
	return hex.EncodeToString(sum[:16])
}

// RenderFunc produces a local preview file. The publisher removes Media.Path once published.
type RenderFunc func(ctx context.Context) (Media, error)

// Preview returns a cached animation handle for key or renders, publishes and
// caches a new one. Previews are always minted as animations so they can be
// offered as inline results. The relay message is retracted right away; the
// minted handle stays replayable.
func (p *Publisher) Preview(ctx context.Context, key PreviewKey, render RenderFunc) (string, error) {
	cacheKey := key.String()

	if p.cache != nil {
		handle, ok, err := p.cache.Get(ctx, cacheKey)
		if err != nil {
			p.logger.WarnContext(ctx, "preview cache lookup failed", "error", err)
		} else if ok {
			metrics.PreviewCacheTotal.WithLabelValues("hit").Inc()
			return handle, nil
		}
	}
	metrics.PreviewCacheTotal.WithLabelValues("miss").Inc()

	m, err := render(ctx)
	if err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	defer func() {
		if err := media.Remove(m.Path); err != nil {
			p.logger.WarnContext(ctx, "failed to remove preview file", "path", m.Path, "error", err)
		}
	}()

	m.Format = FormatAnimation
	receipt, err := p.Publish(ctx, m)
	if err != nil {
		return "", err
	}
	p.Retract(ctx, receipt.MessageID)

	if p.cache != nil {
		if err := p.cache.Set(ctx, cacheKey, receipt.Handle); err != nil {
			p.logger.WarnContext(ctx, "preview cache store failed", "error", err)
		}
	}
	return receipt.Handle, nil
}
