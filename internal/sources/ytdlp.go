package sources

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roundcast/backend/internal/media"
)

// YTDLPDownloader downloads videos from hosting sites using the yt-dlp CLI tool.
type YTDLPDownloader struct {
	Binary   string
	Args     []string
	Run      media.CommandRunner
	Timeout  time.Duration
	MaxBytes int64
}

// NewYTDLPDownloader constructs a downloader that shells out to yt-dlp.
func NewYTDLPDownloader(binary string, timeout time.Duration, maxBytes int64) *YTDLPDownloader {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &YTDLPDownloader{
		Binary:   binary,
		Args:     []string{"--no-warnings", "--no-playlist", "--quiet", "-f", "mp4/bestvideo[ext=mp4]+bestaudio/best", "--merge-output-format", "mp4"},
		Run:      media.ExecRunner,
		Timeout:  timeout,
		MaxBytes: maxBytes,
	}
}

// Download executes yt-dlp for url and returns the downloaded temp file.
func (d *YTDLPDownloader) Download(ctx context.Context, url, dir string) (string, error) {
	if d.Run == nil {
		d.Run = media.ExecRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	out := media.NewTempPath(dir, ".mp4")
	args := append([]string{}, d.Args...)
	if d.MaxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(d.MaxBytes, 10))
	}
	args = append(args, "-o", out, "--", url)

	if _, err := d.Run(execCtx, d.Binary, args...); err != nil {
		_ = media.Remove(out)
		return "", fmt.Errorf("%w: yt-dlp: %w", ErrFetch, err)
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		_ = media.Remove(out)
		return "", fmt.Errorf("%w: yt-dlp produced no file", ErrFetch)
	}
	return out, nil
}
