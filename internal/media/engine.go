package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roundcast/backend/internal/metrics"
	"github.com/roundcast/backend/internal/models"
)

// Output describes a file produced by the engine. Ownership of Path moves to
// the caller.
type Output struct {
	Path     string
	Size     int
	Duration int
	HasAudio bool
}

// Engine performs the crop, trim and overlay transforms with ffmpeg. Every
// operation consumes its input file: the input is removed once, on success and
// on failure, and a new temp file is returned.
type Engine struct {
	FFmpeg      string
	FFprobe     string
	Run         CommandRunner
	TempDir     string
	MaxDuration time.Duration
	Fonts       *FontSource
	Pool        *Pool
	Logger      *slog.Logger
}

// EngineConfig collects the knobs exposed through configuration.
type EngineConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	FontPath    string
	MaxDuration time.Duration
}

// NewEngine constructs an engine that shells out to ffmpeg and ffprobe.
func NewEngine(cfg EngineConfig, pool *Pool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = models.MaxNoteDuration
	}
	return &Engine{
		FFmpeg:      cfg.FFmpegPath,
		FFprobe:     cfg.FFprobePath,
		Run:         ExecRunner,
		TempDir:     cfg.TempDir,
		MaxDuration: cfg.MaxDuration,
		Fonts:       &FontSource{Path: cfg.FontPath, Logger: logger},
		Pool:        pool,
		Logger:      logger,
	}
}

// SquareCrop trims the clip to maxDuration and crops the centred square of
// edge min(width, height), rounded down to even.
func (e *Engine) SquareCrop(ctx context.Context, path string, maxDuration time.Duration) (Output, error) {
	defer e.discard(path)

	info, err := e.Probe(ctx, path)
	if err != nil {
		return Output{}, err
	}
	return e.squareCrop(ctx, path, info, maxDuration)
}

func (e *Engine) squareCrop(ctx context.Context, path string, info Info, maxDuration time.Duration) (Output, error) {
	if maxDuration <= 0 {
		maxDuration = e.maxDuration()
	}
	duration := info.Duration
	if duration > maxDuration {
		duration = maxDuration
	}

	out := NewTempPath(e.TempDir, ".mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-t", formatSeconds(duration),
		"-map", "0:v:0", "-map", "0:a?",
		"-vf", info.cropFilter(),
	}
	args = append(args, encodeArgs(out)...)

	if err := e.transcode(ctx, "crop", out, args); err != nil {
		return Output{}, err
	}

	return Output{
		Path:     out,
		Size:     info.Edge(),
		Duration: DurationSeconds(duration, maxDuration),
		HasAudio: info.HasAudio,
	}, nil
}

// OverlayText burns text into the clip, cropping it square first when needed.
func (e *Engine) OverlayText(ctx context.Context, path, text string) (Output, error) {
	info, err := e.Probe(ctx, path)
	if err != nil {
		e.discard(path)
		return Output{}, err
	}

	if !info.Square() {
		cropped, err := e.squareCrop(ctx, path, info, e.maxDuration())
		e.discard(path)
		if err != nil {
			return Output{}, err
		}
		path = cropped.Path
		info = Info{Width: cropped.Size, Height: cropped.Size, Duration: time.Duration(cropped.Duration) * time.Second, HasAudio: cropped.HasAudio}
	}
	defer e.discard(path)

	edge := info.Edge()
	face, fallback := e.fonts().Face(edge / 16)
	if fallback {
		e.logger().Warn("rendering overlay with default font", "edge", edge)
	}
	layout := LayoutText(face, edge, text)
	if len(layout.Lines) == 0 {
		return Output{}, fmt.Errorf("%w: overlay text is empty", ErrProcessing)
	}

	var overlayPath string
	err = e.Pool.Do(ctx, func(context.Context) error {
		var renderErr error
		overlayPath, renderErr = writePNG(e.TempDir, RenderOverlay(face, layout))
		return renderErr
	})
	if err != nil {
		return Output{}, wrapProcessing(ctx, "render overlay", err)
	}
	defer e.discard(overlayPath)

	out := NewTempPath(e.TempDir, ".mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-i", overlayPath,
		"-t", formatSeconds(e.capDuration(info.Duration)),
		"-filter_complex", "[0:v][1:v]overlay=(W-w)/2:(H-h)/2[v]",
		"-map", "[v]", "-map", "0:a?",
	}
	args = append(args, encodeArgs(out)...)

	if err := e.transcode(ctx, "overlay", out, args); err != nil {
		return Output{}, err
	}

	return Output{
		Path:     out,
		Size:     edge,
		Duration: DurationSeconds(info.Duration, e.maxDuration()),
		HasAudio: info.HasAudio,
	}, nil
}

// ApplyEffect runs the effect's video filter over the clip.
func (e *Engine) ApplyEffect(ctx context.Context, path string, effect models.Effect) (Output, error) {
	defer e.discard(path)

	filter := effect.Filter()
	if filter == "" {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownEffect, string(effect))
	}

	info, err := e.Probe(ctx, path)
	if err != nil {
		return Output{}, err
	}

	if !info.Square() {
		filter = info.cropFilter() + "," + filter
	}

	out := NewTempPath(e.TempDir, ".mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-t", formatSeconds(e.capDuration(info.Duration)),
		"-map", "0:v:0", "-map", "0:a?",
		"-vf", filter,
	}
	args = append(args, encodeArgs(out)...)

	if err := e.transcode(ctx, "effect", out, args); err != nil {
		return Output{}, err
	}

	return Output{
		Path:     out,
		Size:     info.Edge(),
		Duration: DurationSeconds(info.Duration, e.maxDuration()),
		HasAudio: info.HasAudio,
	}, nil
}

// ReplaceAudio swaps the clip's audio for the given track, cut to the video length.
// Both inputs are consumed.
func (e *Engine) ReplaceAudio(ctx context.Context, videoPath, audioPath string) (Output, error) {
	defer e.discard(videoPath)
	defer e.discard(audioPath)

	info, err := e.Probe(ctx, videoPath)
	if err != nil {
		return Output{}, err
	}

	out := NewTempPath(e.TempDir, ".mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "128k",
		"-shortest",
		"-movflags", "+faststart",
		out,
	}

	if err := e.transcode(ctx, "audio", out, args); err != nil {
		return Output{}, err
	}

	return Output{
		Path:     out,
		Size:     info.Edge(),
		Duration: DurationSeconds(info.Duration, e.maxDuration()),
		HasAudio: true,
	}, nil
}

func (e *Engine) transcode(ctx context.Context, op, out string, args []string) error {
	started := time.Now()
	defer func() {
		metrics.TransformDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	}()

	err := e.Pool.Do(ctx, func(jobCtx context.Context) error {
		_, runErr := e.runner()(jobCtx, e.ffmpeg(), args...)
		return runErr
	})
	if err != nil {
		e.discard(out)
		return wrapProcessing(ctx, "ffmpeg", err)
	}
	return nil
}

func (e *Engine) discard(path string) {
	if err := Remove(path); err != nil {
		e.logger().Warn("failed to remove temp file", "path", path, "error", err)
	}
}

func (e *Engine) runner() CommandRunner {
	if e.Run == nil {
		return ExecRunner
	}
	return e.Run
}

func (e *Engine) ffmpeg() string {
	if strings.TrimSpace(e.FFmpeg) == "" {
		return "ffmpeg"
	}
	return e.FFmpeg
}

func (e *Engine) ffprobe() string {
	if strings.TrimSpace(e.FFprobe) == "" {
		return "ffprobe"
	}
	return e.FFprobe
}

func (e *Engine) maxDuration() time.Duration {
	if e.MaxDuration <= 0 {
		return models.MaxNoteDuration
	}
	return e.MaxDuration
}

func (e *Engine) capDuration(d time.Duration) time.Duration {
	if limit := e.maxDuration(); d > limit || d <= 0 {
		return limit
	}
	return d
}

func (e *Engine) fonts() *FontSource {
	if e.Fonts == nil {
		e.Fonts = &FontSource{Logger: e.logger()}
	}
	return e.Fonts
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func encodeArgs(out string) []string {
	return []string{
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		out,
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func wrapProcessing(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %s: %w: %w", ErrProcessing, op, ctxErr, err)
	}
	if errors.Is(err, ErrProcessing) || errors.Is(err, ErrInvalidMedia) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrProcessing, op, err)
}
