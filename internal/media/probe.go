package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Info summarises the properties of a clip that the engine cares about.
type Info struct {
	Width    int
	Height   int
	Duration time.Duration
	HasAudio bool
}

// Square reports whether the clip already has a 1:1 frame that the encoder
// accepts as is.
func (i Info) Square() bool {
	return i.Width > 0 && i.Width == i.Height && i.Width%2 == 0
}

// Edge returns the shorter frame dimension rounded down to even, since
// libx264 with yuv420p rejects odd sizes.
func (i Info) Edge() int {
	edge := i.Width
	if i.Height < edge {
		edge = i.Height
	}
	return edge &^ 1
}

// cropFilter returns the centred square crop for the clip.
func (i Info) cropFilter() string {
	edge := i.Edge()
	return fmt.Sprintf("crop=%d:%d:%d:%d", edge, edge, (i.Width-edge)/2, (i.Height-edge)/2)
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a local file with ffprobe.
func (e *Engine) Probe(ctx context.Context, path string) (Info, error) {
	if strings.TrimSpace(path) == "" {
		return Info{}, fmt.Errorf("%w: empty path", ErrInvalidMedia)
	}

	out, err := e.runner()(ctx, e.ffprobe(), "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Info{}, wrapProcessing(ctx, "ffprobe", err)
	}

	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return Info{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrProcessing, err)
	}

	var info Info
	streamDuration := 0.0
	for _, stream := range result.Streams {
		switch strings.ToLower(stream.CodecType) {
		case "video":
			if info.Width == 0 {
				info.Width = stream.Width
				info.Height = stream.Height
				streamDuration = parseSeconds(stream.Duration)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, ErrInvalidMedia
	}

	seconds := parseSeconds(result.Format.Duration)
	if seconds <= 0 {
		seconds = streamDuration
	}
	info.Duration = time.Duration(seconds * float64(time.Second))
	return info, nil
}

// DurationSeconds rounds a clip duration up to whole seconds, never exceeding limit when limit > 0.
func DurationSeconds(d, limit time.Duration) int {
	if limit > 0 && d > limit {
		d = limit
	}
	seconds := int(math.Ceil(d.Seconds()))
	if limit > 0 && seconds > int(limit/time.Second) {
		seconds = int(limit / time.Second)
	}
	return seconds
}

func parseSeconds(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}
