package media

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	strokeWidth  = 2
	linePadding  = 5
	textMaxRatio = 0.8
)

// FontSource loads the bundled overlay font once and hands out sized faces.
// When the font cannot be loaded every face falls back to basicfont.Face7x13.
type FontSource struct {
	Path   string
	Logger *slog.Logger

	once sync.Once
	font *opentype.Font
}

// Face returns a face of the requested pixel size and whether it is the fallback.
func (f *FontSource) Face(size int) (font.Face, bool) {
	f.once.Do(f.load)
	if f.font == nil || size <= 0 {
		return basicfont.Face7x13, true
	}
	face, err := opentype.NewFace(f.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		f.logger().Warn("could not size overlay font, using default font", "size", size, "error", err)
		return basicfont.Face7x13, true
	}
	return face, false
}

func (f *FontSource) load() {
	if f.Path == "" {
		f.logger().Warn("no overlay font configured, using default font")
		return
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		f.logger().Warn("could not load overlay font, using default font", "path", f.Path, "error", err)
		return
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		f.logger().Warn("could not parse overlay font, using default font", "path", f.Path, "error", err)
		return
	}
	f.font = parsed
}

func (f *FontSource) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// FaceMeasurer adapts a font face to a Measurer.
func FaceMeasurer(face font.Face) Measurer {
	return func(s string) int {
		return font.MeasureString(face, s).Ceil()
	}
}

// OverlayLayout describes how text is placed on a square frame of Edge pixels.
type OverlayLayout struct {
	Edge     int
	FontSize int
	MaxWidth int
	Lines    []string
}

// Height is the canvas height: one row of FontSize+5 pixels per line.
func (l OverlayLayout) Height() int {
	return len(l.Lines) * (l.FontSize + linePadding)
}

// LayoutText computes font size, wrap width and lines for text on a square frame.
func LayoutText(face font.Face, edge int, text string) OverlayLayout {
	layout := OverlayLayout{
		Edge:     edge,
		FontSize: edge / 16,
		MaxWidth: int(float64(edge) * textMaxRatio),
	}
	layout.Lines = WrapText(FaceMeasurer(face), text, layout.MaxWidth)
	return layout
}

// RenderOverlay draws the laid-out lines centred on a transparent canvas with
// white fill and a black stroke.
func RenderOverlay(face font.Face, layout OverlayLayout) *image.RGBA {
	width := layout.MaxWidth
	if width <= 0 {
		width = 1
	}
	height := layout.Height()
	if height <= 0 {
		height = 1
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))

	ascent := face.Metrics().Ascent.Ceil()
	black := image.NewUniform(color.Black)
	white := image.NewUniform(color.White)

	y := 0
	for _, line := range layout.Lines {
		lineWidth := font.MeasureString(face, line).Ceil()
		x := (width - lineWidth) / 2
		baseline := y + ascent

		for dx := -strokeWidth; dx <= strokeWidth; dx++ {
			for dy := -strokeWidth; dy <= strokeWidth; dy++ {
				if dx == 0 && dy == 0 || dx*dx+dy*dy > strokeWidth*strokeWidth+1 {
					continue
				}
				drawString(canvas, face, black, x+dx, baseline+dy, line)
			}
		}
		drawString(canvas, face, white, x, baseline, line)
		y += layout.FontSize + linePadding
	}
	return canvas
}

func drawString(dst *image.RGBA, face font.Face, src image.Image, x, y int, s string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// writePNG encodes img to a new temp file and returns its path.
func writePNG(dir string, img image.Image) (string, error) {
	path := NewTempPath(dir, ".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create overlay image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = Remove(path)
		return "", fmt.Errorf("encode overlay image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = Remove(path)
		return "", fmt.Errorf("close overlay image: %w", err)
	}
	return path, nil
}
