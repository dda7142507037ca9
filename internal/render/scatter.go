// Package render provides scatter plot rendering using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/geocell/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width       int
	Height      int
	PointRadius float64
	Margin      float64
	Palette     string
	// Opacity of every mark, 0-1.
	Opacity     float64
}

// DefaultConfig returns an 800x500 canvas with Vega-Lite's default palette.
func DefaultConfig() Config {
	return Config{
		Width:       800,
		Height:      500,
		PointRadius: 3,
		Margin:      10,
		Palette:     "tableau10",
		Opacity:     0.7,
	}
}

// Point is one mark. Category indexes the palette; Highlighted marks are drawn
// in their category color on top of the others, which are drawn gray.
type Point struct {
	X           float64
	Y           float64
	Category    int
	Highlighted bool
}

// Bounds is the data extent mapped onto the canvas.
type Bounds struct {
	MinX, MaxX, MinY, MaxY float64
}

// LegendEntry pairs a category label with its plot color.
type LegendEntry struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// Renderer renders scatter plots to PNG.
type Renderer struct {
	config      Config
	palette     colormap.Palette
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewRenderer creates a new renderer. An unknown palette name is an error.
func NewRenderer(cfg Config) (*Renderer, error) {
	palette, ok := colormap.ByName(cfg.Palette)
	if !ok {
		return nil, fmt.Errorf("unknown palette %q (available: %v)", cfg.Palette, colormap.Names())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid plot size %dx%d", cfg.Width, cfg.Height)
	}

	return &Renderer{
		config:  cfg,
		palette: palette,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}, nil
}

// Config returns the renderer configuration.
func (r *Renderer) Config() Config {
	return r.config
}

// Legend returns the color of each label; labels[i] has category i.
func (r *Renderer) Legend(labels []string) []LegendEntry {
	out := make([]LegendEntry, len(labels))
	for i, l := range labels {
		out[i] = LegendEntry{Label: l, Color: colormap.Hex(r.palette.AtIndex(i))}
	}
	return out
}

// Scatter draws points into b. With flipY the smallest Y is at the top, which
// matches image coordinates of tissue scans.
func (r *Renderer) Scatter(points []Point, b Bounds, flipY bool) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	project := r.projection(b, flipY)
	alpha := uint8(math.Round(clamp(r.config.Opacity, 0, 1) * 255))

	// Gray marks first so highlighted ones stay visible.
	gray := withAlpha(colormap.Unselected, alpha)
	dc.SetColor(gray)
	for _, p := range points {
		if p.Highlighted || math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		x, y := project(p.X, p.Y)
		dc.DrawCircle(x, y, r.config.PointRadius)
	}
	dc.Fill()

	for _, p := range points {
		if !p.Highlighted || math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		x, y := project(p.X, p.Y)
		dc.SetColor(withAlpha(r.palette.AtIndex(p.Category), alpha))
		dc.DrawCircle(x, y, r.config.PointRadius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *Renderer) projection(b Bounds, flipY bool) func(x, y float64) (float64, float64) {
	m := r.config.Margin
	w := float64(r.config.Width) - 2*m
	h := float64(r.config.Height) - 2*m

	spanX := b.MaxX - b.MinX
	if spanX == 0 {
		spanX = 1
	}
	spanY := b.MaxY - b.MinY
	if spanY == 0 {
		spanY = 1
	}

	return func(x, y float64) (float64, float64) {
		px := m + (x-b.MinX)/spanX*w
		fy := (y - b.MinY) / spanY
		if !flipY {
			// Image Y grows downward; keep larger data Y at the top.
			fy = 1 - fy
		}
		return px, m + fy*h
	}
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
