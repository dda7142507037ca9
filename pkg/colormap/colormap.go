// Package colormap provides color schemes for categorical scatter plots.
package colormap

import (
	"image/color"
	"sort"
)

// Palette maps category indices to colors.
type Palette interface {
	AtIndex(i int) color.RGBA
	Len() int
}

// CategoricalPalette is a fixed list of distinct colors that wraps around.
type CategoricalPalette struct {
	colors []color.RGBA
}

// AtIndex returns color at index i (wraps around). Negative indices map to
// Unselected.
func (c CategoricalPalette) AtIndex(i int) color.RGBA {
	if i < 0 {
		return Unselected
	}
	return c.colors[i%len(c.colors)]
}

// Len returns the number of distinct colors.
func (c CategoricalPalette) Len() int {
	return len(c.colors)
}

// Unselected is the CSS "lightgray" used for marks outside the highlight.
var Unselected = color.RGBA{211, 211, 211, 255}

// Tableau10 is the default Vega-Lite nominal scheme.
var Tableau10 = CategoricalPalette{
	colors: []color.RGBA{
		{76, 120, 168, 255},
		{245, 133, 24, 255},
		{228, 87, 86, 255},
		{114, 183, 178, 255},
		{84, 162, 75, 255},
		{238, 202, 59, 255},
		{178, 121, 162, 255},
		{255, 157, 166, 255},
		{157, 117, 93, 255},
		{186, 176, 172, 255},
	},
}

// Category20 has 20 distinct colors for datasets with many clusters.
var Category20 = CategoricalPalette{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
		{174, 199, 232, 255}, // Light blue
		{255, 187, 120, 255}, // Light orange
		{152, 223, 138, 255}, // Light green
		{255, 152, 150, 255}, // Light red
		{197, 176, 213, 255}, // Light purple
		{196, 156, 148, 255}, // Light brown
		{247, 182, 210, 255}, // Light pink
		{199, 199, 199, 255}, // Light gray
		{219, 219, 141, 255}, // Light olive
		{158, 218, 229, 255}, // Light cyan
	},
}

var palettes = map[string]Palette{
	"tableau10":  Tableau10,
	"category20": Category20,
}

// ByName looks up a palette by its lower-case name.
func ByName(name string) (Palette, bool) {
	p, ok := palettes[name]
	return p, ok
}

// Names returns the registered palette names, sorted.
func Names() []string {
	out := make([]string, 0, len(palettes))
	for name := range palettes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Hex formats c as #rrggbb.
func Hex(c color.RGBA) string {
	const digits = "0123456789abcdef"
	b := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range []uint8{c.R, c.G, c.B} {
		b[1+2*i] = digits[v>>4]
		b[2+2*i] = digits[v&0x0f]
	}
	return string(b)
}
