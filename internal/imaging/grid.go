package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
)

// DefaultGridColor is the line colour of tile grid overlays.
var DefaultGridColor = color.NRGBA{255, 0, 0, 255}

// TileGridOverlay draws the boundaries of a tile grid onto a copy of img.
// cellW and cellH are the tile size in pixels of img and may be fractional,
// as they are when img is a thumbnail. With labels set, each cell that is
// large enough is tagged with its "col,row" tile coordinates.
func TileGridOverlay(img image.Image, cellW, cellH float64, lineColor color.Color, labels bool) (*image.NRGBA, error) {
	if cellW < 1 || cellH < 1 {
		return nil, fmt.Errorf("grid cell %.2fx%.2f is smaller than one pixel", cellW, cellH)
	}
	if lineColor == nil {
		lineColor = DefaultGridColor
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	result := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	cols := int(math.Ceil(float64(width) / cellW))
	rows := int(math.Ceil(float64(height) / cellH))

	// Draw vertical lines
	for c := 1; c < cols; c++ {
		x := int(math.Round(float64(c) * cellW))
		for y := 0; y < height; y++ {
			result.Set(x, y, lineColor)
		}
	}

	// Draw horizontal lines
	for r := 1; r < rows; r++ {
		y := int(math.Round(float64(r) * cellH))
		for x := 0; x < width; x++ {
			result.Set(x, y, lineColor)
		}
	}

	if labels {
		fg := color.NRGBA{255, 255, 255, 255}
		bg := color.NRGBA{0, 0, 0, 180}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				text := fmt.Sprintf("%d,%d", c, r)
				if float64(labelWidth(text)+4) > cellW || float64(glyphHeight+4) > cellH {
					continue
				}
				x := int(math.Round(float64(c)*cellW)) + 2
				y := int(math.Round(float64(r)*cellH)) + 2
				drawLabel(result, x, y, text, fg, bg)
			}
		}
	}
	return result, nil
}

const (
	charWidth   = 4
	glyphHeight = 5
)

// glyphs is a 3x5 pixel font for tile coordinates.
var glyphs = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
	',': {"000", "000", "000", "010", "010"},
}

func labelWidth(text string) int {
	return len(text) * charWidth
}

// drawLabel draws text on a background box with its top-left corner at x, y.
func drawLabel(img *image.NRGBA, x, y int, text string, fg, bg color.NRGBA) {
	bounds := img.Bounds()
	set := func(px, py int, c color.NRGBA) {
		if image.Pt(px, py).In(bounds) {
			img.SetNRGBA(px, py, c)
		}
	}

	for dy := -1; dy <= glyphHeight; dy++ {
		for dx := -1; dx < labelWidth(text); dx++ {
			set(x+dx, y+dy, bg)
		}
	}

	cx := x
	for _, ch := range text {
		for row, line := range glyphs[ch] {
			for col, pixel := range line {
				if pixel == '1' {
					set(cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
