package imaging

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// createInMemoryImage creates an in-memory test image
func createInMemoryImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// createPatternImage creates an image with different colors in each quadrant
func createPatternImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.Color
			if x < width/2 && y < height/2 {
				c = color.NRGBA{255, 0, 0, 255} // Red top-left
			} else if x >= width/2 && y < height/2 {
				c = color.NRGBA{0, 255, 0, 255} // Green top-right
			} else if x < width/2 && y >= height/2 {
				c = color.NRGBA{0, 0, 255, 255} // Blue bottom-left
			} else {
				c = color.NRGBA{255, 255, 255, 255} // White bottom-right
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// rgbInfo returns an 8-bit RGB slide of w x h with 256px tiles and a
// single level.
func rgbInfo(w, h int) slide.SlideInfo {
	return slide.SlideInfo{
		ID:           "test",
		Format:       "test",
		Extent:       slide.Extent{X: w, Y: h, Z: 1},
		NumLevels:    1,
		Levels:       []slide.Level{{Extent: slide.Extent{X: w, Y: h, Z: 1}, DownsampleFactor: 1}},
		TileExtent:   slide.Extent{X: 256, Y: 256, Z: 1},
		Channels:     slide.RGBChannels,
		ChannelDepth: 8,
		PixelSizeNm:  slide.PixelSize{X: -1, Y: -1},
	}
}

// grayInfo returns a single channel slide of the given depth.
func grayInfo(w, h, depth int) slide.SlideInfo {
	info := rgbInfo(w, h)
	info.Channels = []slide.Channel{{ID: 0, Name: "Gray", Color: slide.ChannelColor{R: 255, G: 255, B: 255, A: 255}}}
	info.ChannelDepth = depth
	return info
}

func TestParsePaddingColor(t *testing.T) {
	tests := []struct {
		input   string
		want    color.Color
		wantErr bool
	}{
		{"#FFFFFF", color.NRGBA{255, 255, 255, 255}, false},
		{"#000000", color.NRGBA{0, 0, 0, 255}, false},
		{"#FF8040", color.NRGBA{255, 128, 64, 255}, false},
		{"#ff8040", color.NRGBA{255, 128, 64, 255}, false},
		{"", nil, false},
		{"FFFFFF", nil, true},
		{"#FFF", nil, true},
		{"#GGGGGG", nil, true},
		{"#FFFFFFFF", nil, true},
		{"white", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePaddingColor(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPaddingColor) {
					t.Errorf("got error %v, want ErrInvalidPaddingColor", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHexString(t *testing.T) {
	if got := HexString(color.NRGBA{255, 128, 64, 255}); got != "#ff8040" {
		t.Errorf("got %s, want #ff8040", got)
	}
	if got := HexString(nil); got != "" {
		t.Errorf("nil colour should format as empty string, got %q", got)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidPaddingColor, "InvalidPaddingColor"},
		{ErrInvalidImageFormat, "InvalidImageFormat"},
		{ErrInvalidImageQuality, "InvalidImageQuality"},
	}
	for _, tt := range tests {
		got, ok := Kind(tt.err)
		if !ok || got != tt.want {
			t.Errorf("Kind(%v) = %q, %v; want %q", tt.err, got, ok, tt.want)
		}
	}
	if _, ok := Kind(errors.New("other")); ok {
		t.Error("unrelated error should not have a kind")
	}
}
