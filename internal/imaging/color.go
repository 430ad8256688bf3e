package imaging

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Boundary errors for output parameters.
var (
	// ErrInvalidPaddingColor indicates a padding colour that is not "#RRGGBB".
	ErrInvalidPaddingColor = errors.New("imaging: invalid padding color")

	// ErrInvalidImageFormat indicates an unknown output format.
	ErrInvalidImageFormat = errors.New("imaging: invalid image format")

	// ErrInvalidImageQuality indicates a quality outside 0-100.
	ErrInvalidImageQuality = errors.New("imaging: invalid image quality")
)

// Kind returns the taxonomy name of the boundary errors defined here.
func Kind(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidPaddingColor):
		return "InvalidPaddingColor", true
	case errors.Is(err, ErrInvalidImageFormat):
		return "InvalidImageFormat", true
	case errors.Is(err, ErrInvalidImageQuality):
		return "InvalidImageQuality", true
	}
	return "", false
}

// ParsePaddingColor parses a 24-bit hex colour with leading '#', e.g. "#FFFFFF".
// An empty string returns nil, which selects the default background.
func ParsePaddingColor(s string) (color.Color, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) != 7 || s[0] != '#' {
		return nil, fmt.Errorf("%w: %q, expected #RRGGBB", ErrInvalidPaddingColor, s)
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPaddingColor, s, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// HexString formats c as "#rrggbb", ignoring alpha.
func HexString(c color.Color) string {
	if c == nil {
		return ""
	}
	cf, ok := colorful.MakeColor(c)
	if !ok {
		// fully transparent colours carry no RGB information
		return "#000000"
	}
	return cf.Hex()
}
