package slide

import (
	"fmt"
	"image/color"
	"math"
)

// Extent is a size in pixels. Z counts z-stack layers and is 1 for slides
// without a z-stack.
type Extent struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// PixelSize is the physical size of one level-0 pixel in nanometres.
// Unknown sizes are reported as -1.
type PixelSize struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Level is one resolution of the pyramid.
type Level struct {
	Extent           Extent  `json:"extent"`
	DownsampleFactor float64 `json:"downsample_factor"`
}

// ChannelColor is the display colour of a channel.
type ChannelColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Channel describes one image channel.
type Channel struct {
	ID    int          `json:"id"`
	Name  string       `json:"name"`
	Color ChannelColor `json:"color"`
}

// RGBChannels are the channels of an 8-bit brightfield slide.
var RGBChannels = []Channel{
	{ID: 0, Name: "Red", Color: ChannelColor{R: 255, A: 255}},
	{ID: 1, Name: "Green", Color: ChannelColor{G: 255, A: 255}},
	{ID: 2, Name: "Blue", Color: ChannelColor{B: 255, A: 255}},
}

// SlideInfo is the immutable metadata of an opened slide.
type SlideInfo struct {
	ID           string    `json:"id"`
	Format       string    `json:"format"`
	Extent       Extent    `json:"extent"`
	NumLevels    int       `json:"num_levels"`
	PixelSizeNm  PixelSize `json:"pixel_size_nm"`
	TileExtent   Extent    `json:"tile_extent"`
	Levels       []Level   `json:"levels"`
	Channels     []Channel `json:"channels"`
	ChannelDepth int       `json:"channel_depth"`
}

// IsRGB8 reports whether the slide is an 8-bit, three channel brightfield image.
func (i SlideInfo) IsRGB8() bool {
	return i.ChannelDepth == 8 && len(i.Channels) == 3
}

// ZLayers returns the number of focal planes, at least 1.
func (i SlideInfo) ZLayers() int {
	if i.Extent.Z < 1 {
		return 1
	}
	return i.Extent.Z
}

// Validate checks the structural invariants of the pyramid.
func (i SlideInfo) Validate() error {
	if i.Extent.X <= 0 || i.Extent.Y <= 0 {
		return fmt.Errorf("invalid extent %dx%d", i.Extent.X, i.Extent.Y)
	}
	if i.TileExtent.X <= 0 || i.TileExtent.Y <= 0 {
		return fmt.Errorf("invalid tile extent %dx%d", i.TileExtent.X, i.TileExtent.Y)
	}
	if len(i.Levels) == 0 {
		return fmt.Errorf("no pyramid levels")
	}
	if i.NumLevels != len(i.Levels) {
		return fmt.Errorf("num_levels %d does not match %d levels", i.NumLevels, len(i.Levels))
	}
	if i.Levels[0].DownsampleFactor != 1 {
		return fmt.Errorf("level 0 downsample factor is %g, want 1", i.Levels[0].DownsampleFactor)
	}
	for l := 1; l < len(i.Levels); l++ {
		if i.Levels[l].DownsampleFactor <= i.Levels[l-1].DownsampleFactor {
			return fmt.Errorf("downsample factor of level %d (%g) does not increase", l, i.Levels[l].DownsampleFactor)
		}
	}
	if len(i.Channels) == 0 {
		return fmt.Errorf("no channels")
	}
	switch i.ChannelDepth {
	case 8, 16:
	default:
		return fmt.Errorf("unsupported channel depth %d", i.ChannelDepth)
	}
	return nil
}

// CheckLevel returns ErrLevelOutOfRange when level is not a valid index.
func (i SlideInfo) CheckLevel(level int) error {
	if level < 0 || level >= len(i.Levels) {
		return fmt.Errorf("%w: level %d requested, coarsest available level is %d",
			ErrLevelOutOfRange, level, len(i.Levels)-1)
	}
	return nil
}

// CheckZ returns ErrUnsupportedZStack when z is not a valid layer.
func (i SlideInfo) CheckZ(z int) error {
	if z < 0 || z >= i.ZLayers() {
		if i.ZLayers() == 1 {
			return fmt.Errorf("%w: slide has no z-stack, z=%d requested", ErrUnsupportedZStack, z)
		}
		return fmt.Errorf("%w: z=%d requested, slide has %d layers", ErrUnsupportedZStack, z, i.ZLayers())
	}
	return nil
}

// CheckChannels validates a channel selection. An empty selection means all
// channels.
func (i SlideInfo) CheckChannels(channels []int) error {
	seen := make(map[int]bool, len(channels))
	for _, c := range channels {
		if c < 0 || c >= len(i.Channels) {
			return fmt.Errorf("%w: channel %d not in [0, %d)", ErrInvalidChannelSelection, c, len(i.Channels))
		}
		if seen[c] {
			return fmt.Errorf("%w: channel %d selected twice", ErrInvalidChannelSelection, c)
		}
		seen[c] = true
	}
	return nil
}

// Region is a request for pixels of one pyramid level. Coordinates and sizes are
// given in the pixel space of that level and may lie partly or fully outside it.
type Region struct {
	Level  int
	StartX int
	StartY int
	SizeX  int
	SizeY  int
	Z      int

	// Padding is the background for transparent or out-of-bounds pixels.
	// Nil selects the default (white for 8-bit RGB slides).
	Padding color.Color
}

// Pixels returns SizeX*SizeY without overflowing int on 32-bit platforms.
func (r Region) Pixels() int64 {
	return int64(r.SizeX) * int64(r.SizeY)
}

// CheckSize returns ErrInvalidRegion for non-positive sizes.
func (r Region) CheckSize() error {
	if r.SizeX <= 0 || r.SizeY <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidRegion, r.SizeX, r.SizeY)
	}
	return nil
}

// TileRegion converts tile-grid coordinates into the pixel region they cover.
// Coordinates whose pixel offset does not fit an int saturate, so they stay
// outside every level instead of wrapping around.
func (i SlideInfo) TileRegion(level, tileX, tileY, z int, padding color.Color) Region {
	return Region{
		Level:   level,
		StartX:  mulSat(tileX, i.TileExtent.X),
		StartY:  mulSat(tileY, i.TileExtent.Y),
		SizeX:   i.TileExtent.X,
		SizeY:   i.TileExtent.Y,
		Z:       z,
		Padding: padding,
	}
}

// mulSat multiplies a by a non-negative b, clamping to the int range.
func mulSat(a, b int) int {
	if a == 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	if a < math.MinInt/b {
		return math.MinInt
	}
	return a * b
}
