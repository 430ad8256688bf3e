package imaging

import (
	"math"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// DownsampleExtent returns the extent of a pyramid level, derived from the
// level-0 extent and the level's downsample factor by ceiling division.
// Invalid levels yield a zero extent.
func DownsampleExtent(info slide.SlideInfo, level int) slide.Extent {
	if level < 0 || level >= len(info.Levels) {
		return slide.Extent{}
	}
	ds := info.Levels[level].DownsampleFactor
	return slide.Extent{
		X: int(math.Ceil(float64(info.Extent.X) / ds)),
		Y: int(math.Ceil(float64(info.Extent.Y) / ds)),
		Z: info.ZLayers(),
	}
}

// CheckRegionOverlap reports whether the rectangle lies entirely inside the level.
// It selects between the direct decoder path and the padded path.
func CheckRegionOverlap(info slide.SlideInfo, level, startX, startY, sizeX, sizeY int) bool {
	ext := DownsampleExtent(info, level)
	x0, y0 := int64(startX), int64(startY)
	return x0 >= 0 && y0 >= 0 &&
		addSat(x0, int64(sizeX)) <= int64(ext.X) &&
		addSat(y0, int64(sizeY)) <= int64(ext.Y)
}

// CheckTileOverlap is CheckRegionOverlap for tile-grid coordinates.
func CheckTileOverlap(info slide.SlideInfo, level, tileX, tileY int) bool {
	r := info.TileRegion(level, tileX, tileY, 0, nil)
	return CheckRegionOverlap(info, level, r.StartX, r.StartY, r.SizeX, r.SizeY)
}

// clipRegion returns the part of r inside the level extent and whether it is
// non-empty.
func clipRegion(info slide.SlideInfo, r slide.Region) (slide.Region, bool) {
	ext := DownsampleExtent(info, r.Level)

	x0 := max(int64(r.StartX), 0)
	y0 := max(int64(r.StartY), 0)
	x1 := min(addSat(int64(r.StartX), int64(r.SizeX)), int64(ext.X))
	y1 := min(addSat(int64(r.StartY), int64(r.SizeY)), int64(ext.Y))
	if x0 >= x1 || y0 >= y1 {
		return slide.Region{}, false
	}

	clipped := r
	clipped.StartX = int(x0)
	clipped.StartY = int(y0)
	clipped.SizeX = int(x1 - x0)
	clipped.SizeY = int(y1 - y0)
	return clipped, true
}

// addSat adds without wrapping around.
func addSat(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}
