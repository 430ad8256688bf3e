package slide

import (
	"fmt"
	"image"
	"math"
)

// ReadPlan describes how a Region is served from a native pyramid level.
type ReadPlan struct {
	// Downsample is the factor of the requested level.
	Downsample float64

	// NativeLevel indexes the stored resolution the pixels are read from.
	NativeLevel int

	// Remaining is the factor still to apply after reading NativeLevel.
	Remaining float64

	// Window is the source rectangle in NativeLevel pixel coordinates.
	SrcX, SrcY int
	SrcW, SrcH int

	// DstW and DstH are the exact output dimensions.
	DstW, DstH int
}

// Window returns the source rectangle in NativeLevel pixel coordinates.
func (p ReadPlan) Window() image.Rectangle {
	return image.Rect(p.SrcX, p.SrcY, p.SrcX+p.SrcW, p.SrcY+p.SrcH)
}

// ClampWindow shifts w back inside bounds when rounding pushed it past an edge,
// keeping its size where bounds allow.
func ClampWindow(w, bounds image.Rectangle) image.Rectangle {
	if dx := w.Max.X - bounds.Max.X; dx > 0 {
		w = w.Sub(image.Pt(min(dx, w.Min.X-bounds.Min.X), 0))
	}
	if dy := w.Max.Y - bounds.Max.Y; dy > 0 {
		w = w.Sub(image.Pt(0, min(dy, w.Min.Y-bounds.Min.Y)))
	}
	return w.Intersect(bounds)
}

// NeedsResample reports whether the source window differs from the output size.
func (p ReadPlan) NeedsResample() bool {
	return p.SrcW != p.DstW || p.SrcH != p.DstH
}

// BestNativeLevel returns the index of the coarsest native level whose downsample
// factor does not exceed downsample. native must be sorted ascending and start at 1.
func BestNativeLevel(native []float64, downsample float64) int {
	best := 0
	for i, d := range native {
		// tolerate float noise from descriptors like 1.9999999
		if d <= downsample+1e-6 {
			best = i
		}
	}
	return best
}

// PlanRead validates r against info and maps it onto the native levels.
// The pixel budget is checked against the native read window, before any pixel
// data is touched. maxPixels <= 0 disables the budget.
func PlanRead(info SlideInfo, native []float64, r Region, maxPixels int64) (ReadPlan, error) {
	if err := info.CheckLevel(r.Level); err != nil {
		return ReadPlan{}, err
	}
	if err := info.CheckZ(r.Z); err != nil {
		return ReadPlan{}, err
	}
	if err := r.CheckSize(); err != nil {
		return ReadPlan{}, err
	}
	if len(native) == 0 {
		return ReadPlan{}, fmt.Errorf("%w: no native levels", ErrCorruptFile)
	}

	ds := info.Levels[r.Level].DownsampleFactor
	nl := BestNativeLevel(native, ds)
	remaining := ds / native[nl]

	p := ReadPlan{
		Downsample:  ds,
		NativeLevel: nl,
		Remaining:   remaining,
		SrcX:        roundInt(float64(r.StartX) * remaining),
		SrcY:        roundInt(float64(r.StartY) * remaining),
		SrcW:        max(1, roundInt(float64(r.SizeX)*remaining)),
		SrcH:        max(1, roundInt(float64(r.SizeY)*remaining)),
		DstW:        r.SizeX,
		DstH:        r.SizeY,
	}

	if maxPixels > 0 {
		if n := int64(p.SrcW) * int64(p.SrcH); n > maxPixels {
			return ReadPlan{}, fmt.Errorf("%w: maximum number of pixels is %d, request needs %d",
				ErrRegionTooLarge, maxPixels, n)
		}
	}
	return p, nil
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

// ThumbnailLevel returns the coarsest level whose extent still covers a
// w x h thumbnail, so the final shrink never enlarges.
func ThumbnailLevel(info SlideInfo, w, h int) int {
	best := 0
	for l, lv := range info.Levels {
		if lv.Extent.X >= w && lv.Extent.Y >= h {
			best = l
		}
	}
	return best
}

// HalvingLevels returns the power-of-two pyramid of a w x h image: level l
// has downsample factor 2^l and the coarsest level fits into one tile.
func HalvingLevels(w, h int, tile Extent) []Level {
	var levels []Level
	for ds := 1; ; ds *= 2 {
		lw := ceilDiv(w, ds)
		lh := ceilDiv(h, ds)
		levels = append(levels, Level{
			Extent:           Extent{X: lw, Y: lh, Z: 1},
			DownsampleFactor: float64(ds),
		})
		if (lw <= tile.X && lh <= tile.Y) || (lw == 1 && lh == 1) {
			return levels
		}
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
