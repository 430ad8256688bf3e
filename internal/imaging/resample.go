package imaging

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// Resample scales img to exactly w x h with bilinear interpolation.
// An image that already has the target size is returned as is.
func Resample(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}

	var dst xdraw.Image
	rect := image.Rect(0, 0, w, h)
	switch img.(type) {
	case *image.Gray16:
		dst = image.NewGray16(rect)
	case *image.RGBA64, *image.NRGBA64:
		dst = image.NewRGBA64(rect)
	case *image.Gray:
		dst = image.NewGray(rect)
	default:
		return imaging.Resize(img, w, h, imaging.Linear)
	}
	xdraw.BiLinear.Scale(dst, rect, img, b, xdraw.Src, nil)
	return dst
}

// Flatten composites img over an opaque bg. Opaque images are returned
// unchanged.
func Flatten(img image.Image, bg color.Color) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		// no alpha channel
		return img
	case *image.RGBA64, *image.NRGBA64:
		dst := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, xdraw.Src)
		xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Over)
		return dst
	}
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), bg), img, image.Point{}, 1.0)
}

// FitSize returns the largest size with the aspect ratio of w x h that fits
// into maxW x maxH. Images are never enlarged and sides are at least 1.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(1, int(math.Round(float64(w)*scale))), max(1, int(math.Round(float64(h)*scale)))
}

// FitInto downscales img to fit into maxW x maxH, preserving its aspect ratio.
func FitInto(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxW, maxH)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64, *image.Gray:
		return Resample(img, w, h)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}
