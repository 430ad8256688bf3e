package imaging

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// Fetcher reads an in-bounds region, typically Decoder.Region.
type Fetcher func(ctx context.Context, r slide.Region) (image.Image, error)

// DefaultPadding is the background of 8-bit RGB slides when none is requested.
var DefaultPadding = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Background returns the fill for out-of-bounds pixels of a slide.
//
// For 8-bit RGB slides this is padding made opaque, or DefaultPadding when padding
// is nil. Every other pixel format is filled with per-channel zero; callers
// reject a requested colour for them with CheckPadding.
func Background(info slide.SlideInfo, padding color.Color) color.Color {
	if !info.IsRGB8() {
		switch {
		case len(info.Channels) == 1 && info.ChannelDepth == 16:
			return color.Gray16{}
		case len(info.Channels) == 1:
			return color.Gray{}
		case info.ChannelDepth == 16:
			return color.RGBA64{}
		default:
			return color.NRGBA{}
		}
	}
	if padding == nil {
		return DefaultPadding
	}
	c := color.NRGBAModel.Convert(padding).(color.NRGBA)
	c.A = 255
	return c
}

// CheckPadding rejects a requested padding colour on slides that are not 8-bit
// RGB, whose background is always per-channel zero.
func CheckPadding(info slide.SlideInfo, padding color.Color) error {
	if padding != nil && !info.IsRGB8() {
		return fmt.Errorf("%w: custom padding needs an 8-bit RGB slide, got %d channel(s) at %d bit",
			ErrInvalidPaddingColor, len(info.Channels), info.ChannelDepth)
	}
	return nil
}

// NewCanvas allocates a w x h image in the pixel format of the slide, filled
// with bg.
func NewCanvas(info slide.SlideInfo, w, h int, bg color.Color) draw.Image {
	if info.IsRGB8() {
		return imaging.New(w, h, bg)
	}

	rect := image.Rect(0, 0, w, h)
	var canvas draw.Image
	switch {
	case len(info.Channels) == 1 && info.ChannelDepth == 16:
		canvas = image.NewGray16(rect)
	case len(info.Channels) == 1:
		canvas = image.NewGray(rect)
	case info.ChannelDepth == 16:
		canvas = image.NewRGBA64(rect)
	default:
		canvas = image.NewNRGBA(rect)
	}
	if !isZero(bg) {
		draw.Draw(canvas, rect, image.NewUniform(bg), image.Point{}, draw.Src)
	}
	return canvas
}

// ExtendedRegion serves a request that crosses the level boundary.
//
// The in-bounds part of r is read through fetch and placed at its offset on a
// canvas of the full requested size, pre-filled with Background. When no part of r
// lies inside the level, fetch is not called and a fully padded canvas is returned.
func ExtendedRegion(ctx context.Context, fetch Fetcher, info slide.SlideInfo, r slide.Region) (image.Image, error) {
	if err := info.CheckLevel(r.Level); err != nil {
		return nil, err
	}
	if err := r.CheckSize(); err != nil {
		return nil, err
	}

	canvas := NewCanvas(info, r.SizeX, r.SizeY, Background(info, r.Padding))

	inner, ok := clipRegion(info, r)
	if !ok {
		return canvas, nil
	}

	img, err := fetch(ctx, inner)
	if err != nil {
		return nil, err
	}

	offset := image.Pt(inner.StartX-r.StartX, inner.StartY-r.StartY)
	return paste(canvas, img, offset), nil
}

// ExtendedTile is ExtendedRegion for tile-grid coordinates.
func ExtendedTile(ctx context.Context, fetch Fetcher, info slide.SlideInfo, level, tileX, tileY, z int, padding color.Color) (image.Image, error) {
	return ExtendedRegion(ctx, fetch, info, info.TileRegion(level, tileX, tileY, z, padding))
}

// paste copies src onto canvas with src's top-left corner at offset.
func paste(canvas draw.Image, src image.Image, offset image.Point) image.Image {
	if nrgba, ok := canvas.(*image.NRGBA); ok {
		return imaging.Paste(nrgba, src, offset)
	}
	// imaging works on 8-bit NRGBA only; keep high bit depths intact
	sb := src.Bounds()
	draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(sb.Size())}, src, sb.Min, draw.Src)
	return canvas
}

func isZero(c color.Color) bool {
	r, g, b, a := c.RGBA()
	return r == 0 && g == 0 && b == 0 && a == 0
}
