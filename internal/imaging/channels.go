package imaging

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/channel"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// SelectChannels restricts img to the given channel ids.
//
// An empty selection, or one naming every channel, returns img unchanged.
// A single channel is returned as a grey image of the slide's bit depth.
// Several channels keep the slide's pixel format with every unselected
// channel set to zero.
func SelectChannels(img image.Image, info slide.SlideInfo, channels []int) (image.Image, error) {
	if err := info.CheckChannels(channels); err != nil {
		return nil, err
	}
	if len(channels) == 0 || len(channels) == len(info.Channels) {
		return img, nil
	}

	if info.ChannelDepth == 16 {
		if len(channels) == 1 {
			return extract16(img, channels[0]), nil
		}
		return mask16(img, channels), nil
	}

	if len(channels) == 1 {
		return channel.Extract(img, channel.Channel(channels[0])), nil
	}
	keep := make([]channel.Channel, 0, len(channels)+1)
	for _, c := range channels {
		keep = append(keep, channel.Channel(c))
	}
	keep = append(keep, channel.Alpha)
	return channel.ExtractMultiple(img, keep...), nil
}

// bild works on 8-bit RGBA, so 16-bit selections are done component by component.

func extract16(img image.Image, c int) *image.Gray16 {
	b := img.Bounds()
	dst := image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetGray16(x-b.Min.X, y-b.Min.Y, color.Gray16{Y: component(img.At(x, y), c)})
		}
	}
	return dst
}

func mask16(img image.Image, channels []int) *image.RGBA64 {
	var keep [3]bool
	for _, c := range channels {
		if c < len(keep) {
			keep[c] = true
		}
	}

	b := img.Bounds()
	dst := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			px := color.RGBA64{A: uint16(a)}
			if keep[0] {
				px.R = uint16(r)
			}
			if keep[1] {
				px.G = uint16(g)
			}
			if keep[2] {
				px.B = uint16(bl)
			}
			dst.SetRGBA64(x-b.Min.X, y-b.Min.Y, px)
		}
	}
	return dst
}

func component(c color.Color, idx int) uint16 {
	r, g, b, a := c.RGBA()
	switch idx {
	case 0:
		return uint16(r)
	case 1:
		return uint16(g)
	case 2:
		return uint16(b)
	default:
		return uint16(a)
	}
}
