// Package plain decodes single-image files (JPEG, PNG, TIFF, BMP, GIF, WebP)
// as slides.
//
// The image is decoded once at open. Every fourth power of two is kept in
// memory as a native level; the levels in between are resampled from the next
// finer native level on request. TileExtent is 256x256 and the pixel size is
// unknown.
package plain

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder

	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// Name identifies the backend in SlideInfo.Format.
const Name = "plain"

// DefaultTileSize is the tile edge length reported for plain images.
const DefaultTileSize = 256

// nativeStep is the downsample ratio between stored levels.
const nativeStep = 4

// Extensions lists the file extensions handled by this backend.
var Extensions = []string{"jpg", "jpeg", "png", "tif", "tiff", "bmp", "gif", "webp"}

// Options configures the backend.
type Options struct {
	// TileSize is the reported tile edge length. Zero selects DefaultTileSize.
	TileSize int

	// MaxRegionPixels bounds the native read window of one region.
	// Zero disables the check.
	MaxRegionPixels int64
}

// Backend returns the registry entry for plain images.
func Backend(opts Options) slide.Backend {
	return slide.Backend{
		Name:       Name,
		Extensions: Extensions,
		Sniff:      Sniff,
		Open: func(ctx context.Context, path, id string) (slide.Decoder, error) {
			d, err := Open(ctx, path, id, opts)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

var magics = [][]byte{
	[]byte("\x89PNG\r\n\x1a\n"),
	[]byte("\xff\xd8\xff"),
	[]byte("GIF87a"),
	[]byte("GIF89a"),
	[]byte("BM"),
	[]byte("II*\x00"),
	[]byte("MM\x00*"),
}

// Sniff reports whether header starts like a supported image file.
func Sniff(header []byte) bool {
	for _, m := range magics {
		if bytes.HasPrefix(header, m) {
			return true
		}
	}
	return len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "WEBP"
}

// Decoder serves one decoded image.
type Decoder struct {
	info      slide.SlideInfo
	maxPixels int64

	mu     sync.RWMutex
	native []image.Image
	scales []float64
	closed bool
}

// Open decodes the image at path and builds its pyramid.
func Open(ctx context.Context, path, id string, opts Options) (*Decoder, error) {
	tileSize := opts.TileSize
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", slide.ErrCorruptFile, filepath.Base(path), err)
	}
	base, channels, depth := normalize(img)

	b := base.Bounds()
	tile := slide.Extent{X: tileSize, Y: tileSize, Z: 1}
	levels := slide.HalvingLevels(b.Dx(), b.Dy(), tile)

	d := &Decoder{
		info: slide.SlideInfo{
			ID:           id,
			Format:       Name,
			Extent:       slide.Extent{X: b.Dx(), Y: b.Dy(), Z: 1},
			NumLevels:    len(levels),
			PixelSizeNm:  slide.PixelSize{X: -1, Y: -1},
			TileExtent:   tile,
			Levels:       levels,
			Channels:     channels,
			ChannelDepth: depth,
		},
		maxPixels: opts.MaxRegionPixels,
		native:    []image.Image{base},
		scales:    []float64{1},
	}

	for ds := nativeStep; ds < int(levels[len(levels)-1].DownsampleFactor)+1; ds *= nativeStep {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := d.native[len(d.native)-1]
		w := (b.Dx() + ds - 1) / ds
		h := (b.Dy() + ds - 1) / ds
		d.native = append(d.native, shrink(prev, w, h))
		d.scales = append(d.scales, float64(ds))
	}
	return d, nil
}

// normalize converts a decoded image into one of the canvas pixel formats.
func normalize(img image.Image) (image.Image, []slide.Channel, int) {
	gray := []slide.Channel{{ID: 0, Name: "Gray", Color: slide.ChannelColor{R: 255, G: 255, B: 255, A: 255}}}

	switch src := img.(type) {
	case *image.Gray:
		return src, gray, 8
	case *image.Gray16:
		return src, gray, 16
	case *image.RGBA64, *image.NRGBA64:
		b := src.Bounds()
		dst := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst, slide.RGBChannels, 16
	}
	return imaging.Clone(img), slide.RGBChannels, 8
}

func shrink(img image.Image, w, h int) image.Image {
	if _, ok := img.(*image.NRGBA); ok {
		return imaging.Resize(img, w, h, imaging.Box)
	}
	return imgutil.Resample(img, w, h)
}

// Info returns the slide metadata.
func (d *Decoder) Info() slide.SlideInfo {
	return d.info
}

// Region reads an in-bounds region.
func (d *Decoder) Region(ctx context.Context, r slide.Region) (image.Image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, slide.ErrDecoderClosed
	}

	plan, err := slide.PlanRead(d.info, d.scales, r, d.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := d.native[plan.NativeLevel]
	window := slide.ClampWindow(plan.Window(), src.Bounds())
	if window.Empty() {
		return nil, fmt.Errorf("%w: region %+v outside level %d", slide.ErrDecodeFailure, r, r.Level)
	}

	out := crop(src, window)
	if plan.NeedsResample() || out.Bounds().Dx() != plan.DstW || out.Bounds().Dy() != plan.DstH {
		out = imgutil.Resample(out, plan.DstW, plan.DstH)
	}
	return imgutil.Flatten(out, imgutil.Background(d.info, r.Padding)), nil
}

// Tile reads one tile, padded at the image border.
func (d *Decoder) Tile(ctx context.Context, level, tileX, tileY, z int, padding color.Color) (image.Image, error) {
	r := d.info.TileRegion(level, tileX, tileY, z, padding)
	if err := d.info.CheckZ(z); err != nil {
		return nil, err
	}
	if imgutil.CheckRegionOverlap(d.info, level, r.StartX, r.StartY, r.SizeX, r.SizeY) {
		return d.Region(ctx, r)
	}
	return imgutil.ExtendedRegion(ctx, d.Region, d.info, r)
}

// Thumbnail returns the whole image shrunk into maxX x maxY.
func (d *Decoder) Thumbnail(ctx context.Context, maxX, maxY int) (image.Image, error) {
	w, h := imgutil.FitSize(d.info.Extent.X, d.info.Extent.Y, maxX, maxY)
	level := slide.ThumbnailLevel(d.info, w, h)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, slide.ErrDecoderClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := d.native[slide.BestNativeLevel(d.scales, d.info.Levels[level].DownsampleFactor)]
	if _, ok := src.(*image.NRGBA); ok {
		return imgutil.Flatten(imaging.Resize(src, w, h, imaging.Lanczos), imgutil.DefaultPadding), nil
	}
	return imgutil.Resample(crop(src, src.Bounds()), w, h), nil
}

// Label always fails: plain images carry no associated images.
func (d *Decoder) Label(context.Context) (image.Image, error) {
	return nil, fmt.Errorf("%w: label", slide.ErrAssociatedImageNotFound)
}

// Macro always fails: plain images carry no associated images.
func (d *Decoder) Macro(context.Context) (image.Image, error) {
	return nil, fmt.Errorf("%w: macro", slide.ErrAssociatedImageNotFound)
}

// Close releases the decoded pixels.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.native = nil
	return nil
}

// crop copies r out of img into a new image of the same pixel format.
func crop(img image.Image, r image.Rectangle) image.Image {
	var dst draw.Image
	rect := image.Rect(0, 0, r.Dx(), r.Dy())
	switch img.(type) {
	case *image.NRGBA:
		return imaging.Crop(img, r)
	case *image.Gray:
		dst = image.NewGray(rect)
	case *image.Gray16:
		dst = image.NewGray16(rect)
	default:
		dst = image.NewRGBA64(rect)
	}
	draw.Draw(dst, rect, img, r.Min, draw.Src)
	return dst
}
