package dzi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
	"golang.org/x/sync/errgroup"

	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// Name identifies the backend in SlideInfo.Format.
const Name = "dzi"

// associatedFormats are probed, in order, for label and macro images.
var associatedFormats = []string{"png", "jpeg", "jpg", "tiff", "bmp", "gif", "webp"}

// Options configures the backend.
type Options struct {
	// MaxRegionPixels bounds the native read window of one region.
	// Zero disables the check.
	MaxRegionPixels int64

	// DecodeConcurrency limits parallel tile decodes within one region.
	// Zero selects GOMAXPROCS.
	DecodeConcurrency int
}

// Backend returns the registry entry for Deep Zoom pyramids.
func Backend(opts Options) slide.Backend {
	return slide.Backend{
		Name:       Name,
		Extensions: []string{Extension},
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

// Decoder reads tiles of one pyramid from disk on demand.
type Decoder struct {
	info     slide.SlideInfo
	desc     *Descriptor
	filesDir string
	scales   []float64
	opts     Options

	label string
	macro string

	closed atomic.Bool
}

// Open parses the descriptor at path. Tiles are not touched.
func Open(ctx context.Context, path, id string, opts Options) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", slide.ErrSlideNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", slide.ErrCorruptFile, err)
	}
	defer f.Close()

	desc, err := ParseDescriptor(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", slide.ErrCorruptFile, filepath.Base(path), err)
	}

	filesDir := FilesDir(path)
	if st, err := os.Stat(filesDir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: missing tile directory %s", slide.ErrCorruptFile, filepath.Base(filesDir))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tile := slide.Extent{X: desc.TileSize, Y: desc.TileSize, Z: 1}
	levels := slide.HalvingLevels(desc.Size.Width, desc.Size.Height, tile)
	scales := make([]float64, len(levels))
	for i, l := range levels {
		scales[i] = l.DownsampleFactor
	}

	d := &Decoder{
		info: slide.SlideInfo{
			ID:           id,
			Format:       Name,
			Extent:       slide.Extent{X: desc.Size.Width, Y: desc.Size.Height, Z: 1},
			NumLevels:    len(levels),
			PixelSizeNm:  slide.PixelSize{X: -1, Y: -1},
			TileExtent:   tile,
			Levels:       levels,
			Channels:     slide.RGBChannels,
			ChannelDepth: 8,
		},
		desc:     desc,
		filesDir: filesDir,
		scales:   scales,
		opts:     opts,
		label:    findAssociated(filesDir, "label"),
		macro:    findAssociated(filesDir, "macro"),
	}
	return d, nil
}

func findAssociated(dir, name string) string {
	for _, ext := range associatedFormats {
		p := filepath.Join(dir, name+"."+ext)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Info returns the slide metadata.
func (d *Decoder) Info() slide.SlideInfo {
	return d.info
}

// Descriptor returns the parsed descriptor.
func (d *Decoder) Descriptor() Descriptor {
	return *d.desc
}

// Region stitches an in-bounds region from the tiles of the best native level.
func (d *Decoder) Region(ctx context.Context, r slide.Region) (image.Image, error) {
	if d.closed.Load() {
		return nil, slide.ErrDecoderClosed
	}

	plan, err := slide.PlanRead(d.info, d.scales, r, d.opts.MaxRegionPixels)
	if err != nil {
		return nil, err
	}

	img, err := d.readWindow(ctx, plan.NativeLevel, plan.Window())
	if err != nil {
		return nil, err
	}
	var out image.Image = img
	if plan.NeedsResample() || img.Bounds().Dx() != plan.DstW || img.Bounds().Dy() != plan.DstH {
		out = imgutil.Resample(img, plan.DstW, plan.DstH)
	}
	return imgutil.Flatten(out, imgutil.Background(d.info, r.Padding)), nil
}

type decodedTile struct {
	img    image.Image
	origin image.Point
}

// readWindow assembles window, in pixel coordinates of slide level, from tiles.
func (d *Decoder) readWindow(ctx context.Context, level int, window image.Rectangle) (*image.NRGBA, error) {
	dziLevel := d.desc.MaxLevel() - level
	lw, lh := d.desc.LevelSize(dziLevel)
	window = slide.ClampWindow(window, image.Rect(0, 0, lw, lh))
	if window.Empty() {
		return nil, fmt.Errorf("%w: window outside level %d", slide.ErrDecodeFailure, level)
	}

	ts := d.desc.TileSize
	c0, c1 := window.Min.X/ts, (window.Max.X-1)/ts
	r0, r1 := window.Min.Y/ts, (window.Max.Y-1)/ts

	tiles := make([]decodedTile, (c1-c0+1)*(r1-r0+1))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency())
	i := 0
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			idx := i
			i++
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				img, err := d.decodeTile(dziLevel, col, row)
				if err != nil {
					return err
				}
				x0, y0, _, _ := d.desc.TileRect(col, row, lw, lh)
				tiles[idx] = decodedTile{img: img, origin: image.Pt(x0, y0)}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// the canvas takes window coordinates; draw clips each tile to it
	canvas := image.NewNRGBA(image.Rect(0, 0, window.Dx(), window.Dy()))
	for _, t := range tiles {
		dst := t.img.Bounds().Sub(t.img.Bounds().Min).Add(t.origin.Sub(window.Min))
		draw.Draw(canvas, dst, t.img, t.img.Bounds().Min, draw.Src)
	}
	return canvas, nil
}

func (d *Decoder) decodeTile(dziLevel, col, row int) (image.Image, error) {
	path := filepath.Join(d.filesDir, strconv.Itoa(dziLevel),
		strconv.Itoa(col)+"_"+strconv.Itoa(row)+"."+d.desc.Format)
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: tile %d/%d_%d: %v", slide.ErrDecodeFailure, dziLevel, col, row, err)
	}
	return img, nil
}

func (d *Decoder) concurrency() int {
	if d.opts.DecodeConcurrency > 0 {
		return d.opts.DecodeConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Tile reads one tile of the slide tile grid, padded at the image border.
func (d *Decoder) Tile(ctx context.Context, level, tileX, tileY, z int, padding color.Color) (image.Image, error) {
	if err := d.info.CheckZ(z); err != nil {
		return nil, err
	}
	return imgutil.ExtendedTile(ctx, d.Region, d.info, level, tileX, tileY, z, padding)
}

// Thumbnail returns the whole slide shrunk into maxX x maxY.
func (d *Decoder) Thumbnail(ctx context.Context, maxX, maxY int) (image.Image, error) {
	if d.closed.Load() {
		return nil, slide.ErrDecoderClosed
	}
	w, h := imgutil.FitSize(d.info.Extent.X, d.info.Extent.Y, maxX, maxY)
	level := slide.ThumbnailLevel(d.info, w, h)
	ext := d.info.Levels[level].Extent

	img, err := d.readWindow(ctx, level, image.Rect(0, 0, ext.X, ext.Y))
	if err != nil {
		return nil, err
	}
	return imgutil.Flatten(imaging.Resize(img, w, h, imaging.Lanczos), imgutil.DefaultPadding), nil
}

// Label returns the label image.
func (d *Decoder) Label(context.Context) (image.Image, error) {
	return d.associated("label", d.label)
}

// Macro returns the macro image.
func (d *Decoder) Macro(context.Context) (image.Image, error) {
	return d.associated("macro", d.macro)
}

func (d *Decoder) associated(name, path string) (image.Image, error) {
	if d.closed.Load() {
		return nil, slide.ErrDecoderClosed
	}
	if path == "" {
		return nil, fmt.Errorf("%w: %s", slide.ErrAssociatedImageNotFound, name)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", slide.ErrDecodeFailure, name, err)
	}
	return imgutil.Flatten(imaging.Clone(img), imgutil.DefaultPadding), nil
}

// Close marks the decoder closed. Tiles are opened per request, so no file
// handles are held.
func (d *Decoder) Close() error {
	d.closed.Store(true)
	return nil
}
