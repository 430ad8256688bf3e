package dzi

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Write defaults.
const (
	DefaultTileSize = 254
	DefaultOverlap  = 1
)

// WriteOptions configures Write.
type WriteOptions struct {
	TileSize int
	Overlap  int

	// Format of the tile files. Empty selects JPEG.
	Format  imgutil.Format
	Quality int

	// Label and Macro are written as associated images when set.
	Label image.Image
	Macro image.Image
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Format == "" {
		o.Format = imgutil.JPEG
	}
	if o.Quality == 0 {
		o.Quality = imgutil.DefaultQuality
	}
	return o
}

// Write exports img as the pyramid dir/name.dzi and returns the descriptor path.
// Every file is replaced atomically and the descriptor is written last, so a
// reader never sees a descriptor without its tiles.
func Write(ctx context.Context, dir, name string, img image.Image, opts WriteOptions) (string, error) {
	opts = opts.withDefaults()
	if opts.Overlap >= opts.TileSize {
		return "", fmt.Errorf("overlap %d must be smaller than tile size %d", opts.Overlap, opts.TileSize)
	}
	if err := imgutil.ValidateQuality(opts.Quality); err != nil {
		return "", err
	}

	b := img.Bounds()
	if b.Empty() {
		return "", fmt.Errorf("cannot write empty image")
	}

	desc := &Descriptor{Format: string(opts.Format), Overlap: opts.Overlap, TileSize: opts.TileSize}
	desc.Size.Width, desc.Size.Height = b.Dx(), b.Dy()

	descPath := filepath.Join(dir, name+"."+Extension)
	filesDir := FilesDir(descPath)

	level := imaging.Clone(img)
	for l := desc.MaxLevel(); l >= 0; l-- {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		w, h := desc.LevelSize(l)
		if level.Bounds().Dx() != w || level.Bounds().Dy() != h {
			level = imaging.Resize(level, w, h, imaging.Box)
		}
		if err := writeLevel(ctx, filepath.Join(filesDir, strconv.Itoa(l)), desc, level, opts); err != nil {
			return "", err
		}
	}

	for _, a := range []struct {
		name string
		img  image.Image
	}{{"label", opts.Label}, {"macro", opts.Macro}} {
		if a.img == nil {
			continue
		}
		if err := writeImage(filepath.Join(filesDir, a.name+"."+string(opts.Format)), a.img, opts); err != nil {
			return "", err
		}
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor: %w", err)
	}
	if err := writeFile(descPath, raw); err != nil {
		return "", err
	}
	return descPath, nil
}

func writeLevel(ctx context.Context, dir string, desc *Descriptor, level *image.NRGBA, opts WriteOptions) error {
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	w, h := level.Bounds().Dx(), level.Bounds().Dy()
	cols := ceilDiv(w, desc.TileSize)
	rows := ceilDiv(h, desc.TileSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				x0, y0, x1, y1 := desc.TileRect(col, row, w, h)
				tile := imaging.Crop(level, image.Rect(x0, y0, x1, y1))
				path := filepath.Join(dir, strconv.Itoa(col)+"_"+strconv.Itoa(row)+"."+desc.Format)
				return writeImage(path, tile, opts)
			})
		}
	}
	return g.Wait()
}

func writeImage(path string, img image.Image, opts WriteOptions) error {
	var buf bytes.Buffer
	if err := imgutil.Encode(&buf, img, opts.Format, opts.Quality); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// atomic.WriteFile leaves new files with the temp file mode
	if err := os.Chmod(path, filePerms); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return nil
}
