package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	flag "github.com/spf13/pflag"

	"github.com/ironsheep/slide-tiles-mcp/internal/backend/dzi"
	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
)

func newPyramidFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("pyramid", flag.ContinueOnError)
	fs.String("name", "", "pyramid name, defaults to the image file stem")
	fs.Int("tile-size", dzi.DefaultTileSize, "tile edge in pixels")
	fs.Int("overlap", dzi.DefaultOverlap, "tile overlap in pixels")
	fs.String("format", "jpeg", "tile format: jpeg or png")
	fs.Int("quality", imgutil.DefaultQuality, "JPEG quality 0-100")
	fs.String("label", "", "label image to attach")
	fs.String("macro", "", "macro image to attach")
	return fs
}

// runPyramid exports an image as a Deep Zoom pyramid.
func runPyramid(ctx context.Context, stdout io.Writer, args []string) error {
	fs := newPyramidFlags()
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: slide-mcp pyramid [options] <image> <dir>")
	}
	src, dir := fs.Arg(0), fs.Arg(1)

	name, _ := fs.GetString("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}
	formatName, _ := fs.GetString("format")
	format, err := imgutil.ParseFormat(formatName)
	if err != nil {
		return err
	}
	opts := dzi.WriteOptions{Format: format}
	opts.TileSize, _ = fs.GetInt("tile-size")
	opts.Overlap, _ = fs.GetInt("overlap")
	opts.Quality, _ = fs.GetInt("quality")

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	if opts.Label, err = openOptional(fs, "label"); err != nil {
		return err
	}
	if opts.Macro, err = openOptional(fs, "macro"); err != nil {
		return err
	}

	path, err := dzi.Write(ctx, dir, name, img, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func openOptional(fs *flag.FlagSet, name string) (image.Image, error) {
	path, _ := fs.GetString(name)
	if path == "" {
		return nil, nil
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s image %s: %w", name, path, err)
	}
	return img, nil
}
