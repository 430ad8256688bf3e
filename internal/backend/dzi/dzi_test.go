package dzi

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// createGradientImage returns an image whose pixel values encode their position.
func createGradientImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x % 251), uint8(y % 251), uint8((x + y) % 7 * 30), 255})
		}
	}
	return img
}

func writeTestPyramid(t *testing.T, img image.Image, opts WriteOptions) string {
	t.Helper()
	if opts.Format == "" {
		opts.Format = imgutil.PNG
	}
	path, err := Write(context.Background(), t.TempDir(), "slide", img, opts)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return path
}

func TestParseDescriptor(t *testing.T) {
	raw := `<?xml version="1.0" encoding="UTF-8"?>
<Image xmlns="http://schemas.microsoft.com/deepzoom/2008" TileSize="254" Overlap="1" Format="JPEG">
  <Size Width="1000" Height="716"/>
</Image>`

	d, err := ParseDescriptor(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseDescriptor failed: %v", err)
	}
	if d.TileSize != 254 || d.Overlap != 1 || d.Format != "jpeg" {
		t.Errorf("got %+v", d)
	}
	if d.Size.Width != 1000 || d.Size.Height != 716 {
		t.Errorf("got size %dx%d", d.Size.Width, d.Size.Height)
	}
	if d.MaxLevel() != 10 {
		t.Errorf("MaxLevel: got %d, want 10", d.MaxLevel())
	}
	if w, h := d.LevelSize(9); w != 500 || h != 358 {
		t.Errorf("LevelSize(9): got %dx%d, want 500x358", w, h)
	}
	if w, h := d.LevelSize(0); w != 1 || h != 1 {
		t.Errorf("LevelSize(0): got %dx%d, want 1x1", w, h)
	}
}

func TestParseDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not xml", "hello"},
		{"wrong root", `<Collection TileSize="254" Overlap="1" Format="png"><Size Width="1" Height="1"/></Collection>`},
		{"zero size", `<Image TileSize="254" Overlap="1" Format="png"><Size Width="0" Height="1"/></Image>`},
		{"zero tile", `<Image TileSize="0" Overlap="0" Format="png"><Size Width="1" Height="1"/></Image>`},
		{"overlap too large", `<Image TileSize="4" Overlap="4" Format="png"><Size Width="1" Height="1"/></Image>`},
		{"no format", `<Image TileSize="4" Overlap="0"><Size Width="1" Height="1"/></Image>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDescriptor(strings.NewReader(tt.raw)); err == nil {
				t.Error("ParseDescriptor should fail")
			}
		})
	}
}

func TestTileRect(t *testing.T) {
	d := &Descriptor{TileSize: 254, Overlap: 1}

	type rect struct{ X0, Y0, X1, Y1 int }
	tests := []struct {
		col, row int
		want     rect
	}{
		{0, 0, rect{0, 0, 255, 255}},
		{1, 0, rect{253, 0, 509, 255}},
		{3, 2, rect{761, 507, 1000, 716}},
	}
	for _, tt := range tests {
		x0, y0, x1, y1 := d.TileRect(tt.col, tt.row, 1000, 716)
		if diff := cmp.Diff(tt.want, rect{x0, y0, x1, y1}); diff != "" {
			t.Errorf("TileRect(%d,%d) mismatch (-want +got):\n%s", tt.col, tt.row, diff)
		}
	}
}

func TestWrite_Layout(t *testing.T) {
	path := writeTestPyramid(t, createGradientImage(600, 300), WriteOptions{TileSize: 256, Overlap: 1})

	if filepath.Ext(path) != ".dzi" {
		t.Errorf("descriptor path %s", path)
	}
	files := FilesDir(path)
	for _, rel := range []string{"10/0_0.png", "10/2_1.png", "9/1_0.png", "0/0_0.png"} {
		if _, err := os.Stat(filepath.Join(files, rel)); err != nil {
			t.Errorf("missing tile %s: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(files, "10", "3_0.png")); err == nil {
		t.Error("unexpected tile 10/3_0.png")
	}
}

func TestRoundTrip(t *testing.T) {
	src := createGradientImage(600, 300)
	path := writeTestPyramid(t, src, WriteOptions{TileSize: 128, Overlap: 2})

	d, err := Open(context.Background(), path, "rt", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	info := d.Info()
	if info.Extent != (slide.Extent{X: 600, Y: 300, Z: 1}) || info.TileExtent.X != 128 {
		t.Fatalf("unexpected info %+v", info)
	}
	if err := info.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	// 600 -> 300 -> 150 -> 75
	if info.NumLevels != 4 {
		t.Errorf("got %d levels, want 4", info.NumLevels)
	}

	// crosses tile boundaries in both directions
	img, err := d.Region(context.Background(), slide.Region{StartX: 100, StartY: 100, SizeX: 200, SizeY: 150})
	if err != nil {
		t.Fatalf("Region failed: %v", err)
	}
	for _, p := range []image.Point{{0, 0}, {27, 27}, {28, 28}, {199, 149}, {155, 28}} {
		want := src.NRGBAAt(100+p.X, 100+p.Y)
		got := color.NRGBAModel.Convert(img.At(p.X, p.Y)).(color.NRGBA)
		if got != want {
			t.Errorf("pixel %v: got %v, want %v", p, got, want)
		}
	}
}

func TestTileAndThumbnail(t *testing.T) {
	path := writeTestPyramid(t, createGradientImage(300, 200), WriteOptions{TileSize: 128})
	d, err := Open(context.Background(), path, "x", Options{DecodeConcurrency: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	tile, err := d.Tile(context.Background(), 0, 2, 1, 0, color.NRGBA{0, 0, 0, 255})
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if tile.Bounds().Dx() != 128 || tile.Bounds().Dy() != 128 {
		t.Errorf("tile size %v", tile.Bounds())
	}
	// tile (2,1) covers x 256..383, only 256..299 is inside
	if got := color.NRGBAModel.Convert(tile.At(100, 10)); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("padding pixel: got %v", got)
	}

	thumb, err := d.Thumbnail(context.Background(), 60, 60)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if thumb.Bounds().Dx() != 60 || thumb.Bounds().Dy() != 40 {
		t.Errorf("thumbnail size %v, want 60x40", thumb.Bounds())
	}
}

func TestAssociatedImages(t *testing.T) {
	label := createGradientImage(40, 20)
	path := writeTestPyramid(t, createGradientImage(64, 64), WriteOptions{Label: label})

	d, err := Open(context.Background(), path, "x", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	img, err := d.Label(context.Background())
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Errorf("label size %v", img.Bounds())
	}
	if _, err := d.Macro(context.Background()); !errors.Is(err, slide.ErrAssociatedImageNotFound) {
		t.Errorf("Macro: got %v, want ErrAssociatedImageNotFound", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Open(context.Background(), filepath.Join(dir, "missing.dzi"), "x", Options{}); !errors.Is(err, slide.ErrSlideNotFound) {
		t.Errorf("missing: got %v, want ErrSlideNotFound", err)
	}

	garbage := filepath.Join(dir, "garbage.dzi")
	if err := os.WriteFile(garbage, []byte("<nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), garbage, "x", Options{}); !errors.Is(err, slide.ErrCorruptFile) {
		t.Errorf("garbage: got %v, want ErrCorruptFile", err)
	}

	noTiles := filepath.Join(dir, "notiles.dzi")
	desc := `<Image TileSize="254" Overlap="1" Format="png"><Size Width="10" Height="10"/></Image>`
	if err := os.WriteFile(noTiles, []byte(desc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), noTiles, "x", Options{}); !errors.Is(err, slide.ErrCorruptFile) {
		t.Errorf("no tiles: got %v, want ErrCorruptFile", err)
	}
}

func TestRegion_MissingTile(t *testing.T) {
	path := writeTestPyramid(t, createGradientImage(300, 300), WriteOptions{TileSize: 128})
	if err := os.Remove(filepath.Join(FilesDir(path), "9", "1_1.png")); err != nil {
		t.Fatal(err)
	}
	d, err := Open(context.Background(), path, "x", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	_, err = d.Region(context.Background(), slide.Region{StartX: 130, StartY: 130, SizeX: 10, SizeY: 10})
	if !errors.Is(err, slide.ErrDecodeFailure) {
		t.Errorf("got %v, want ErrDecodeFailure", err)
	}
	// the handle stays usable
	if _, err := d.Region(context.Background(), slide.Region{SizeX: 10, SizeY: 10}); err != nil {
		t.Errorf("Region after failure: %v", err)
	}
}

func TestReadWindow_ShiftsPastEdge(t *testing.T) {
	src := createGradientImage(300, 300)
	path := writeTestPyramid(t, src, WriteOptions{TileSize: 128})
	d, err := Open(context.Background(), path, "x", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	img, err := d.readWindow(context.Background(), 0, image.Rect(295, 296, 305, 306))
	if err != nil {
		t.Fatalf("readWindow failed: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 10 {
		t.Fatalf("window shrank to %v", img.Bounds())
	}
	if got, want := img.NRGBAAt(0, 0), src.NRGBAAt(290, 290); got != want {
		t.Errorf("pixel (0,0) = %v, want source (290,290) %v", got, want)
	}
}

func TestBackend_Registry(t *testing.T) {
	path := writeTestPyramid(t, createGradientImage(10, 10), WriteOptions{})
	head, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !Sniff(head) {
		t.Errorf("Sniff failed on %q", head)
	}

	reg := slide.NewRegistry(Backend(Options{}))
	dec, err := reg.Open(context.Background(), path, "sniffed")
	if err != nil {
		t.Fatalf("Registry.Open failed: %v", err)
	}
	_ = dec.Close()
}
