package imaging

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// recordingFetcher serves regions cut from src and records every request.
type recordingFetcher struct {
	src   image.Image
	calls []slide.Region
}

func (f *recordingFetcher) fetch(_ context.Context, r slide.Region) (image.Image, error) {
	f.calls = append(f.calls, r)
	return imaging.Crop(f.src, image.Rect(r.StartX, r.StartY, r.StartX+r.SizeX, r.StartY+r.SizeY)), nil
}

func TestBackground(t *testing.T) {
	tests := []struct {
		name    string
		info    slide.SlideInfo
		padding color.Color
		want    color.Color
	}{
		{"rgb default", rgbInfo(10, 10), nil, color.NRGBA{255, 255, 255, 255}},
		{"rgb requested", rgbInfo(10, 10), color.NRGBA{10, 20, 30, 255}, color.NRGBA{10, 20, 30, 255}},
		{"rgb forced opaque", rgbInfo(10, 10), color.NRGBA{10, 20, 30, 0}, color.NRGBA{10, 20, 30, 255}},
		{"gray8 ignores padding", grayInfo(10, 10, 8), color.NRGBA{255, 0, 0, 255}, color.Gray{}},
		{"gray16", grayInfo(10, 10, 16), nil, color.Gray16{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Background(tt.info, tt.padding); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckPadding(t *testing.T) {
	red := color.NRGBA{255, 0, 0, 255}
	tests := []struct {
		name    string
		info    slide.SlideInfo
		padding color.Color
		wantErr bool
	}{
		{"rgb custom", rgbInfo(10, 10), red, false},
		{"rgb default", rgbInfo(10, 10), nil, false},
		{"gray8 default", grayInfo(10, 10, 8), nil, false},
		{"gray8 custom", grayInfo(10, 10, 8), red, true},
		{"gray16 custom", grayInfo(10, 10, 16), red, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPadding(tt.info, tt.padding)
			if tt.wantErr && !errors.Is(err, ErrInvalidPaddingColor) {
				t.Errorf("got %v, want ErrInvalidPaddingColor", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("CheckPadding failed: %v", err)
			}
		})
	}
}

func TestNewCanvas_PixelFormat(t *testing.T) {
	rgb16 := rgbInfo(10, 10)
	rgb16.ChannelDepth = 16

	tests := []struct {
		name string
		info slide.SlideInfo
		want string
	}{
		{"rgb8", rgbInfo(10, 10), "*image.NRGBA"},
		{"gray8", grayInfo(10, 10, 8), "*image.Gray"},
		{"gray16", grayInfo(10, 10, 16), "*image.Gray16"},
		{"rgb16", rgb16, "*image.RGBA64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canvas := NewCanvas(tt.info, 4, 3, Background(tt.info, nil))
			if got := typeName(canvas); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if canvas.Bounds().Dx() != 4 || canvas.Bounds().Dy() != 3 {
				t.Errorf("got bounds %v, want 4x3", canvas.Bounds())
			}
		})
	}
}

func TestExtendedTile_BoundaryTile(t *testing.T) {
	info := rgbInfo(500, 358)
	src := createInMemoryImage(500, 358, color.NRGBA{200, 10, 10, 255})
	f := &recordingFetcher{src: src}

	img, err := ExtendedTile(context.Background(), f.fetch, info, 0, 1, 1, 0, nil)
	if err != nil {
		t.Fatalf("ExtendedTile failed: %v", err)
	}

	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Fatalf("got %dx%d, want 256x256", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if len(f.calls) != 1 {
		t.Fatalf("fetch called %d times, want 1", len(f.calls))
	}
	call := f.calls[0]
	if call.StartX != 256 || call.StartY != 256 || call.SizeX != 244 || call.SizeY != 102 {
		t.Errorf("fetched %+v, want 244x102 at (256,256)", call)
	}

	tests := []struct {
		name string
		x, y int
		want color.NRGBA
	}{
		{"in bounds top-left", 0, 0, color.NRGBA{200, 10, 10, 255}},
		{"in bounds last pixel", 243, 101, color.NRGBA{200, 10, 10, 255}},
		{"right padding", 244, 0, color.NRGBA{255, 255, 255, 255}},
		{"bottom padding", 0, 102, color.NRGBA{255, 255, 255, 255}},
		{"corner padding", 255, 255, color.NRGBA{255, 255, 255, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := color.NRGBAModel.Convert(img.At(tt.x, tt.y)).(color.NRGBA)
			if got != tt.want {
				t.Errorf("pixel (%d,%d): got %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestExtendedRegion_NegativeStart(t *testing.T) {
	info := rgbInfo(100, 100)
	src := createPatternImage(100, 100)
	f := &recordingFetcher{src: src}
	black := color.NRGBA{0, 0, 0, 255}

	r := slide.Region{StartX: -10, StartY: -5, SizeX: 20, SizeY: 20, Padding: black}
	img, err := ExtendedRegion(context.Background(), f.fetch, info, r)
	if err != nil {
		t.Fatalf("ExtendedRegion failed: %v", err)
	}

	if got := color.NRGBAModel.Convert(img.At(0, 0)); got != black {
		t.Errorf("padding pixel: got %v, want black", got)
	}
	// source (0,0) is red and lands at (10,5)
	if got := color.NRGBAModel.Convert(img.At(10, 5)); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("source pixel: got %v, want red", got)
	}
	if f.calls[0].StartX != 0 || f.calls[0].SizeX != 10 || f.calls[0].SizeY != 15 {
		t.Errorf("fetched %+v, want 10x15 at (0,0)", f.calls[0])
	}
}

func TestExtendedRegion_FullyOutside(t *testing.T) {
	info := rgbInfo(500, 358)
	f := &recordingFetcher{src: createInMemoryImage(500, 358, color.Black)}
	red := color.NRGBA{255, 0, 0, 255}

	coords := [][2]int{{10000, 10000}, {-1000, -1000}, {500, 0}, {0, 358}}
	for _, c := range coords {
		r := slide.Region{StartX: c[0], StartY: c[1], SizeX: 64, SizeY: 32, Padding: red}
		img, err := ExtendedRegion(context.Background(), f.fetch, info, r)
		if err != nil {
			t.Fatalf("ExtendedRegion(%v) failed: %v", c, err)
		}
		if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
			t.Errorf("%v: got %v, want 64x32", c, img.Bounds())
		}
		if got := color.NRGBAModel.Convert(img.At(63, 31)); got != red {
			t.Errorf("%v: got %v, want padding colour", c, got)
		}
	}
	if len(f.calls) != 0 {
		t.Errorf("fetch called %d times for out-of-range requests", len(f.calls))
	}
}

func TestExtendedRegion_Gray16KeepsDepth(t *testing.T) {
	info := grayInfo(10, 10, 16)
	src := image.NewGray16(image.Rect(0, 0, 10, 10))
	for i := range src.Pix {
		src.Pix[i] = 0xAB
	}
	fetch := func(_ context.Context, r slide.Region) (image.Image, error) {
		return src.SubImage(image.Rect(r.StartX, r.StartY, r.StartX+r.SizeX, r.StartY+r.SizeY)), nil
	}

	img, err := ExtendedRegion(context.Background(), fetch, info, slide.Region{StartX: 5, StartY: 5, SizeX: 10, SizeY: 10})
	if err != nil {
		t.Fatalf("ExtendedRegion failed: %v", err)
	}
	g, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("got %T, want *image.Gray16", img)
	}
	if got := g.Gray16At(0, 0).Y; got != 0xABAB {
		t.Errorf("in-bounds pixel: got %#x, want 0xabab", got)
	}
	if got := g.Gray16At(9, 9).Y; got != 0 {
		t.Errorf("padding pixel: got %#x, want 0", got)
	}
}

func TestExtendedRegion_Errors(t *testing.T) {
	info := rgbInfo(100, 100)
	fetchErr := errors.New("read failed")
	failing := func(context.Context, slide.Region) (image.Image, error) { return nil, fetchErr }

	if _, err := ExtendedRegion(context.Background(), failing, info, slide.Region{Level: 1, SizeX: 1, SizeY: 1}); !errors.Is(err, slide.ErrLevelOutOfRange) {
		t.Errorf("got %v, want ErrLevelOutOfRange", err)
	}
	if _, err := ExtendedRegion(context.Background(), failing, info, slide.Region{SizeX: 0, SizeY: 1}); !errors.Is(err, slide.ErrInvalidRegion) {
		t.Errorf("got %v, want ErrInvalidRegion", err)
	}
	if _, err := ExtendedRegion(context.Background(), failing, info, slide.Region{StartX: 90, SizeX: 20, SizeY: 20}); !errors.Is(err, fetchErr) {
		t.Errorf("got %v, want fetch error", err)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *image.NRGBA:
		return "*image.NRGBA"
	case *image.Gray:
		return "*image.Gray"
	case *image.Gray16:
		return "*image.Gray16"
	case *image.RGBA64:
		return "*image.RGBA64"
	case *image.RGBA:
		return "*image.RGBA"
	}
	return "other"
}
