package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestResample(t *testing.T) {
	tests := []struct {
		name string
		src  image.Image
		w, h int
		want string
	}{
		{"nrgba down", createPatternImage(100, 80), 50, 40, "*image.NRGBA"},
		{"nrgba up", createPatternImage(10, 10), 25, 25, "*image.NRGBA"},
		{"gray", image.NewGray(image.Rect(0, 0, 20, 20)), 7, 9, "*image.Gray"},
		{"gray16", image.NewGray16(image.Rect(0, 0, 20, 20)), 10, 10, "*image.Gray16"},
		{"rgba64", image.NewRGBA64(image.Rect(0, 0, 20, 20)), 3, 30, "*image.RGBA64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resample(tt.src, tt.w, tt.h)
			if got.Bounds().Dx() != tt.w || got.Bounds().Dy() != tt.h {
				t.Errorf("got %v, want %dx%d", got.Bounds(), tt.w, tt.h)
			}
			if typeName(got) != tt.want {
				t.Errorf("got %T, want %s", got, tt.want)
			}
		})
	}
}

func TestResample_SameSize(t *testing.T) {
	src := createPatternImage(16, 16)
	if got := Resample(src, 16, 16); got != image.Image(src) {
		t.Error("same size resample should return the input")
	}
}

func TestResample_PreservesUniformColor(t *testing.T) {
	src := createInMemoryImage(64, 64, color.NRGBA{100, 150, 200, 255})
	got := Resample(src, 17, 23)
	c := color.NRGBAModel.Convert(got.At(8, 11)).(color.NRGBA)
	if c != (color.NRGBA{100, 150, 200, 255}) {
		t.Errorf("got %v, want uniform colour preserved", c)
	}
}

func TestFlatten(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	src.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})
	// (1,1) stays fully transparent

	got := Flatten(src, color.NRGBA{255, 255, 255, 255})
	if c := color.NRGBAModel.Convert(got.At(0, 0)); c != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("opaque pixel: got %v", c)
	}
	if c := color.NRGBAModel.Convert(got.At(1, 1)); c != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("transparent pixel: got %v, want white", c)
	}

	opaque := createInMemoryImage(4, 4, color.NRGBA{1, 2, 3, 255})
	if Flatten(opaque, color.White) != image.Image(opaque) {
		t.Error("opaque image should be returned unchanged")
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{1000, 500, 100, 100, 100, 50},
		{500, 1000, 100, 100, 50, 100},
		{50, 20, 100, 100, 50, 20},
		{1000, 1, 10, 10, 10, 1},
		{500, 358, 500, 500, 500, 358},
		{500, 358, 256, 256, 256, 183},
	}

	for _, tt := range tests {
		w, h := FitSize(tt.w, tt.h, tt.maxW, tt.maxH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitSize(%d,%d,%d,%d) = %d,%d; want %d,%d",
				tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestFitInto(t *testing.T) {
	src := createPatternImage(400, 200)
	got := FitInto(src, 100, 100)
	if got.Bounds().Dx() != 100 || got.Bounds().Dy() != 50 {
		t.Errorf("got %v, want 100x50", got.Bounds())
	}
	if FitInto(src, 1000, 1000) != image.Image(src) {
		t.Error("FitInto should never enlarge")
	}
}
