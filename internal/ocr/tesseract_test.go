package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// labelImage renders text in basicfont on a white label.
func labelImage(text string) *image.RGBA {
	width := len(text)*7 + 40
	img := image.NewRGBA(image.Rect(0, 0, width, 40))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(20), Y: fixed.I(25)},
	}
	d.DrawString(text)
	return img
}

func skipWithoutTesseract(t *testing.T) {
	t.Helper()
	if _, err := Version(); err != nil {
		t.Skip("Tesseract not available")
	}
}

func TestPrepare_Upscales(t *testing.T) {
	img := labelImage("S-1234")
	got, scale := prepare(img)

	if got.Bounds().Dy() != MinTextHeight {
		t.Errorf("height: got %d, want %d", got.Bounds().Dy(), MinTextHeight)
	}
	if scale != float64(MinTextHeight)/40 {
		t.Errorf("scale: got %v", scale)
	}
	r, g, b, _ := got.At(0, 0).RGBA()
	if r != g || g != b {
		t.Errorf("not grayscale: %d %d %d", r, g, b)
	}
}

func TestPrepare_KeepsLargeImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 800, MinTextHeight+10))
	got, scale := prepare(img)
	if scale != 1 || got.Bounds().Dy() != MinTextHeight+10 {
		t.Errorf("got %v at scale %v", got.Bounds(), scale)
	}
}

func TestUnscale(t *testing.T) {
	got := unscale(image.Rect(30, 60, 150, 90), 15)
	want := Bounds{X1: 2, Y1: 4, X2: 10, Y2: 6}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNewReader_DefaultLanguage(t *testing.T) {
	if got := NewReader("").Language; got != "eng" {
		t.Errorf("got %q", got)
	}
	if got := NewReader("deu").Language; got != "deu" {
		t.Errorf("got %q", got)
	}
}

func TestText_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReader("eng").Text(ctx, labelImage("X"), "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestText_RealLabel(t *testing.T) {
	skipWithoutTesseract(t)

	res, err := NewReader("eng").Text(context.Background(), labelImage("HELLO WORLD"), "")
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if res.Language != "eng" {
		t.Errorf("language: got %q", res.Language)
	}
	t.Logf("Extracted text: %q, words: %d", res.FullText, len(res.Words))

	for _, w := range res.Words {
		if w.Bounds.X2 > 200 || w.Bounds.Y2 > 40 {
			t.Errorf("word %q bounds %+v outside the label", w.Text, w.Bounds)
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			t.Errorf("word %q confidence %v", w.Text, w.Confidence)
		}
	}
	if !strings.Contains(strings.ToUpper(res.FullText), "HELLO") {
		t.Log("Warning: HELLO not recognised")
	}
}

func TestText_UnknownLanguage(t *testing.T) {
	skipWithoutTesseract(t)

	_, err := NewReader("eng").Text(context.Background(), labelImage("X"), "zz_nonexistent")
	if err == nil {
		t.Error("expected error for unknown language")
	}
}
