package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// MinTextHeight is the height labels are upscaled to before recognition.
const MinTextHeight = 600

// ErrUnavailable is returned when Tesseract cannot be initialised.
var ErrUnavailable = errors.New("ocr unavailable")

// Bounds is a rectangle in label pixel coordinates.
type Bounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Word is one recognised word.
type Word struct {
	Text string `json:"text"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
	Bounds     Bounds  `json:"bounds"`
}

// Result is the text of one label image.
type Result struct {
	Language string `json:"language"`
	FullText string `json:"full_text"`

	// Words may be empty when Tesseract cannot produce boxes; FullText is
	// still set.
	Words []Word `json:"words"`
}

// Reader extracts text from images.
type Reader struct {
	// Language is the default Tesseract language code, such as "eng".
	Language string

	// TessdataPrefix overrides the Tesseract data directory when set.
	TessdataPrefix string
}

// NewReader returns a reader using language by default.
func NewReader(language string) *Reader {
	if language == "" {
		language = "eng"
	}
	return &Reader{Language: language}
}

// Text recognises the text of img. An empty language selects the reader's
// default. Word bounds are given in the coordinates of img.
func (r *Reader) Text(ctx context.Context, img image.Image, language string) (*Result, error) {
	if language == "" {
		language = r.Language
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared, scale := prepare(img)
	var buf bytes.Buffer
	if err := png.Encode(&buf, prepared); err != nil {
		return nil, fmt.Errorf("failed to encode label: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if r.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(r.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("%w: failed to set tessdata path: %w", ErrUnavailable, err)
		}
	}
	if err := client.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Language: language,
		FullText: strings.TrimSpace(text),
		Words:    []Word{},
	}

	// Return just text if boxes fail
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return res, nil
	}
	for _, box := range boxes {
		if strings.TrimSpace(box.Word) == "" {
			continue
		}
		res.Words = append(res.Words, Word{
			Text:       box.Word,
			Confidence: float64(box.Confidence) / 100.0,
			Bounds:     unscale(box.Box, scale),
		})
	}
	return res, nil
}

// Version returns the Tesseract version, or an error wrapping ErrUnavailable.
func Version() (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	v := client.Version()
	if v == "" {
		return "", ErrUnavailable
	}
	return v, nil
}

// prepare converts img to grayscale and upscales it so that its height is at
// least MinTextHeight. It returns the image and the applied scale.
func prepare(img image.Image) (image.Image, float64) {
	gray := imaging.Grayscale(img)
	h := gray.Bounds().Dy()
	if h == 0 || h >= MinTextHeight {
		return gray, 1
	}
	scale := float64(MinTextHeight) / float64(h)
	w := int(float64(gray.Bounds().Dx())*scale + 0.5)
	return imaging.Resize(gray, w, MinTextHeight, imaging.Lanczos), scale
}

func unscale(r image.Rectangle, scale float64) Bounds {
	f := func(v int) int { return int(float64(v)/scale + 0.5) }
	return Bounds{X1: f(r.Min.X), Y1: f(r.Min.Y), X2: f(r.Max.X), Y2: f(r.Max.Y)}
}
