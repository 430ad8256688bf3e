package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// Format is an output image format.
type Format string

// Supported output formats.
const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
	GIF  Format = "gif"
)

// DefaultQuality is the JPEG quality used when a request names none.
const DefaultQuality = 90

var formats = map[Format]struct {
	enc  imaging.Format
	mime string
}{
	JPEG: {imaging.JPEG, "image/jpeg"},
	PNG:  {imaging.PNG, "image/png"},
	TIFF: {imaging.TIFF, "image/tiff"},
	BMP:  {imaging.BMP, "image/bmp"},
	GIF:  {imaging.GIF, "image/gif"},
}

// ParseFormat parses a format name. The empty string selects JPEG, "jpg" and
// "tif" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return JPEG, nil
	case "jpg":
		return JPEG, nil
	case "tif":
		return TIFF, nil
	default:
		if _, ok := formats[f]; ok {
			return f, nil
		}
		return "", fmt.Errorf("%w: %q (supported: jpeg, png, tiff, bmp, gif)", ErrInvalidImageFormat, s)
	}
}

// MimeType returns the media type of f.
func (f Format) MimeType() string {
	return formats[f].mime
}

// ValidateQuality checks that q is in [0, 100].
func ValidateQuality(q int) error {
	if q < 0 || q > 100 {
		return fmt.Errorf("%w: %d, must be between 0 and 100", ErrInvalidImageQuality, q)
	}
	return nil
}

// Encode writes img to w. quality is only used by JPEG.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	spec, ok := formats[f]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidImageFormat, f)
	}
	if err := ValidateQuality(quality); err != nil {
		return err
	}
	if err := imaging.Encode(w, img, spec.enc, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode %s image: %w", f, err)
	}
	return nil
}

// EncodedImage is an encoded image ready to be returned to a client.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodeBase64 encodes img and wraps the bytes in base64.
func EncodeBase64(img image.Image, f Format, quality int) (*EncodedImage, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f, quality); err != nil {
		return nil, err
	}
	return &EncodedImage{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    f.MimeType(),
	}, nil
}
