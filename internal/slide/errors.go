package slide

import "errors"

// Resolution and open-time errors.
var (
	// ErrSlideNotFound indicates the slide id could not be resolved to a file.
	ErrSlideNotFound = errors.New("slide: not found")

	// ErrUnsupportedFormat indicates no backend can open the file.
	ErrUnsupportedFormat = errors.New("slide: unsupported format")

	// ErrCorruptFile indicates the file was recognised but its pyramid is invalid.
	ErrCorruptFile = errors.New("slide: corrupt file")
)

// Request errors. These are client-correctable.
var (
	// ErrLevelOutOfRange indicates the requested pyramid level does not exist.
	ErrLevelOutOfRange = errors.New("slide: pyramid level out of range")

	// ErrUnsupportedZStack indicates the requested z layer does not exist.
	ErrUnsupportedZStack = errors.New("slide: z-stack layer not available")

	// ErrRegionTooLarge indicates the request exceeds the configured pixel budget.
	ErrRegionTooLarge = errors.New("slide: requested region too large")

	// ErrInvalidChannelSelection indicates unknown or duplicate channel ids.
	ErrInvalidChannelSelection = errors.New("slide: invalid channel selection")

	// ErrInvalidRegion indicates a region with a non-positive size.
	ErrInvalidRegion = errors.New("slide: invalid region size")

	// ErrThumbnailTooLarge indicates a thumbnail box above the configured maximum.
	ErrThumbnailTooLarge = errors.New("slide: requested thumbnail too large")
)

// Decode errors.
var (
	// ErrDecodeFailure indicates pixel data could not be decoded.
	ErrDecodeFailure = errors.New("slide: decode failure")

	// ErrAssociatedImageNotFound indicates the slide has no label or macro image.
	ErrAssociatedImageNotFound = errors.New("slide: associated image not found")

	// ErrDecoderClosed indicates use of a decoder after Close.
	ErrDecoderClosed = errors.New("slide: decoder closed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrSlideNotFound, "SlideNotFound"},
	{ErrUnsupportedFormat, "UnsupportedFormat"},
	{ErrCorruptFile, "CorruptFile"},
	{ErrLevelOutOfRange, "LevelOutOfRange"},
	{ErrUnsupportedZStack, "UnsupportedZStack"},
	{ErrRegionTooLarge, "RegionTooLarge"},
	{ErrInvalidChannelSelection, "InvalidChannelSelection"},
	{ErrInvalidRegion, "InvalidRegion"},
	{ErrThumbnailTooLarge, "ThumbnailTooLarge"},
	{ErrDecodeFailure, "DecodeFailure"},
	{ErrAssociatedImageNotFound, "AssociatedImageNotFound"},
	{ErrDecoderClosed, "DecoderClosed"},
}

// Kind returns the taxonomy name of err, or "Internal" when err matches none.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsClientError reports whether err was caused by request parameters the
// caller can correct.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrLevelOutOfRange),
		errors.Is(err, ErrUnsupportedZStack),
		errors.Is(err, ErrRegionTooLarge),
		errors.Is(err, ErrInvalidChannelSelection),
		errors.Is(err, ErrInvalidRegion),
		errors.Is(err, ErrThumbnailTooLarge):
		return true
	}
	return false
}
