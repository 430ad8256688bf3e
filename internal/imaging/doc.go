// Package imaging provides the pixel-level building blocks of the slide server.
//
// It contains the pure geometry of pyramid levels (level extents, overlap checks),
// the padding logic for requests that cross the image boundary, channel selection,
// resampling and output encoding. Functions here never perform file I/O; pixel data
// is obtained from callers through Fetcher callbacks.
//
// # Coordinate System
//
// All coordinates are 0-based pixels of the requested pyramid level:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - A region (startX, startY, sizeX, sizeY) covers [startX, startX+sizeX) x [startY, startY+sizeY)
//
// Negative or very large start coordinates are valid. They produce partly or fully
// padded results, never errors.
//
// # Padding
//
// Pixels outside the level extent are filled with the background returned by
// Background: the requested padding colour (default white) for 8-bit RGB slides,
// per-channel zero for every other pixel format. The decoder is only ever asked for
// the in-bounds part of a request.
//
// # Pixel Formats
//
// Canvases follow the slide's format: *image.NRGBA for 8-bit RGB, *image.Gray and
// *image.Gray16 for single channel slides and *image.RGBA64 for other 16-bit slides.
// Resampling keeps 16-bit data at 16 bits.
//
// # Thread Safety
//
// Every function is stateless and safe for concurrent use. Each call returns a newly
// allocated image.
package imaging
