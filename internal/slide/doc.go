// Package slide defines the data model and decoder capability for whole-slide images.
//
// A slide is a multi-resolution image pyramid. Level 0 is the full resolution; every
// further level is a downsampled copy whose downsample factor (relative to level 0)
// strictly increases with the level index. Slides may carry several channels (for
// example fluorescence images) and several focal planes (z-stack layers).
//
// # Decoders
//
// A Decoder wraps exactly one opened pyramid file. Backends for concrete file
// families register themselves in a Registry keyed by file extension; the Registry
// picks the backend for a path and validates the SlideInfo the backend computed at
// open time. SlideInfo is always computed eagerly so that level, z and size
// validation never needs to reopen the file.
//
// # Read Planning
//
// PlanRead implements the arithmetic every backend shares: it maps a request for a
// region at a pyramid level onto a window of a native (stored) resolution, checks the
// pixel budget before any I/O happens and reports the exact target size the window
// must be resampled to.
//
// # Errors
//
// All failures surface as wrapped sentinel errors (ErrSlideNotFound,
// ErrLevelOutOfRange, ErrRegionTooLarge, ...). Kind returns the stable name of the
// taxonomy entry an error belongs to, which the boundary layer reports to clients.
package slide
