// Package handlecache keeps opened slide decoders for reuse across requests.
//
// Entries move through Opening, Open, Closing and Closed. Concurrent requests
// for a slide that is not open share a single open; waiting for it honours the
// caller's context while the open itself always runs to completion. Every
// Acquire returns a Handle holding a reference, and referenced decoders are
// never closed by eviction or the idle sweep. Above capacity the least
// recently used unreferenced decoders are closed; a background sweeper closes
// unreferenced decoders idle for longer than the configured timeout.
//
// Usage:
//
//	h, err := cache.Acquire(ctx, id, path)
//	if err != nil {
//		return err
//	}
//	defer h.Release()
//	img, err := h.Decoder().Region(ctx, r)
package handlecache
