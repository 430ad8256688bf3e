// Package manager is the entry point of the tile-serving core.
//
// A Manager resolves slide ids to files through a storage.Mapper, obtains an
// open decoder from the handle cache and serves region, tile, thumbnail, label
// and macro requests from it. Region and tile requests are validated in a
// fixed order (level, z, channels, pixel budget) before any decode happens.
// Requests lying entirely inside the level go straight to the decoder; all
// others are assembled on a padded canvas. Decode work is bounded by a
// semaphore shared by all requests.
package manager
