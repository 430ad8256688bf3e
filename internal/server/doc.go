// Package server implements the MCP (Model Context Protocol) server for
// whole-slide image tiles.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// tools/call requests run concurrently, so responses may arrive out of
// request order; clients match them by id.
//
// # Available Tools
//
// Metadata:
//   - slide_info: Extent, pyramid levels, tile size, pixel size and channels
//   - slide_file_paths: Storage paths of a slide
//
// Pixel data:
//   - slide_region: Region of any position and size at a pyramid level
//   - slide_tile: One tile of the tile grid
//   - slide_tiles: Several tiles of one level, with per-tile errors
//   - slide_thumbnail: Whole slide fitted into a box, optionally with a tile grid overlay
//
// Associated images:
//   - slide_label, slide_macro: Label and macro images
//   - slide_label_text: OCR of the label
//
// Health:
//   - slide_cache_status: Handle cache counters and request limits
//
// Image results carry width, height, mime_type and the encoded image as
// image_base64.
//
// # Error Handling
//
// Tool failures are JSON-RPC error responses:
//   - code: -32602 when the request can be corrected (bad arguments, level
//     out of range, region too large), -32000 otherwise
//   - message: "Tool execution failed"
//   - data: {"kind": ..., "message": ..., "request_id": ...}
//
// Every tool call gets a request id that is also attached to its log records.
//
// # Usage
//
//	srv := server.New(server.Options{Manager: mgr, OCR: ocr.NewReader("eng"), Logger: logger})
//	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
package server
