package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	slogcontext "github.com/veqryn/slog-context"

	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
	"github.com/ironsheep/slide-tiles-mcp/internal/logging"
	"github.com/ironsheep/slide-tiles-mcp/internal/manager"
	"github.com/ironsheep/slide-tiles-mcp/internal/ocr"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// JSON-RPC error codes used by tool calls.
const (
	codeInvalidParams = -32602
	codeToolFailure   = -32000
)

var (
	errInvalidArguments = errors.New("invalid arguments")
	errUnknownTool      = errors.New("unknown tool")
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "slide_info", "slide_tile").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolError is the data member of a failed tool call.
type ToolError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Failures return code -32602 when the caller can correct the request and
// -32000 otherwise, with a ToolError as data.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params",
			ToolError{Kind: "InvalidArguments", Message: err.Error()})
	}

	requestID := uuid.NewString()
	ctx = logging.WithRequest(ctx, s.logger, requestID, params.Name)
	log := slogcontext.FromCtx(ctx)

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		code, kind := classify(err)
		level := slog.LevelWarn
		if code == codeToolFailure && kind == "Internal" {
			level = slog.LevelError
		}
		log.Log(ctx, level, "tool call failed",
			slog.String("kind", kind),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return s.errorResponse(req.ID, code, "Tool execution failed",
			ToolError{Kind: kind, Message: err.Error(), RequestID: requestID})
	}
	log.Info("tool call", slog.Duration("elapsed", elapsed))

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// classify returns the JSON-RPC code and error kind of a tool failure.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidArguments), errors.Is(err, errUnknownTool):
		return codeInvalidParams, "InvalidArguments"
	case errors.Is(err, ocr.ErrUnavailable):
		return codeToolFailure, "OCRUnavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return codeToolFailure, "Canceled"
	}
	if kind, ok := imgutil.Kind(err); ok {
		return codeInvalidParams, kind
	}
	if slide.IsClientError(err) {
		return codeInvalidParams, slide.Kind(err)
	}
	return codeToolFailure, slide.Kind(err)
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Metadata
	case "slide_info":
		return s.handleSlideInfo(ctx, args)
	case "slide_file_paths":
		return s.handleSlideFilePaths(ctx, args)

	// Pixel data
	case "slide_region":
		return s.handleSlideRegion(ctx, args)
	case "slide_tile":
		return s.handleSlideTile(ctx, args)
	case "slide_tiles":
		return s.handleSlideTiles(ctx, args)
	case "slide_thumbnail":
		return s.handleSlideThumbnail(ctx, args)

	// Associated images
	case "slide_label":
		return s.handleSlideLabel(ctx, args)
	case "slide_macro":
		return s.handleSlideMacro(ctx, args)
	case "slide_label_text":
		return s.handleSlideLabelText(ctx, args)

	// Health
	case "slide_cache_status":
		return s.handleCacheStatus(ctx)

	default:
		return nil, fmt.Errorf("%w: %s", errUnknownTool, name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments, rejecting unknown fields.
func decodeArgs(args json.RawMessage, v interface{ validate() error }) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidArguments, err)
	}
	if err := v.validate(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidArguments, err)
	}
	return nil
}

// === Argument types ===

type slideArgs struct {
	SlideID string `json:"slide_id"`
}

func (a *slideArgs) validate() error {
	if a.SlideID == "" {
		return errors.New("slide_id is required")
	}
	return nil
}

// outputArgs are the encoding options shared by image tools.
type outputArgs struct {
	ImageFormat  string `json:"image_format"`
	ImageQuality *int   `json:"image_quality"`
}

func (a outputArgs) encode(img image.Image) (*imgutil.EncodedImage, error) {
	f, err := imgutil.ParseFormat(a.ImageFormat)
	if err != nil {
		return nil, err
	}
	q := imgutil.DefaultQuality
	if a.ImageQuality != nil {
		q = *a.ImageQuality
	}
	return imgutil.EncodeBase64(img, f, q)
}

// check validates format and quality before any pixels are read.
func (a outputArgs) check() error {
	if _, err := imgutil.ParseFormat(a.ImageFormat); err != nil {
		return err
	}
	if a.ImageQuality != nil {
		return imgutil.ValidateQuality(*a.ImageQuality)
	}
	return nil
}

type regionArgs struct {
	slideArgs
	outputArgs
	Level        int    `json:"level"`
	StartX       int    `json:"start_x"`
	StartY       int    `json:"start_y"`
	SizeX        int    `json:"size_x"`
	SizeY        int    `json:"size_y"`
	Z            int    `json:"z"`
	PaddingColor string `json:"padding_color"`
	Channels     []int  `json:"channels"`
}

type tileArgs struct {
	slideArgs
	outputArgs
	Level        int    `json:"level"`
	TileX        int    `json:"tile_x"`
	TileY        int    `json:"tile_y"`
	Z            int    `json:"z"`
	PaddingColor string `json:"padding_color"`
	Channels     []int  `json:"channels"`
}

type tilesArgs struct {
	slideArgs
	outputArgs
	Level        int    `json:"level"`
	Z            int    `json:"z"`
	PaddingColor string `json:"padding_color"`
	Channels     []int  `json:"channels"`
	Tiles        []struct {
		TileX int `json:"tile_x"`
		TileY int `json:"tile_y"`
	} `json:"tiles"`
}

// maxBatchTiles bounds slide_tiles.
const maxBatchTiles = 64

func (a *tilesArgs) validate() error {
	if err := a.slideArgs.validate(); err != nil {
		return err
	}
	if len(a.Tiles) == 0 {
		return errors.New("tiles must not be empty")
	}
	if len(a.Tiles) > maxBatchTiles {
		return fmt.Errorf("at most %d tiles per call, got %d", maxBatchTiles, len(a.Tiles))
	}
	return nil
}

type boxArgs struct {
	slideArgs
	outputArgs
	MaxX *int `json:"max_x"`
	MaxY *int `json:"max_y"`
}

// size returns the bounds, defaulting missing ones to def.
func (a boxArgs) size(def int) (int, int) {
	x, y := def, def
	if a.MaxX != nil {
		x = *a.MaxX
	}
	if a.MaxY != nil {
		y = *a.MaxY
	}
	return x, y
}

type thumbnailArgs struct {
	boxArgs
	GridLevel *int `json:"grid_level"`
}

type labelTextArgs struct {
	slideArgs
	Language string `json:"language"`
}

// === Metadata Handlers ===

func (s *Server) handleSlideInfo(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a slideArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return s.mgr.GetSlideInfo(ctx, a.SlideID)
}

type filePathsResult struct {
	SlideID string   `json:"slide_id"`
	Paths   []string `json:"paths"`
}

func (s *Server) handleSlideFilePaths(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a slideArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	paths, err := s.mgr.GetSlideFilePaths(ctx, a.SlideID)
	if err != nil {
		return nil, err
	}
	return filePathsResult{SlideID: a.SlideID, Paths: paths}, nil
}

// === Pixel Handlers ===

func (s *Server) handleSlideRegion(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a regionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	padding, err := imgutil.ParsePaddingColor(a.PaddingColor)
	if err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, err
	}

	img, err := s.mgr.GetRegion(ctx, a.SlideID, manager.RegionRequest{
		Region: slide.Region{
			Level:   a.Level,
			StartX:  a.StartX,
			StartY:  a.StartY,
			SizeX:   a.SizeX,
			SizeY:   a.SizeY,
			Z:       a.Z,
			Padding: padding,
		},
		Channels: a.Channels,
	})
	if err != nil {
		return nil, err
	}
	return a.encode(img)
}

func (s *Server) handleSlideTile(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a tileArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	padding, err := imgutil.ParsePaddingColor(a.PaddingColor)
	if err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, err
	}

	img, err := s.mgr.GetTile(ctx, a.SlideID, manager.TileRequest{
		Level:    a.Level,
		TileX:    a.TileX,
		TileY:    a.TileY,
		Z:        a.Z,
		Padding:  padding,
		Channels: a.Channels,
	})
	if err != nil {
		return nil, err
	}
	return a.encode(img)
}

type tileItem struct {
	TileX int                   `json:"tile_x"`
	TileY int                   `json:"tile_y"`
	Image *imgutil.EncodedImage `json:"image,omitempty"`
	Error *ToolError            `json:"error,omitempty"`
}

type tilesResult struct {
	SlideID string     `json:"slide_id"`
	Level   int        `json:"level"`
	Tiles   []tileItem `json:"tiles"`
	Failed  int        `json:"failed"`
}

func (s *Server) handleSlideTiles(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a tilesArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	padding, err := imgutil.ParsePaddingColor(a.PaddingColor)
	if err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, err
	}

	queries := make([]manager.TileQuery, len(a.Tiles))
	for i, t := range a.Tiles {
		queries[i] = manager.TileQuery{
			SlideID: a.SlideID,
			TileRequest: manager.TileRequest{
				Level:    a.Level,
				TileX:    t.TileX,
				TileY:    t.TileY,
				Z:        a.Z,
				Padding:  padding,
				Channels: a.Channels,
			},
		}
	}

	res := tilesResult{SlideID: a.SlideID, Level: a.Level, Tiles: make([]tileItem, len(queries))}
	for i, r := range s.mgr.GetTiles(ctx, queries) {
		item := tileItem{TileX: queries[i].TileX, TileY: queries[i].TileY}
		err := r.Err
		if err == nil {
			item.Image, err = a.encode(r.Image)
		}
		if err != nil {
			_, kind := classify(err)
			item.Error = &ToolError{Kind: kind, Message: err.Error()}
			res.Failed++
		}
		res.Tiles[i] = item
	}
	return res, nil
}

func (s *Server) handleSlideThumbnail(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a thumbnailArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, err
	}
	_, maxThumb := s.mgr.Limits()
	x, y := a.size(maxThumb)

	var img image.Image
	var err error
	if a.GridLevel != nil {
		img, err = s.mgr.GetTileGridThumbnail(ctx, a.SlideID, x, y, *a.GridLevel)
	} else {
		img, err = s.mgr.GetThumbnail(ctx, a.SlideID, x, y)
	}
	if err != nil {
		return nil, err
	}
	return a.encode(img)
}

// === Associated Image Handlers ===

func (s *Server) handleSlideLabel(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a boxArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, err
	}
	x, y := a.size(0)
	img, err := s.mgr.GetLabel(ctx, a.SlideID, x, y)
	if err != nil {
		return nil, err
	}
	return a.encode(img)
}

func (s *Server) handleSlideMacro(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a boxArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, err
	}
	x, y := a.size(0)
	img, err := s.mgr.GetMacro(ctx, a.SlideID, x, y)
	if err != nil {
		return nil, err
	}
	return a.encode(img)
}

type labelTextResult struct {
	SlideID string `json:"slide_id"`
	*ocr.Result
}

func (s *Server) handleSlideLabelText(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a labelTextArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if s.ocr == nil {
		return nil, fmt.Errorf("%w: disabled", ocr.ErrUnavailable)
	}
	img, err := s.mgr.GetLabel(ctx, a.SlideID, 0, 0)
	if err != nil {
		return nil, err
	}
	res, err := s.ocr.Text(ctx, img, a.Language)
	if err != nil {
		return nil, err
	}
	return labelTextResult{SlideID: a.SlideID, Result: res}, nil
}

// === Health Handler ===

type cacheStatusResult struct {
	Status string `json:"status"`
	Cache  any    `json:"cache"`
	Limits struct {
		MaxReturnedRegionSize int64 `json:"max_returned_region_size"`
		MaxThumbnailSize      int   `json:"max_thumbnail_size"`
	} `json:"limits"`
	OCR struct {
		Available bool   `json:"available"`
		Version   string `json:"version,omitempty"`
	} `json:"ocr"`
}

func (s *Server) handleCacheStatus(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res cacheStatusResult
	res.Status = "ok"
	res.Cache = s.mgr.CacheStats()
	res.Limits.MaxReturnedRegionSize, res.Limits.MaxThumbnailSize = s.mgr.Limits()
	if s.ocr != nil {
		if v, err := ocr.Version(); err == nil {
			res.OCR.Available = true
			res.OCR.Version = v
		}
	}
	return res, nil
}
