package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Shared property schemas.
var (
	slideIDProperty = map[string]interface{}{
		"type":        "string",
		"description": "Slide identifier, resolved to a file by the storage mapper",
	}
	levelProperty = map[string]interface{}{
		"type":        "integer",
		"description": "Pyramid level, 0 is the full resolution",
		"default":     0,
	}
	zProperty = map[string]interface{}{
		"type":        "integer",
		"description": "Z-stack layer. Default 0",
		"default":     0,
	}
	paddingProperty = map[string]interface{}{
		"type":        "string",
		"description": "Background for pixels outside the slide, as #RRGGBB. Default white for RGB slides",
	}
	channelsProperty = map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "integer"},
		"description": "Channel ids to return, in order. Default all channels",
	}
	formatProperty = map[string]interface{}{
		"type":        "string",
		"enum":        []string{"jpeg", "png", "tiff", "bmp", "gif"},
		"description": "Output image format. Default jpeg",
		"default":     "jpeg",
	}
	qualityProperty = map[string]interface{}{
		"type":        "integer",
		"description": "JPEG quality 0-100. Default 90",
		"default":     90,
	}
)

// withOutput adds the output encoding properties to props.
func withOutput(props map[string]interface{}) map[string]interface{} {
	props["image_format"] = formatProperty
	props["image_quality"] = qualityProperty
	return props
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Metadata
		{
			Name:        "slide_info",
			Description: "Get slide metadata: extent, pyramid levels with downsample factors, tile size, pixel size in nanometres, channels and channel depth.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"slide_id": slideIDProperty,
				},
				"required": []string{"slide_id"},
			},
		},
		{
			Name:        "slide_file_paths",
			Description: "Get the storage paths of a slide without opening it. The main file comes first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"slide_id": slideIDProperty,
				},
				"required": []string{"slide_id"},
			},
		},

		// Pixel data
		{
			Name:        "slide_region",
			Description: "Read a rectangular region at a pyramid level and return it as a base64-encoded image. The region may extend beyond the slide; outside parts are filled with the padding color.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withOutput(map[string]interface{}{
					"slide_id": slideIDProperty,
					"level":    levelProperty,
					"start_x": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge in pixels of the level, may be negative",
					},
					"start_y": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge in pixels of the level, may be negative",
					},
					"size_x": map[string]interface{}{
						"type":        "integer",
						"description": "Width in pixels",
					},
					"size_y": map[string]interface{}{
						"type":        "integer",
						"description": "Height in pixels",
					},
					"z":             zProperty,
					"padding_color": paddingProperty,
					"channels":      channelsProperty,
				}),
				"required": []string{"slide_id", "level", "start_x", "start_y", "size_x", "size_y"},
			},
		},
		{
			Name:        "slide_tile",
			Description: "Read one tile of the slide tile grid at a pyramid level. Border tiles have full tile size and are padded.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withOutput(map[string]interface{}{
					"slide_id": slideIDProperty,
					"level":    levelProperty,
					"tile_x": map[string]interface{}{
						"type":        "integer",
						"description": "Tile column",
					},
					"tile_y": map[string]interface{}{
						"type":        "integer",
						"description": "Tile row",
					},
					"z":             zProperty,
					"padding_color": paddingProperty,
					"channels":      channelsProperty,
				}),
				"required": []string{"slide_id", "level", "tile_x", "tile_y"},
			},
		},
		{
			Name:        "slide_tiles",
			Description: "Read several tiles of one slide level in parallel. Each tile reports its own error, so one bad tile does not fail the batch.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withOutput(map[string]interface{}{
					"slide_id": slideIDProperty,
					"level":    levelProperty,
					"tiles": map[string]interface{}{
						"type":        "array",
						"description": "Tile coordinates, at most 64",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"tile_x": map[string]interface{}{"type": "integer"},
								"tile_y": map[string]interface{}{"type": "integer"},
							},
							"required": []string{"tile_x", "tile_y"},
						},
					},
					"z":             zProperty,
					"padding_color": paddingProperty,
					"channels":      channelsProperty,
				}),
				"required": []string{"slide_id", "level", "tiles"},
			},
		},
		{
			Name:        "slide_thumbnail",
			Description: "Get the whole slide scaled to fit within max_x by max_y, keeping the aspect ratio. Set grid_level to see which tiles cover which area.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withOutput(map[string]interface{}{
					"slide_id": slideIDProperty,
					"max_x": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum width. Default and upper bound is the configured max_thumbnail_size",
					},
					"max_y": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum height. Default and upper bound is the configured max_thumbnail_size",
					},
					"grid_level": map[string]interface{}{
						"type":        "integer",
						"description": "Draw the tile grid of this pyramid level over the thumbnail, labelling cells with their tile_x,tile_y",
					},
				}),
				"required": []string{"slide_id"},
			},
		},

		// Associated images
		{
			Name:        "slide_label",
			Description: "Get the label image of the slide, optionally scaled to fit within max_x by max_y.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withOutput(map[string]interface{}{
					"slide_id": slideIDProperty,
					"max_x": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum width. Omit for native size",
					},
					"max_y": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum height. Omit for native size",
					},
				}),
				"required": []string{"slide_id"},
			},
		},
		{
			Name:        "slide_macro",
			Description: "Get the macro (overview) image of the slide, optionally scaled to fit within max_x by max_y.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withOutput(map[string]interface{}{
					"slide_id": slideIDProperty,
					"max_x": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum width. Omit for native size",
					},
					"max_y": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum height. Omit for native size",
					},
				}),
				"required": []string{"slide_id"},
			},
		},
		{
			Name:        "slide_label_text",
			Description: "Read the text printed on the slide label using OCR. Returns the full text and word bounding boxes in label pixels.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"slide_id": slideIDProperty,
					"language": map[string]interface{}{
						"type":        "string",
						"description": "Tesseract language code (e.g., 'eng', 'deu'). Default is the configured ocr_language",
					},
				},
				"required": []string{"slide_id"},
			},
		},

		// Health
		{
			Name:        "slide_cache_status",
			Description: "Report open slide handles, cache hits and misses, evictions, request limits and OCR availability.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
