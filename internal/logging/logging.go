// Package logging builds the process logger.
//
// Records go to stderr; stdout carries the MCP protocol. The handler is
// wrapped so that attributes attached to a context with slog-context's
// Prepend and Append show up on every record logged with that context.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	slogcontext "github.com/veqryn/slog-context"
)

// ParseLevel converts debug, info, warn or error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// New returns a logger writing text or json records to w.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: l}

	var h slog.Handler
	switch format {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(slogcontext.NewHandler(h, nil)), nil
}

// WithRequest returns ctx carrying logger and the request attributes.
func WithRequest(ctx context.Context, logger *slog.Logger, requestID, tool string) context.Context {
	ctx = slogcontext.NewCtx(ctx, logger)
	return slogcontext.Append(ctx, slog.String("request_id", requestID), slog.String("tool", tool))
}
