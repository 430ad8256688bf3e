// Package storage resolves slide ids to the files that hold them.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// Mapper resolves a slide id to its storage paths. The first path is the
// main file handed to the decoder registry; any further paths are auxiliary
// files of the same slide.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: an unknown id returns an error wrapping slide.ErrSlideNotFound.
type Mapper interface {
	Resolve(ctx context.Context, slideID string) ([]string, error)
}

// DirMapper resolves ids against a local data directory. An id is either a
// path relative to Root or a path without extension, in which case the
// extensions are tried in order.
type DirMapper struct {
	Root       string
	Extensions []string
}

// NewDirMapper returns a mapper rooted at root.
func NewDirMapper(root string, extensions []string) *DirMapper {
	return &DirMapper{Root: root, Extensions: extensions}
}

// Resolve implements Mapper.
func (m *DirMapper) Resolve(ctx context.Context, slideID string) ([]string, error) {
	rel, err := localPath(slideID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidate := filepath.Join(m.Root, rel)
	if isFile(candidate) {
		return []string{candidate}, nil
	}
	for _, ext := range m.Extensions {
		p := candidate + "." + strings.TrimPrefix(ext, ".")
		if isFile(p) {
			return []string{p}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", slide.ErrSlideNotFound, slideID)
}

// localPath validates that id names something below the data directory.
func localPath(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty slide id", slide.ErrSlideNotFound)
	}
	rel := filepath.FromSlash(id)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: slide id %q escapes the data directory", slide.ErrSlideNotFound, id)
	}
	return filepath.Clean(rel), nil
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Mode().IsRegular()
}
