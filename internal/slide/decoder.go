package slide

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Decoder is an opened slide file of one backend.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use on one instance.
//   - Info performs no I/O.
//   - Region never pads: callers must only request rectangles inside the level
//     extent. Padding of boundary-crossing requests is done by the caller.
//   - Every method returns its own image; no buffers are shared between calls.
//   - Close is idempotent. Methods called after Close return ErrDecoderClosed.
type Decoder interface {
	Info() SlideInfo
	Region(ctx context.Context, r Region) (image.Image, error)
	Tile(ctx context.Context, level, tileX, tileY, z int, padding color.Color) (image.Image, error)
	Thumbnail(ctx context.Context, maxX, maxY int) (image.Image, error)
	Label(ctx context.Context) (image.Image, error)
	Macro(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens the file at path as the slide with the given id.
type Opener func(ctx context.Context, path, id string) (Decoder, error)

// Backend describes one decoder implementation.
type Backend struct {
	// Name identifies the backend in SlideInfo.Format and logs.
	Name string

	// Extensions lists the lower-case file extensions handled, without dot.
	Extensions []string

	// Sniff optionally recognises files by their first bytes. It is consulted
	// only when no backend claims the file extension.
	Sniff func(header []byte) bool

	Open Opener
}

// Registry selects a backend for a file.
type Registry struct {
	backends []Backend
	byExt    map[string]int
}

// NewRegistry returns a registry holding the given backends. Later backends
// win on conflicting extensions.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{byExt: make(map[string]int)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds a backend.
func (r *Registry) Register(b Backend) {
	r.backends = append(r.backends, b)
	for _, ext := range b.Extensions {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = len(r.backends) - 1
	}
}

// Extensions returns every extension some backend handles.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// Supports reports whether a backend claims the extension of path.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[extension(path)]
	return ok
}

// Open opens path with the matching backend and validates the result.
func (r *Registry) Open(ctx context.Context, path, id string) (Decoder, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSlideNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	backend, err := r.lookup(path)
	if err != nil {
		return nil, err
	}

	dec, err := backend.Open(ctx, path, id)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrCorruptFile) || errors.Is(err, ErrSlideNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFile, backend.Name, err)
	}

	if err := dec.Info().Validate(); err != nil {
		_ = dec.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFile, path, err)
	}
	return dec, nil
}

func (r *Registry) lookup(path string) (Backend, error) {
	if i, ok := r.byExt[extension(path)]; ok {
		return r.backends[i], nil
	}

	header, err := readHeader(path, 512)
	if err != nil {
		return Backend{}, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	for _, b := range r.backends {
		if b.Sniff != nil && b.Sniff(header) {
			return b, nil
		}
	}
	return Backend{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func readHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}
