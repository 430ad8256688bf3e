package manager

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"runtime"

	slogcontext "github.com/veqryn/slog-context"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ironsheep/slide-tiles-mcp/internal/handlecache"
	imgutil "github.com/ironsheep/slide-tiles-mcp/internal/imaging"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
	"github.com/ironsheep/slide-tiles-mcp/internal/storage"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxRegionPixels  = 25_000_000
	DefaultMaxThumbnailSize = 500
)

// Config configures a Manager.
type Config struct {
	// MaxRegionPixels bounds size_x*size_y of region requests.
	MaxRegionPixels int64

	// MaxThumbnailSize bounds both sides of the thumbnail box.
	MaxThumbnailSize int

	// DecodeWorkers bounds concurrent decodes. Zero selects GOMAXPROCS.
	DecodeWorkers int

	Tracer trace.Tracer
	Meter  metric.Meter
}

// RegionRequest asks for a region with an optional channel selection.
type RegionRequest struct {
	slide.Region

	// Channels selects channel ids; empty means all.
	Channels []int
}

// TileRequest asks for one tile of the slide tile grid.
type TileRequest struct {
	Level    int
	TileX    int
	TileY    int
	Z        int
	Padding  color.Color
	Channels []int
}

// Manager resolves slide ids and serves pixel requests through the handle
// cache.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Every handle acquired by an operation is released before it returns.
//   - Request validation happens before any decode.
type Manager struct {
	mapper  storage.Mapper
	cache   *handlecache.Cache
	cfg     Config
	sem     *semaphore.Weighted
	tracer  trace.Tracer
	metrics *metrics
}

// New returns a manager over mapper and cache.
func New(mapper storage.Mapper, cache *handlecache.Cache, cfg Config) (*Manager, error) {
	if cfg.MaxRegionPixels <= 0 {
		cfg.MaxRegionPixels = DefaultMaxRegionPixels
	}
	if cfg.MaxThumbnailSize <= 0 {
		cfg.MaxThumbnailSize = DefaultMaxThumbnailSize
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = runtime.GOMAXPROCS(0)
	}

	m := &Manager{
		mapper: mapper,
		cache:  cache,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.DecodeWorkers)),
		tracer: cfg.Tracer,
	}
	if m.tracer == nil {
		m.tracer = noopTracer()
	}
	if cfg.Meter != nil {
		mt, err := newMetrics(cfg.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create manager metrics: %w", err)
		}
		m.metrics = mt
	} else {
		m.metrics = noopMetrics()
	}
	return m, nil
}

// Limits returns the effective request limits.
func (m *Manager) Limits() (maxRegionPixels int64, maxThumbnailSize int) {
	return m.cfg.MaxRegionPixels, m.cfg.MaxThumbnailSize
}

// Slide is a handle-scoped accessor for one request. It must be released
// and must not be retained beyond the request.
type Slide struct {
	h *handlecache.Handle
}

// Info returns the slide metadata.
func (s *Slide) Info() slide.SlideInfo { return s.h.Info() }

// Decoder returns the underlying decoder.
func (s *Slide) Decoder() slide.Decoder { return s.h.Decoder() }

// Release returns the reference to the cache. It is idempotent.
func (s *Slide) Release() { s.h.Release() }

// GetSlide resolves id and returns a referenced accessor.
func (m *Manager) GetSlide(ctx context.Context, id string) (*Slide, error) {
	paths, err := m.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := m.cache.Acquire(ctx, id, paths[0])
	if err != nil {
		return nil, err
	}
	return &Slide{h: h}, nil
}

// GetSlideInfo returns the metadata of a slide.
func (m *Manager) GetSlideInfo(ctx context.Context, id string) (info slide.SlideInfo, err error) {
	ctx, o := m.begin(ctx, "info", id)
	defer func() { o.end(ctx, err) }()

	s, err := m.GetSlide(ctx, id)
	if err != nil {
		return slide.SlideInfo{}, err
	}
	defer s.Release()
	return s.Info(), nil
}

// GetSlideFilePaths returns the storage paths of a slide without opening it.
func (m *Manager) GetSlideFilePaths(ctx context.Context, id string) (paths []string, err error) {
	ctx, o := m.begin(ctx, "file_paths", id)
	defer func() { o.end(ctx, err) }()
	return m.resolve(ctx, id)
}

// resolve maps id to its storage paths, main file first. A mapper that finds
// nothing is reported as ErrSlideNotFound.
func (m *Manager) resolve(ctx context.Context, id string) ([]string, error) {
	paths, err := m.mapper.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", slide.ErrSlideNotFound, id)
	}
	return paths, nil
}

// GetRegion returns a region of any position and size at a pyramid level.
// Parts outside the level are filled with the padding colour.
func (m *Manager) GetRegion(ctx context.Context, id string, req RegionRequest) (img image.Image, err error) {
	ctx, o := m.begin(ctx, "region", id)
	defer func() { o.end(ctx, err) }()

	s, err := m.GetSlide(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.Release()

	info := s.Info()
	r := req.Region
	if err := m.validate(info, r.Level, r.Z, r.Padding, req.Channels); err != nil {
		return nil, err
	}
	if err := r.CheckSize(); err != nil {
		return nil, err
	}
	if r.Pixels() > m.cfg.MaxRegionPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels",
			slide.ErrRegionTooLarge, r.SizeX, r.SizeY, m.cfg.MaxRegionPixels)
	}

	err = m.decode(ctx, func() error {
		dec := s.Decoder()
		if imgutil.CheckRegionOverlap(info, r.Level, r.StartX, r.StartY, r.SizeX, r.SizeY) {
			img, err = dec.Region(ctx, r)
		} else {
			img, err = imgutil.ExtendedRegion(ctx, dec.Region, info, r)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slogcontext.FromCtx(ctx).Debug("region served",
		slog.String("slide_id", id),
		slog.Int("pyramid_level", r.Level),
		slog.Int("size_x", r.SizeX),
		slog.Int("size_y", r.SizeY))
	return imgutil.SelectChannels(img, info, req.Channels)
}

// GetTile returns one tile of the slide tile grid, padded at the border.
func (m *Manager) GetTile(ctx context.Context, id string, req TileRequest) (img image.Image, err error) {
	ctx, o := m.begin(ctx, "tile", id)
	defer func() { o.end(ctx, err) }()

	s, err := m.GetSlide(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.Release()
	return m.tile(ctx, s, req)
}

func (m *Manager) tile(ctx context.Context, s *Slide, req TileRequest) (img image.Image, err error) {
	info := s.Info()
	if err := m.validate(info, req.Level, req.Z, req.Padding, req.Channels); err != nil {
		return nil, err
	}

	err = m.decode(ctx, func() error {
		dec := s.Decoder()
		if imgutil.CheckTileOverlap(info, req.Level, req.TileX, req.TileY) {
			img, err = dec.Tile(ctx, req.Level, req.TileX, req.TileY, req.Z, req.Padding)
		} else {
			img, err = imgutil.ExtendedTile(ctx, dec.Region, info, req.Level, req.TileX, req.TileY, req.Z, req.Padding)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return imgutil.SelectChannels(img, info, req.Channels)
}

// GetThumbnail returns the whole slide fitted into maxX x maxY.
func (m *Manager) GetThumbnail(ctx context.Context, id string, maxX, maxY int) (img image.Image, err error) {
	ctx, o := m.begin(ctx, "thumbnail", id)
	defer func() { o.end(ctx, err) }()

	if maxX <= 0 || maxY <= 0 {
		return nil, fmt.Errorf("%w: thumbnail box %dx%d", slide.ErrInvalidRegion, maxX, maxY)
	}
	if maxX > m.cfg.MaxThumbnailSize || maxY > m.cfg.MaxThumbnailSize {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", slide.ErrThumbnailTooLarge, maxX, maxY, m.cfg.MaxThumbnailSize)
	}

	s, err := m.GetSlide(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.Release()

	err = m.decode(ctx, func() error {
		img, err = s.Decoder().Thumbnail(ctx, maxX, maxY)
		return err
	})
	return img, err
}

// GetTileGridThumbnail returns the thumbnail with the tile grid of level
// drawn over it, each cell tagged with its tile coordinates where it fits.
func (m *Manager) GetTileGridThumbnail(ctx context.Context, id string, maxX, maxY, level int) (img image.Image, err error) {
	ctx, o := m.begin(ctx, "tile_grid", id)
	defer func() { o.end(ctx, err) }()

	thumb, err := m.GetThumbnail(ctx, id, maxX, maxY)
	if err != nil {
		return nil, err
	}
	info, err := m.GetSlideInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := info.CheckLevel(level); err != nil {
		return nil, err
	}

	lv := info.Levels[level].Extent
	b := thumb.Bounds()
	cellW := float64(info.TileExtent.X) * float64(b.Dx()) / float64(lv.X)
	cellH := float64(info.TileExtent.Y) * float64(b.Dy()) / float64(lv.Y)
	grid, err := imgutil.TileGridOverlay(thumb, cellW, cellH, nil, true)
	if err != nil {
		return nil, fmt.Errorf("%w: level %d: %v", slide.ErrInvalidRegion, level, err)
	}
	return grid, nil
}

// GetLabel returns the label image fitted into maxX x maxY. Non-positive
// bounds return it at native size.
func (m *Manager) GetLabel(ctx context.Context, id string, maxX, maxY int) (img image.Image, err error) {
	ctx, o := m.begin(ctx, "label", id)
	defer func() { o.end(ctx, err) }()
	return m.associated(ctx, id, maxX, maxY, slide.Decoder.Label)
}

// GetMacro returns the macro image fitted into maxX x maxY. Non-positive
// bounds return it at native size.
func (m *Manager) GetMacro(ctx context.Context, id string, maxX, maxY int) (img image.Image, err error) {
	ctx, o := m.begin(ctx, "macro", id)
	defer func() { o.end(ctx, err) }()
	return m.associated(ctx, id, maxX, maxY, slide.Decoder.Macro)
}

func (m *Manager) associated(ctx context.Context, id string, maxX, maxY int,
	read func(slide.Decoder, context.Context) (image.Image, error)) (img image.Image, err error) {
	s, err := m.GetSlide(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.Release()

	err = m.decode(ctx, func() error {
		img, err = read(s.Decoder(), ctx)
		if err != nil {
			return err
		}
		if maxX > 0 && maxY > 0 {
			img = imgutil.FitInto(img, maxX, maxY)
		}
		return nil
	})
	return img, err
}

// CacheStats returns a snapshot of the handle cache.
func (m *Manager) CacheStats() handlecache.Stats {
	return m.cache.Stats()
}

// Close closes every cached decoder.
func (m *Manager) Close(ctx context.Context) error {
	return m.cache.CloseAll(ctx)
}

// validate checks level, z, padding and channels in that order.
func (m *Manager) validate(info slide.SlideInfo, level, z int, padding color.Color, channels []int) error {
	if err := info.CheckLevel(level); err != nil {
		return err
	}
	if err := info.CheckZ(z); err != nil {
		return err
	}
	if err := imgutil.CheckPadding(info, padding); err != nil {
		return err
	}
	return info.CheckChannels(channels)
}

// decode runs fn holding a decode slot.
func (m *Manager) decode(ctx context.Context, fn func() error) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)
	return fn()
}
