package handlecache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// ErrClosed is returned by Acquire after CloseAll.
var ErrClosed = errors.New("handlecache: cache closed")

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxHandles    = 50
	DefaultIdleTimeout   = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Second
)

// State is the lifecycle state of a cache entry.
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Config configures a Cache.
type Config struct {
	// MaxHandles is the soft capacity. Entries with active references are
	// never evicted, so the cache can exceed it while all of them are in use.
	MaxHandles int

	// IdleTimeout is how long an unreferenced handle stays open.
	IdleTimeout time.Duration

	// SweepInterval is the period of the idle sweep. A negative value
	// disables the background sweeper; Sweep can still be called directly.
	SweepInterval time.Duration

	Logger *slog.Logger
	Meter  metric.Meter

	// Now overrides the clock used for idle accounting.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Capacity     int    `json:"capacity"`
	Open         int    `json:"open"`
	Referenced   int    `json:"referenced"`
	Opening      int    `json:"opening"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	OpenFailures uint64 `json:"open_failures"`
}

type entry struct {
	id   string
	path string
	gen  uint64

	state      State
	dec        slide.Decoder
	info       slide.SlideInfo
	err        error
	refs       int
	lastAccess time.Time
	elem       *list.Element
}

// Cache maps slide ids to open decoders.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - At most one open per slide id is in flight; concurrent callers share
//     its result. Failed opens are not cached.
//   - A decoder is never closed while a Handle to it is unreleased, except
//     by CloseAll.
//   - Decoder.Close is always called without the cache lock held.
type Cache struct {
	cfg     Config
	open    slide.Opener
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics

	sfGroup singleflight.Group
	opens   sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // open entries, most recently used first
	gen     uint64
	closed  bool
	stats   Stats

	stop      chan struct{}
	sweepDone chan struct{}
}

// New returns a cache that opens decoders with open and starts the idle
// sweeper unless cfg.SweepInterval is negative.
func New(open slide.Opener, cfg Config) (*Cache, error) {
	if cfg.MaxHandles <= 0 {
		cfg.MaxHandles = DefaultMaxHandles
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	c := &Cache{
		cfg:       cfg,
		open:      open,
		now:       cfg.Now,
		log:       cfg.Logger,
		entries:   make(map[string]*entry),
		lru:       list.New(),
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if cfg.Meter != nil {
		m, err := newMetrics(cfg.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache metrics: %w", err)
		}
		c.metrics = m
	} else {
		c.metrics = noopMetrics()
	}
	c.stats.Capacity = cfg.MaxHandles

	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	} else {
		close(c.sweepDone)
	}
	return c, nil
}

// Handle is a reference to an open decoder. It must be released exactly
// once; further calls to Release are ignored.
type Handle struct {
	c    *Cache
	e    *entry
	once sync.Once
}

// Decoder returns the referenced decoder.
func (h *Handle) Decoder() slide.Decoder { return h.e.dec }

// Info returns the metadata captured when the decoder was opened.
func (h *Handle) Info() slide.SlideInfo { return h.e.info }

// ID returns the slide id.
func (h *Handle) ID() string { return h.e.id }

// Release drops the reference.
func (h *Handle) Release() {
	h.once.Do(func() { h.c.release(h.e) })
}

// Acquire returns a referenced handle for id, opening path if the slide is
// not cached. Waiting for an open shared with other callers honours ctx; the
// open itself runs to completion and is cached for later callers.
func (c *Cache) Acquire(ctx context.Context, id, path string) (*Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	e, ok := c.entries[id]
	if ok && e.state == Open {
		e.refs++
		e.lastAccess = c.now()
		c.lru.MoveToFront(e.elem)
		c.stats.Hits++
		c.mu.Unlock()
		c.metrics.hits.Add(ctx, 1)
		return &Handle{c: c, e: e}, nil
	}
	if !ok {
		c.gen++
		e = &entry{id: id, path: path, gen: c.gen, state: Opening}
		c.entries[id] = e
		c.opens.Add(1)
	}
	// the reservation keeps the entry out of eviction until the caller
	// either takes the handle or gives up
	e.refs++
	c.stats.Misses++
	c.mu.Unlock()
	c.metrics.misses.Add(ctx, 1)

	key := id + "#" + strconv.FormatUint(e.gen, 10)
	openCtx := context.WithoutCancel(ctx)
	ch := c.sfGroup.DoChan(key, func() (any, error) {
		return nil, c.openEntry(openCtx, e)
	})

	select {
	case <-ctx.Done():
		c.release(e)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.release(e)
			return nil, res.Err
		}
		c.mu.Lock()
		e.lastAccess = c.now()
		c.mu.Unlock()
		return &Handle{c: c, e: e}, nil
	}
}

// openEntry runs the open for an entry in state Opening. A flight started
// after the entry left that state reports the recorded outcome.
func (c *Cache) openEntry(ctx context.Context, e *entry) error {
	c.mu.Lock()
	switch e.state {
	case Open:
		c.mu.Unlock()
		return nil
	case Closing, Closed:
		err := e.err
		c.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: %s", slide.ErrDecoderClosed, e.id)
		}
		return err
	}
	c.mu.Unlock()
	defer c.opens.Done()

	logger := slogcontext.FromCtx(ctx).With(slog.String("slide_id", e.id))
	start := time.Now()
	dec, err := c.open(ctx, e.path, e.id)
	c.metrics.opens.Add(ctx, 1)

	c.mu.Lock()
	if err == nil && c.closed {
		// CloseAll gave up waiting for this open
		c.mu.Unlock()
		_ = dec.Close()
		err = ErrClosed
		c.mu.Lock()
	}
	if err != nil {
		e.state = Closed
		e.err = err
		if c.entries[e.id] == e {
			delete(c.entries, e.id)
		}
		c.stats.OpenFailures++
		c.mu.Unlock()

		c.metrics.openFailures.Add(ctx, 1)
		logger.Warn("slide open failed", slog.String("path", e.path), slog.Any("error", err))
		return err
	}

	e.dec = dec
	e.info = dec.Info()
	e.state = Open
	e.lastAccess = c.now()
	e.elem = c.lru.PushFront(e)
	victims := c.evictLocked()
	c.mu.Unlock()

	c.metrics.openHandles.Add(ctx, 1)
	logger.Debug("slide opened",
		slog.String("format", e.info.Format),
		slog.Duration("duration", time.Since(start)))
	c.closeEntries(ctx, victims, reasonCapacity)
	return nil
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	if e.refs > 0 {
		e.refs--
	}
	e.lastAccess = c.now()
	var victims []*entry
	if e.refs == 0 && e.state == Open {
		victims = c.evictLocked()
	}
	c.mu.Unlock()
	c.closeEntries(context.Background(), victims, reasonCapacity)
}

// evictLocked detaches least recently used unreferenced entries until the
// cache is within capacity. The caller closes the returned entries after
// unlocking.
func (c *Cache) evictLocked() []*entry {
	var victims []*entry
	for el := c.lru.Back(); el != nil && c.lru.Len() > c.cfg.MaxHandles; {
		e := el.Value.(*entry)
		prev := el.Prev()
		if e.refs == 0 {
			c.detachLocked(e)
			victims = append(victims, e)
		}
		el = prev
	}
	return victims
}

func (c *Cache) detachLocked(e *entry) {
	e.state = Closing
	c.lru.Remove(e.elem)
	e.elem = nil
	if c.entries[e.id] == e {
		delete(c.entries, e.id)
	}
	c.stats.Evictions++
}

func (c *Cache) closeEntries(ctx context.Context, victims []*entry, reason string) error {
	if len(victims) == 0 {
		return nil
	}
	var errs []error
	for _, e := range victims {
		if err := e.dec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.id, err))
		}
		c.log.Debug("slide closed", slog.String("slide_id", e.id), slog.String("reason", reason))
	}

	c.mu.Lock()
	for _, e := range victims {
		e.state = Closed
	}
	c.mu.Unlock()

	c.metrics.evicted(ctx, reason, len(victims))
	return errors.Join(errs...)
}

// Sweep closes every unreferenced handle idle for longer than the idle
// timeout and returns how many were closed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	now := c.now()
	var victims []*entry
	for el := c.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		prev := el.Prev()
		if e.refs == 0 && now.Sub(e.lastAccess) > c.cfg.IdleTimeout {
			c.detachLocked(e)
			victims = append(victims, e)
		}
		el = prev
	}
	c.mu.Unlock()

	if err := c.closeEntries(context.Background(), victims, reasonIdle); err != nil {
		c.log.Warn("closing idle slides failed", slog.Any("error", err))
	}
	if len(victims) > 0 {
		c.log.Info("closed idle slides", slog.Int("count", len(victims)))
	}
	return len(victims)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Open = c.lru.Len()
	for _, e := range c.entries {
		switch {
		case e.state == Opening:
			s.Opening++
		case e.state == Open && e.refs > 0:
			s.Referenced++
		}
	}
	return s
}

// Len returns the number of open decoders.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CloseAll stops the sweeper, waits for in-flight opens and closes every
// decoder regardless of references. If ctx ends first, the decoders opened so
// far are closed and ctx.Err() is returned alongside any close errors; opens
// completing later close their own decoder. CloseAll is idempotent.
func (c *Cache) CloseAll(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()
	<-c.sweepDone

	var waitErr error
	done := make(chan struct{})
	go func() {
		c.opens.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	c.mu.Lock()
	victims := make([]*entry, 0, c.lru.Len())
	for el := c.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		prev := el.Prev()
		c.detachLocked(e)
		victims = append(victims, e)
		el = prev
	}
	c.mu.Unlock()

	if len(victims) > 0 {
		c.log.Info("closing slides", slog.Int("count", len(victims)))
	}
	return errors.Join(waitErr, c.closeEntries(ctx, victims, reasonShutdown))
}
