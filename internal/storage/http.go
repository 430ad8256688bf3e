package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// IDPlaceholder is replaced by the escaped slide id in HTTPMapper.Template.
const IDPlaceholder = "{slide_id}"

const (
	defaultMaxTries = 3
	maxBodyBytes    = 1 << 20
)

// StorageAddress is one file of a slide as reported by the mapper service.
type StorageAddress struct {
	Address     string `json:"address"`
	MainAddress bool   `json:"main_address"`
}

type storageResponse struct {
	StorageAddresses []StorageAddress `json:"storage_addresses"`
}

// HTTPMapper asks a mapper service for the storage addresses of a slide.
// Addresses are relative to DataDir. Server errors are retried with
// exponential backoff; 404 maps to slide.ErrSlideNotFound.
type HTTPMapper struct {
	Template string
	DataDir  string
	Client   *http.Client

	// MaxTries bounds the attempts per lookup. Zero selects 3.
	MaxTries uint

	// initial backoff interval, shortened by tests
	initialInterval time.Duration
}

// NewHTTPMapper returns a mapper that queries template, e.g.
// "http://mapper:8080/v3/slides/{slide_id}/storage".
func NewHTTPMapper(template, dataDir string, timeout time.Duration) (*HTTPMapper, error) {
	if !strings.Contains(template, IDPlaceholder) {
		return nil, fmt.Errorf("mapper address %q lacks %s", template, IDPlaceholder)
	}
	if _, err := url.Parse(strings.ReplaceAll(template, IDPlaceholder, "x")); err != nil {
		return nil, fmt.Errorf("invalid mapper address: %w", err)
	}
	return &HTTPMapper{
		Template: template,
		DataDir:  dataDir,
		Client:   &http.Client{Timeout: timeout},
	}, nil
}

// Resolve implements Mapper.
func (m *HTTPMapper) Resolve(ctx context.Context, slideID string) ([]string, error) {
	if slideID == "" {
		return nil, fmt.Errorf("%w: empty slide id", slide.ErrSlideNotFound)
	}
	target := strings.ReplaceAll(m.Template, IDPlaceholder, url.PathEscape(slideID))
	logger := slogcontext.FromCtx(ctx)

	eb := backoff.NewExponentialBackOff()
	if m.initialInterval > 0 {
		eb.InitialInterval = m.initialInterval
	}
	tries := m.MaxTries
	if tries == 0 {
		tries = defaultMaxTries
	}

	addrs, err := backoff.Retry(ctx, func() ([]StorageAddress, error) {
		return m.fetch(ctx, target, slideID)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("mapper lookup failed, retrying",
				slog.String("slide_id", slideID),
				slog.Duration("backoff", next),
				slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return m.paths(slideID, addrs)
}

func (m *HTTPMapper) fetch(ctx context.Context, target, slideID string) ([]StorageAddress, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build mapper request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapper request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", slide.ErrSlideNotFound, slideID))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("mapper returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("mapper returned %s", resp.Status))
	}

	var body storageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid mapper response: %w", err))
	}
	return body.StorageAddresses, nil
}

// paths joins addresses with the data directory, main address first.
func (m *HTTPMapper) paths(slideID string, addrs []StorageAddress) ([]string, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no storage addresses", slide.ErrSlideNotFound, slideID)
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		return addrs[i].MainAddress && !addrs[j].MainAddress
	})

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		rel, err := localPath(a.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.Join(m.DataDir, rel))
	}
	return out, nil
}
