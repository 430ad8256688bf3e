package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/slide-tiles-mcp/internal/config"
	"github.com/ironsheep/slide-tiles-mcp/internal/manager"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
	"github.com/ironsheep/slide-tiles-mcp/internal/telemetry"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestRun_Version(t *testing.T) {
	for _, arg := range []string{"version", "--version", "-v"} {
		var stdout bytes.Buffer
		code := run(context.Background(), nil, &stdout, &bytes.Buffer{}, []string{arg}, nil)
		assert.Equal(t, 0, code, arg)
		assert.Contains(t, stdout.String(), "slide-tiles-mcp dev", arg)
	}
}

func TestRun_Help(t *testing.T) {
	var stdout bytes.Buffer
	code := run(context.Background(), nil, &stdout, &bytes.Buffer{}, []string{"help"}, nil)
	assert.Equal(t, 0, code)
	for _, want := range []string{"--data-dir", "--tile-size", "SLIDE_MCP_LOG_LEVEL"} {
		assert.Contains(t, stdout.String(), want)
	}
}

func TestRun_BadConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), strings.NewReader(""), &bytes.Buffer{}, &stderr,
		[]string{"serve", "--image-handle-cache-size", "0"}, nil)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "invalid config")
}

func TestRun_PyramidUsage(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), nil, &bytes.Buffer{}, &stderr, []string{"pyramid", "only-one"}, nil)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "usage")
}

func TestRun_PyramidThenServe(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "scan.png")
	writePNG(t, src, 600, 400)
	label := filepath.Join(t.TempDir(), "label.png")
	writePNG(t, label, 120, 60)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), nil, &stdout, &stderr,
		[]string{"pyramid", "--tile-size", "128", "--format", "png", "--label", label, src, dir}, nil)
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, filepath.Join(dir, "scan.dzi"), strings.TrimSpace(stdout.String()))

	requests := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"slide_info","arguments":{"slide_id":"scan"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"slide_label","arguments":{"slide_id":"scan"}}}`,
	}, "\n") + "\n"

	stdout.Reset()
	stderr.Reset()
	code = run(context.Background(), strings.NewReader(requests), &stdout, &stderr,
		[]string{"--log-format", "json"}, map[string]string{"SLIDE_MCP_DATA_DIR": dir})
	require.Equal(t, 0, code, stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		var resp struct {
			ID    int             `json:"id"`
			Error json.RawMessage `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		assert.Empty(t, resp.Error, "id %d: %s", resp.ID, line)
	}
	assert.NotContains(t, stderr.String(), `"level":"ERROR"`)
}

func TestNewManager_NativeWindowBudget(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "scan.png"), 400, 400)

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.MaxReturnedRegionSize = 100

	mgr, err := newManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), telemetry.Noop())
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	// Level 1 has no native copy, so 10x10 output reads 20x20 source pixels.
	_, err = mgr.GetRegion(context.Background(), "scan", manager.RegionRequest{
		Region: slide.Region{Level: 1, SizeX: 10, SizeY: 10},
	})
	assert.ErrorIs(t, err, slide.ErrRegionTooLarge)

	_, err = mgr.GetRegion(context.Background(), "scan", manager.RegionRequest{
		Region: slide.Region{Level: 0, SizeX: 10, SizeY: 10},
	})
	assert.NoError(t, err)
}
