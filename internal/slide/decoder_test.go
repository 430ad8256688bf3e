package slide

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

type stubDecoder struct {
	info   SlideInfo
	closed bool
}

func (d *stubDecoder) Info() SlideInfo { return d.info }
func (d *stubDecoder) Region(context.Context, Region) (image.Image, error) {
	return nil, ErrDecodeFailure
}
func (d *stubDecoder) Tile(context.Context, int, int, int, int, color.Color) (image.Image, error) {
	return nil, ErrDecodeFailure
}
func (d *stubDecoder) Thumbnail(context.Context, int, int) (image.Image, error) {
	return nil, ErrDecodeFailure
}
func (d *stubDecoder) Label(context.Context) (image.Image, error) {
	return nil, ErrAssociatedImageNotFound
}
func (d *stubDecoder) Macro(context.Context) (image.Image, error) {
	return nil, ErrAssociatedImageNotFound
}
func (d *stubDecoder) Close() error { d.closed = true; return nil }

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestRegistry_OpenByExtension(t *testing.T) {
	var opened string
	reg := NewRegistry(Backend{
		Name:       "stub",
		Extensions: []string{"stub", ".STB"},
		Open: func(_ context.Context, path, id string) (Decoder, error) {
			opened = id
			return &stubDecoder{info: testInfo()}, nil
		},
	})

	for _, name := range []string{"a.stub", "b.stb", "c.STUB"} {
		path := writeTempFile(t, name, []byte("x"))
		if !reg.Supports(path) {
			t.Errorf("Supports(%s) = false", name)
		}
		dec, err := reg.Open(context.Background(), path, "id-"+name)
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", name, err)
		}
		if opened != "id-"+name {
			t.Errorf("opener got id %q", opened)
		}
		_ = dec.Close()
	}
}

func TestRegistry_Sniff(t *testing.T) {
	reg := NewRegistry(Backend{
		Name:  "magic",
		Sniff: func(h []byte) bool { return len(h) >= 4 && string(h[:4]) == "MAGI" },
		Open: func(context.Context, string, string) (Decoder, error) {
			return &stubDecoder{info: testInfo()}, nil
		},
	})

	path := writeTempFile(t, "noext", []byte("MAGIC bytes"))
	if _, err := reg.Open(context.Background(), path, "x"); err != nil {
		t.Fatalf("sniffed Open failed: %v", err)
	}

	other := writeTempFile(t, "other", []byte("nope"))
	if _, err := reg.Open(context.Background(), other, "x"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestRegistry_MissingFile(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Open(context.Background(), filepath.Join(t.TempDir(), "missing.svs"), "x")
	if !errors.Is(err, ErrSlideNotFound) {
		t.Errorf("got %v, want ErrSlideNotFound", err)
	}
}

func TestRegistry_InvalidInfoIsCorrupt(t *testing.T) {
	bad := testInfo()
	bad.Levels = nil
	dec := &stubDecoder{info: bad}
	reg := NewRegistry(Backend{
		Name:       "bad",
		Extensions: []string{"bad"},
		Open:       func(context.Context, string, string) (Decoder, error) { return dec, nil },
	})

	path := writeTempFile(t, "x.bad", []byte("x"))
	_, err := reg.Open(context.Background(), path, "x")
	if !errors.Is(err, ErrCorruptFile) {
		t.Errorf("got %v, want ErrCorruptFile", err)
	}
	if !dec.closed {
		t.Error("decoder with invalid info was not closed")
	}
}

func TestRegistry_OpenErrorWrapped(t *testing.T) {
	reg := NewRegistry(Backend{
		Name:       "failing",
		Extensions: []string{"fail"},
		Open: func(context.Context, string, string) (Decoder, error) {
			return nil, errors.New("boom")
		},
	})
	path := writeTempFile(t, "x.fail", []byte("x"))
	if _, err := reg.Open(context.Background(), path, "x"); !errors.Is(err, ErrCorruptFile) {
		t.Errorf("got %v, want ErrCorruptFile", err)
	}
}
