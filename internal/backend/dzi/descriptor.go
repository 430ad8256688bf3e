// Package dzi reads and writes Deep Zoom image pyramids.
//
// A pyramid named "slide" consists of the descriptor slide.dzi and the tile tree
// slide_files/<level>/<col>_<row>.<format>. DZI level numbers count up from a
// 1x1 image; the finest level is the full resolution. Associated images are
// optional files slide_files/label.<format> and slide_files/macro.<format>.
//
// Slide levels are numbered the other way round: slide level 0 is the finest DZI
// level and the coarsest slide level is the first one that fits into one tile.
package dzi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
)

// Namespace is the XML namespace of Deep Zoom descriptors.
const Namespace = "http://schemas.microsoft.com/deepzoom/2008"

// Extension is the descriptor file extension.
const Extension = "dzi"

// Descriptor is the parsed content of a .dzi file.
type Descriptor struct {
	XMLName  xml.Name
	Format   string   `xml:"Format,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	TileSize int      `xml:"TileSize,attr"`
	Size     struct {
		Width  int `xml:"Width,attr"`
		Height int `xml:"Height,attr"`
	} `xml:"Size"`
}

// ParseDescriptor reads and validates a descriptor.
func ParseDescriptor(r io.Reader) (*Descriptor, error) {
	var d Descriptor
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.XMLName.Local != "Image" {
		return nil, fmt.Errorf("unexpected root element <%s>", d.XMLName.Local)
	}
	if d.Size.Width <= 0 || d.Size.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", d.Size.Width, d.Size.Height)
	}
	if d.TileSize <= 0 {
		return nil, fmt.Errorf("invalid tile size %d", d.TileSize)
	}
	if d.Overlap < 0 || d.Overlap >= d.TileSize {
		return nil, fmt.Errorf("invalid overlap %d", d.Overlap)
	}
	d.Format = strings.ToLower(d.Format)
	if d.Format == "" {
		return nil, fmt.Errorf("missing tile format")
	}
	return &d, nil
}

// Marshal encodes the descriptor with an XML header.
func (d *Descriptor) Marshal() ([]byte, error) {
	d.XMLName = xml.Name{Space: Namespace, Local: "Image"}
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// MaxLevel returns the DZI number of the full resolution level.
func (d *Descriptor) MaxLevel() int {
	return int(math.Ceil(math.Log2(float64(max(d.Size.Width, d.Size.Height)))))
}

// LevelSize returns the pixel size of DZI level l.
func (d *Descriptor) LevelSize(l int) (int, int) {
	scale := 1 << (d.MaxLevel() - l)
	return ceilDiv(d.Size.Width, scale), ceilDiv(d.Size.Height, scale)
}

// TileRect returns the pixel rectangle, in level coordinates, covered by the
// tile file (col, row) of a level of size w x h, overlap included.
func (d *Descriptor) TileRect(col, row, w, h int) (x0, y0, x1, y1 int) {
	x0 = col*d.TileSize - d.Overlap
	y0 = row*d.TileSize - d.Overlap
	if col == 0 {
		x0 = 0
	}
	if row == 0 {
		y0 = 0
	}
	x1 = min((col+1)*d.TileSize+d.Overlap, w)
	y1 = min((row+1)*d.TileSize+d.Overlap, h)
	return x0, y0, x1, y1
}

// FilesDir returns the tile directory belonging to the descriptor at path.
func FilesDir(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_files"
}

// Sniff reports whether header looks like a Deep Zoom descriptor.
func Sniff(header []byte) bool {
	return bytes.Contains(header, []byte("<Image")) && bytes.Contains(header, []byte("deepzoom"))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
