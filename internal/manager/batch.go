package manager

import (
	"context"
	"image"

	"golang.org/x/sync/errgroup"
)

// TileQuery is one item of a batch tile request.
type TileQuery struct {
	SlideID string
	TileRequest
}

// TileResult is the outcome of one TileQuery. Exactly one of Image and Err
// is set.
type TileResult struct {
	SlideID string
	Image   image.Image
	Err     error
}

// GetTiles serves a batch of tiles concurrently. A failing item does not
// affect the others; results are in query order.
func (m *Manager) GetTiles(ctx context.Context, queries []TileQuery) []TileResult {
	results := make([]TileResult, len(queries))

	var g errgroup.Group
	g.SetLimit(m.cfg.DecodeWorkers)
	for i, q := range queries {
		results[i].SlideID = q.SlideID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Image, results[i].Err = m.GetTile(ctx, q.SlideID, q.TileRequest)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
