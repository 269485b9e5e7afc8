package query

import (
	"context"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
	"github.com/gridstore/gridstore/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// loadTiles fetches one attribute's tiles for every overlapping tile,
// fanning the reads out and coalescing duplicates through the
// accessor.  Tiles already loaded are skipped.
func (q *Query) loadTiles(ctx context.Context, tiles []*overlappingTile, name string, isVar bool) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(copyConcurrency)
	for _, ot := range tiles {
		if _, ok := ot.attr(name); ok {
			continue
		}
		ot := ot
		group.Go(func() error {
			m := q.frags[ot.fragIdx]
			var varURI *storage.URI
			if isVar {
				varURI = m.TileURI(name, ot.tileIdx, true)
			}
			pair, err := q.accessor.Load(ctx, m.TileURI(name, ot.tileIdx, false), varURI)
			if err != nil {
				return err
			}
			ot.setAttr(name, pair)
			return nil
		})
	}
	return group.Wait()
}

// scanCoords extracts the cell positions of one overlapping tile whose
// coordinates fall inside the subarray.  Cells are visited in the
// order they are stored in the tile; no reordering happens here.
func scanCoords[T domain.Num](q *Query, ot *overlappingTile, sub []T) ([]*overlappingCoords[T], error) {
	pair, ok := ot.attr(gridstore.Coords)
	if !ok {
		return nil, fmt.Errorf("coordinates tile not loaded: %w", gridstore.ErrCorruptTile)
	}
	dimNum := q.schema.DimNum()
	coords := domain.AsSlice[T](pair.Data.Bytes)
	cellNum := uint64(len(coords) / dimNum)
	if want := q.frags[ot.fragIdx].CellNum(ot.tileIdx); want != 0 && want != cellNum {
		return nil, fmt.Errorf("coordinates tile has %d cells, metadata says %d: %w", cellNum, want, gridstore.ErrCorruptTile)
	}
	var out []*overlappingCoords[T]
	for p := uint64(0); p < cellNum; p++ {
		c := coords[p*uint64(dimNum) : (p+1)*uint64(dimNum)]
		if ot.full || domain.InRect(c, sub) {
			out = append(out, &overlappingCoords[T]{tile: ot, coords: c, pos: p})
		}
	}
	return out, nil
}
