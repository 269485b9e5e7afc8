package query

import (
	"github.com/gridstore/gridstore/domain"
)

// computeOverlappingTiles enumerates, for every fragment, the sparse
// tiles whose bounding rectangle intersects the subarray, classifying
// each as a full or partial overlap.  The result is ordered by
// fragment index ascending, then tile index ascending, a stable
// enumeration the downstream sort relies on.
func computeOverlappingTiles[T domain.Num](q *Query, sub []T) []*overlappingTile {
	dimNum := q.schema.DimNum()
	var tiles []*overlappingTile
	for f, m := range q.frags {
		for t := uint64(0); t < m.TileNum; t++ {
			mbr := domain.AsSlice[T](m.MBR(t))
			overlaps, full := domain.Overlap(sub, mbr, dimNum)
			if !overlaps {
				continue
			}
			tiles = append(tiles, newOverlappingTile(f, t, full))
		}
	}
	return tiles
}
