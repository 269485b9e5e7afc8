package query

import (
	"github.com/gridstore/gridstore/domain"
	"github.com/gridstore/gridstore/order"
	"golang.org/x/exp/slices"
)

// sortCoords orders sparse cells by the query layout.  Cells at equal
// coordinates sort more-recent-fragment first, then by position, so
// dedup can keep the first of each group.
func sortCoords[T domain.Num](g *domain.Grid[T], coords []*overlappingCoords[T], layout order.Layout) {
	slices.SortStableFunc(coords, func(a, b *overlappingCoords[T]) bool {
		if cmp := g.Compare(a.coords, b.coords, layout); cmp != 0 {
			return cmp < 0
		}
		if a.tile.fragIdx != b.tile.fragIdx {
			return a.tile.fragIdx > b.tile.fragIdx
		}
		return a.pos < b.pos
	})
}

// dedupCoords tombstones duplicate coordinates in place, keeping the
// cell from the most recent fragment.  Entries are nilled rather than
// removed so positions in the vector stay valid; downstream walkers
// skip nil entries.
func dedupCoords[T domain.Num](coords []*overlappingCoords[T]) {
	var last *overlappingCoords[T]
	for i, c := range coords {
		if c == nil {
			continue
		}
		if last != nil && slices.Equal(c.coords, last.coords) {
			coords[i] = nil
			continue
		}
		last = c
	}
}
