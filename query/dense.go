package query

import (
	"context"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
	"github.com/gridstore/gridstore/order"
)

// A run is a maximal set of cells of the subarray that is visited
// consecutively by the query layout, stays inside one tile, and is
// contiguous in the tile's position space.  Runs vary along a single
// dimension (fd); when the traversal's fastest dimension is not the
// cell order's fastest, runs degrade to single cells.
type run[T domain.Num] struct {
	tc    []T // tile coordinates
	rect  []T // cell bounds of the run, lo/hi per dimension
	fd    int // the varying dimension
	start uint64
	end   uint64
}

// forEachRun walks the subarray in the given layout and hands each
// run to fn, in emission order.  Integer domains only.
func forEachRun[T domain.Num](g *domain.Grid[T], sub []T, layout order.Layout, fn func(run[T]) error) error {
	if layout == order.GlobalOrder {
		return g.TilesCovering(sub, func(tc []T) error {
			isect, ok := domain.Intersect(sub, g.TileDomain(tc), g.DimNum())
			if !ok {
				return nil
			}
			return forEachRectRun(g, tc, isect, fn)
		})
	}
	dimNum := g.DimNum()
	dims := domain.DimSeq(dimNum, layout)
	fd := dims[dimNum-1]
	cellFast := domain.DimSeq(dimNum, g.CellOrder)[dimNum-1]
	cur := make([]T, dimNum)
	for d := 0; d < dimNum; d++ {
		cur[d] = sub[2*d]
	}
	for {
		segHi := cur[fd]
		if fd == cellFast {
			tileLo := g.Dom[2*fd] + T(int64((cur[fd]-g.Dom[2*fd])/g.Extents[fd]))*g.Extents[fd]
			if tileHi := tileLo + g.Extents[fd] - 1; tileHi < sub[2*fd+1] {
				segHi = tileHi
			} else {
				segHi = sub[2*fd+1]
			}
		}
		rect := make([]T, 2*dimNum)
		for d := 0; d < dimNum; d++ {
			rect[2*d], rect[2*d+1] = cur[d], cur[d]
		}
		rect[2*fd+1] = segHi
		tc := g.TileCoords(cur)
		start := g.CellPosInTile(tc, cur)
		if err := fn(run[T]{tc: tc, rect: rect, fd: fd, start: start, end: start + uint64(int64(segHi-cur[fd]))}); err != nil {
			return err
		}
		if segHi < sub[2*fd+1] {
			cur[fd] = segHi + 1
			continue
		}
		cur[fd] = sub[2*fd]
		carried := false
		for i := dimNum - 2; i >= 0; i-- {
			d := dims[i]
			if cur[d] < sub[2*d+1] {
				cur[d]++
				carried = true
				break
			}
			cur[d] = sub[2*d]
		}
		if !carried {
			return nil
		}
	}
}

// forEachRectRun emits the runs of a rectangle contained in one tile,
// in the cell order, ascending positions.
func forEachRectRun[T domain.Num](g *domain.Grid[T], tc, rect []T, fn func(run[T]) error) error {
	dimNum := g.DimNum()
	dims := domain.DimSeq(dimNum, g.CellOrder)
	fd := dims[dimNum-1]
	cur := make([]T, dimNum)
	for d := 0; d < dimNum; d++ {
		cur[d] = rect[2*d]
	}
	length := uint64(int64(rect[2*fd+1] - rect[2*fd]))
	for {
		r := run[T]{tc: tc, fd: fd, rect: make([]T, 2*dimNum)}
		for d := 0; d < dimNum; d++ {
			r.rect[2*d], r.rect[2*d+1] = cur[d], cur[d]
		}
		r.rect[2*fd+1] = rect[2*fd+1]
		r.start = g.CellPosInTile(tc, cur)
		r.end = r.start + length
		if err := fn(r); err != nil {
			return err
		}
		carried := false
		for i := dimNum - 2; i >= 0; i-- {
			d := dims[i]
			if cur[d] < rect[2*d+1] {
				cur[d]++
				carried = true
				break
			}
			cur[d] = rect[2*d]
		}
		if !carried {
			return nil
		}
	}
}

// denseFrag caches the per-fragment geometry the dense merge needs.
type denseFrag[T domain.Num] struct {
	idx      int
	nonEmpty []T
	origin   []T      // tile coords of the fragment's first tile
	counts   []uint64 // tiles per dimension of the fragment
}

type tileKey struct {
	fragIdx int
	tileIdx uint64 // global tile index
}

// denseRead computes the ordered cell range list of a dense query:
// for each run of the subarray, the fragments covering each position
// are merged with recency precedence and gaps become fill ranges.
// The emitted ranges partition the subarray with no gaps or overlaps.
func denseRead[T domain.Num](ctx context.Context, q *Query, g *domain.Grid[T], sub []T) ([]cellRange, error) {
	dimNum := g.DimNum()
	frags := make([]*denseFrag[T], len(q.frags))
	for f, m := range q.frags {
		if !m.Dense {
			return nil, fmt.Errorf("sparse fragment in dense read: %w", gridstore.ErrInvalidSchema)
		}
		ne := domain.AsSlice[T](m.NonEmpty)
		expanded := g.ExpandToTiles(ne)
		lo, hi := g.TileCoordRange(expanded)
		counts := make([]uint64, dimNum)
		for d := 0; d < dimNum; d++ {
			counts[d] = uint64(int64(hi[d]-lo[d])) + 1
		}
		frags[f] = &denseFrag[T]{idx: f, nonEmpty: ne, origin: lo, counts: counts}
	}
	tiles := make(map[tileKey]*overlappingTile)
	var ranges []cellRange
	err := forEachRun(g, sub, q.layout, func(r run[T]) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return mergeRun(g, r, frags, func(fragIdx int, start, end uint64) error {
			var ot *overlappingTile
			if fragIdx >= 0 {
				key := tileKey{fragIdx, g.TileIdx(r.tc)}
				var ok bool
				if ot, ok = tiles[key]; !ok {
					frag := frags[fragIdx]
					local := g.TileIdxIn(r.tc, frag.origin, frag.counts)
					_, full := domain.Overlap(frag.nonEmpty, g.TileDomain(r.tc), dimNum)
					ot = newOverlappingTile(fragIdx, local, full)
					tiles[key] = ot
				}
			}
			if n := len(ranges); n > 0 {
				last := &ranges[n-1]
				if ot == nil && last.tile == nil {
					// Fill ranges carry only a cell count, so
					// adjacent ones merge regardless of position.
					last.end += end - start + 1
					return nil
				}
				if ot != nil && last.tile == ot && last.end+1 == start {
					last.end = end
					return nil
				}
			}
			ranges = append(ranges, cellRange{tile: ot, start: start, end: end})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ranges, nil
}

// mergeRun merges the fragments covering one run.  At each position
// the most recent covering fragment wins; a more recent fragment whose
// coverage starts later preempts the current winner at its start.
// Positions covered by no fragment are emitted with fragment index -1.
func mergeRun[T domain.Num](g *domain.Grid[T], r run[T], frags []*denseFrag[T], emit func(fragIdx int, start, end uint64) error) error {
	type interval struct {
		a, b uint64
		ok   bool
	}
	ivs := make([]interval, len(frags))
	for i, f := range frags {
		isect, ok := domain.Intersect(r.rect, f.nonEmpty, g.DimNum())
		if !ok {
			continue
		}
		a := r.start + uint64(int64(isect[2*r.fd]-r.rect[2*r.fd]))
		b := r.start + uint64(int64(isect[2*r.fd+1]-r.rect[2*r.fd]))
		ivs[i] = interval{a: a, b: b, ok: true}
	}
	c := r.start
	for c <= r.end {
		win := -1
		for i := range ivs {
			if ivs[i].ok && ivs[i].a <= c && c <= ivs[i].b {
				win = i
			}
		}
		if win < 0 {
			next := r.end + 1
			for i := range ivs {
				if ivs[i].ok && ivs[i].a > c && ivs[i].a < next {
					next = ivs[i].a
				}
			}
			if err := emit(-1, c, next-1); err != nil {
				return err
			}
			c = next
			continue
		}
		end := ivs[win].b
		if end > r.end {
			end = r.end
		}
		for i := win + 1; i < len(ivs); i++ {
			if ivs[i].ok && ivs[i].a > c && ivs[i].a <= end {
				end = ivs[i].a - 1
			}
		}
		if err := emit(frags[win].idx, c, end); err != nil {
			return err
		}
		c = end + 1
	}
	return nil
}
