package domain

import "github.com/gridstore/gridstore/order"

// DimSeq returns the dimension traversal sequence of a layout, from
// slowest-varying to fastest.  Row-major varies the last dimension
// fastest; col-major the first.
func DimSeq(dimNum int, layout order.Layout) []int {
	dims := make([]int, dimNum)
	if layout == order.ColMajor {
		for d := range dims {
			dims[d] = dimNum - 1 - d
		}
	} else {
		for d := range dims {
			dims[d] = d
		}
	}
	return dims
}

// RectRunsInTile calls fn once per maximal run of cell positions of
// rect within the tile at tc, in ascending position order.  rect must
// be contained in the tile.  Runs are contiguous in the tile's
// position space: they vary only along the cell order's fastest
// dimension.  Integer domains only.
func (g *Grid[T]) RectRunsInTile(tc, rect []T, fn func(start, end uint64) error) error {
	dimNum := g.DimNum()
	dims := DimSeq(dimNum, g.CellOrder)
	fd := dims[dimNum-1]
	coords := make([]T, dimNum)
	for d := 0; d < dimNum; d++ {
		coords[d] = rect[2*d]
	}
	length := uint64(int64(rect[2*fd+1] - rect[2*fd]))
	for {
		start := g.CellPosInTile(tc, coords)
		if err := fn(start, start+length); err != nil {
			return err
		}
		// Advance the odometer over the non-fastest dimensions.
		carry := true
		for i := dimNum - 2; i >= 0; i-- {
			d := dims[i]
			if coords[d] < rect[2*d+1] {
				coords[d]++
				carry = false
				break
			}
			coords[d] = rect[2*d]
		}
		if carry {
			return nil
		}
	}
}

// TileCoordRange returns the inclusive per-dimension tile coordinate
// bounds of the tiles intersecting rect.
func (g *Grid[T]) TileCoordRange(rect []T) (lo, hi []T) {
	dimNum := g.DimNum()
	lo = make([]T, dimNum)
	hi = make([]T, dimNum)
	for d := 0; d < dimNum; d++ {
		lo[d] = T(int64((rect[2*d] - g.Dom[2*d]) / g.Extents[d]))
		hi[d] = T(int64((rect[2*d+1] - g.Dom[2*d]) / g.Extents[d]))
	}
	return lo, hi
}

// TilesCovering calls fn for each tile intersecting rect, in the
// array's tile order.
func (g *Grid[T]) TilesCovering(rect []T, fn func(tc []T) error) error {
	dimNum := g.DimNum()
	lo, hi := g.TileCoordRange(rect)
	dims := DimSeq(dimNum, g.TileOrder)
	tc := make([]T, dimNum)
	copy(tc, lo)
	for {
		out := make([]T, dimNum)
		copy(out, tc)
		if err := fn(out); err != nil {
			return err
		}
		carry := true
		for i := dimNum - 1; i >= 0; i-- {
			d := dims[i]
			if tc[d] < hi[d] {
				tc[d]++
				carry = false
				break
			}
			tc[d] = lo[d]
		}
		if carry {
			return nil
		}
	}
}
