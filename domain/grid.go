// Package domain implements coordinate arithmetic on tile grids: which
// tile a cell falls in, where a tile sits in the domain, rectangle
// overlap and containment, and the comparators that define the array
// orders.  Everything is generic over the domain's numeric type.
package domain

import (
	"unsafe"

	"github.com/gridstore/gridstore/order"
	"golang.org/x/exp/constraints"
)

// Num constrains the coordinate types a domain may use.
type Num interface {
	constraints.Integer | constraints.Float
}

// AsSlice reinterprets raw coordinate bytes as a slice of T.  The
// bytes must be naturally aligned and in native byte order, which
// holds for all buffers produced by this module.
func AsSlice[T Num](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/int(unsafe.Sizeof(*new(T))))
}

// AsBytes is the inverse of AsSlice.
func AsBytes[T Num](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
}

// A Grid is an array domain divided into tiles: the inclusive lo/hi
// bounds per dimension, the tile extents, and the array's orders.
type Grid[T Num] struct {
	Dom       []T // 2*dimNum inclusive lo/hi pairs
	Extents   []T // dimNum
	CellOrder order.Layout
	TileOrder order.Layout
}

func NewGrid[T Num](domain, extents []byte, cellOrder, tileOrder order.Layout) *Grid[T] {
	return &Grid[T]{
		Dom:       AsSlice[T](domain),
		Extents:   AsSlice[T](extents),
		CellOrder: cellOrder,
		TileOrder: tileOrder,
	}
}

func (g *Grid[T]) DimNum() int { return len(g.Extents) }

// Overlap reports whether rectangles a and b intersect and whether a
// fully contains b.  Bounds are inclusive on both ends.
func Overlap[T Num](a, b []T, dimNum int) (overlaps, aContainsB bool) {
	overlaps, aContainsB = true, true
	for d := 0; d < dimNum; d++ {
		if a[2*d] > b[2*d+1] || b[2*d] > a[2*d+1] {
			return false, false
		}
		if a[2*d] > b[2*d] || b[2*d+1] > a[2*d+1] {
			aContainsB = false
		}
	}
	return overlaps, aContainsB
}

// Intersect returns the intersection of two rectangles, or ok=false if
// they are disjoint.
func Intersect[T Num](a, b []T, dimNum int) ([]T, bool) {
	out := make([]T, 2*dimNum)
	for d := 0; d < dimNum; d++ {
		lo, hi := max(a[2*d], b[2*d]), min(a[2*d+1], b[2*d+1])
		if lo > hi {
			return nil, false
		}
		out[2*d], out[2*d+1] = lo, hi
	}
	return out, true
}

// InRect reports whether coords falls inside rect.
func InRect[T Num](coords, rect []T) bool {
	for d := range coords {
		if coords[d] < rect[2*d] || coords[d] > rect[2*d+1] {
			return false
		}
	}
	return true
}

// TileCoords computes the per-dimension tile index of a cell, as grid
// coordinates on the tile grid.
func (g *Grid[T]) TileCoords(coords []T) []T {
	tc := make([]T, len(coords))
	for d := range coords {
		tc[d] = T(int64((coords[d] - g.Dom[2*d]) / g.Extents[d]))
	}
	return tc
}

// TileDomain returns the cell rectangle covered by the tile at the
// given tile coordinates, clamped to the array domain.
func (g *Grid[T]) TileDomain(tc []T) []T {
	dimNum := g.DimNum()
	rect := make([]T, 2*dimNum)
	for d := 0; d < dimNum; d++ {
		lo := g.Dom[2*d] + tc[d]*g.Extents[d]
		hi := lo + g.Extents[d] - 1
		if hi > g.Dom[2*d+1] {
			hi = g.Dom[2*d+1]
		}
		rect[2*d], rect[2*d+1] = lo, hi
	}
	return rect
}

// TileCounts returns the number of tiles along each dimension.
func (g *Grid[T]) TileCounts() []uint64 {
	counts := make([]uint64, g.DimNum())
	for d := range counts {
		counts[d] = uint64(int64((g.Dom[2*d+1]-g.Dom[2*d])/g.Extents[d])) + 1
	}
	return counts
}

// TileIdx linearizes tile coordinates over the whole grid in the
// array's tile order.
func (g *Grid[T]) TileIdx(tc []T) uint64 {
	return linearize(tc, g.TileCounts(), g.TileOrder)
}

// TileIdxIn linearizes tile coordinates relative to a sub-grid given
// by per-dimension origin and counts, in the array's tile order.  Used
// to locate a tile within a fragment's tile-aligned domain.
func (g *Grid[T]) TileIdxIn(tc, origin []T, counts []uint64) uint64 {
	rel := make([]T, len(tc))
	for d := range tc {
		rel[d] = tc[d] - origin[d]
	}
	return linearize(rel, counts, g.TileOrder)
}

func linearize[T Num](tc []T, counts []uint64, layout order.Layout) uint64 {
	var idx uint64
	if layout == order.ColMajor {
		for d := len(tc) - 1; d >= 0; d-- {
			idx = idx*counts[d] + uint64(int64(tc[d]))
		}
	} else {
		for d := 0; d < len(tc); d++ {
			idx = idx*counts[d] + uint64(int64(tc[d]))
		}
	}
	return idx
}

// TileCellNum returns the number of cell slots in one full tile.
func (g *Grid[T]) TileCellNum() uint64 {
	n := uint64(1)
	for _, e := range g.Extents {
		n *= uint64(int64(e))
	}
	return n
}

// CellPosInTile linearizes a cell's offset within its tile in the
// array's cell order.  Tiles are always addressed at their full
// extents, so positions are comparable across fragments.
func (g *Grid[T]) CellPosInTile(tc, coords []T) uint64 {
	var pos uint64
	if g.CellOrder == order.ColMajor {
		for d := g.DimNum() - 1; d >= 0; d-- {
			off := uint64(int64(coords[d] - (g.Dom[2*d] + tc[d]*g.Extents[d])))
			pos = pos*uint64(int64(g.Extents[d])) + off
		}
	} else {
		for d := 0; d < g.DimNum(); d++ {
			off := uint64(int64(coords[d] - (g.Dom[2*d] + tc[d]*g.Extents[d])))
			pos = pos*uint64(int64(g.Extents[d])) + off
		}
	}
	return pos
}

// ExpandToTiles grows a rectangle outward to tile boundaries, clamped
// to the array domain.
func (g *Grid[T]) ExpandToTiles(rect []T) []T {
	dimNum := g.DimNum()
	out := make([]T, 2*dimNum)
	for d := 0; d < dimNum; d++ {
		lo := g.Dom[2*d] + T(int64((rect[2*d]-g.Dom[2*d])/g.Extents[d]))*g.Extents[d]
		hi := g.Dom[2*d] + T(int64((rect[2*d+1]-g.Dom[2*d])/g.Extents[d])+1)*g.Extents[d] - 1
		if hi > g.Dom[2*d+1] {
			hi = g.Dom[2*d+1]
		}
		out[2*d], out[2*d+1] = lo, hi
	}
	return out
}

// Compare orders two coordinate tuples in the given layout.
// GlobalOrder compares tile coordinates in the tile order first, then
// the coordinates themselves in the cell order.
func (g *Grid[T]) Compare(a, b []T, layout order.Layout) int {
	switch layout {
	case order.ColMajor:
		return compareLex(a, b, order.ColMajor)
	case order.GlobalOrder:
		ta, tb := g.TileCoords(a), g.TileCoords(b)
		if cmp := compareLex(ta, tb, g.TileOrder); cmp != 0 {
			return cmp
		}
		return compareLex(a, b, g.CellOrder)
	default:
		return compareLex(a, b, order.RowMajor)
	}
}

// compareLex compares tuples with the slowest-varying dimension most
// significant: the first dimension for row-major, the last for
// col-major.
func compareLex[T Num](a, b []T, layout order.Layout) int {
	if layout == order.ColMajor {
		for d := len(a) - 1; d >= 0; d-- {
			if a[d] != b[d] {
				if a[d] < b[d] {
					return -1
				}
				return 1
			}
		}
		return 0
	}
	for d := 0; d < len(a); d++ {
		if a[d] != b[d] {
			if a[d] < b[d] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func min[T Num](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func max[T Num](a, b T) T {
	if a > b {
		return a
	}
	return b
}
