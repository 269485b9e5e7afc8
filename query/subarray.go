package query

import (
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
)

func gridOf[T domain.Num](q *Query) *domain.Grid[T] {
	s := q.schema
	return domain.NewGrid[T](s.Domain(), s.TileExtents(), s.CellOrder(), s.TileOrder())
}

// subarrayOf decodes the query subarray, defaulting to the full
// domain.
func subarrayOf[T domain.Num](q *Query) []T {
	if q.subarray == nil {
		return domain.AsSlice[T](q.schema.Domain())
	}
	return domain.AsSlice[T](q.subarray)
}

func (q *Query) checkSubarray(subarray []byte) error {
	want := 2 * uint64(q.schema.DimNum()) * q.schema.CoordType().Size()
	if uint64(len(subarray)) != want {
		return fmt.Errorf("subarray has %d bytes, want %d: %w", len(subarray), want, gridstore.ErrInvalidSubarray)
	}
	switch q.schema.CoordType() {
	case gridstore.Int8:
		return checkSubarrayAs[int8](q, subarray)
	case gridstore.Int16:
		return checkSubarrayAs[int16](q, subarray)
	case gridstore.Int32:
		return checkSubarrayAs[int32](q, subarray)
	case gridstore.Int64:
		return checkSubarrayAs[int64](q, subarray)
	case gridstore.Uint8:
		return checkSubarrayAs[uint8](q, subarray)
	case gridstore.Uint16:
		return checkSubarrayAs[uint16](q, subarray)
	case gridstore.Uint32:
		return checkSubarrayAs[uint32](q, subarray)
	case gridstore.Uint64:
		return checkSubarrayAs[uint64](q, subarray)
	case gridstore.Float32:
		return checkSubarrayAs[float32](q, subarray)
	case gridstore.Float64:
		return checkSubarrayAs[float64](q, subarray)
	}
	return fmt.Errorf("coordinate type %s: %w", q.schema.CoordType(), gridstore.ErrInvalidSchema)
}

func checkSubarrayAs[T domain.Num](q *Query, subarray []byte) error {
	dimNum := q.schema.DimNum()
	sub := domain.AsSlice[T](subarray)
	dom := domain.AsSlice[T](q.schema.Domain())
	for d := 0; d < dimNum; d++ {
		if sub[2*d] > sub[2*d+1] {
			return fmt.Errorf("dimension %d bounds inverted: %w", d, gridstore.ErrInvalidSubarray)
		}
	}
	if _, contained := domain.Overlap(dom, sub, dimNum); !contained {
		return fmt.Errorf("subarray exceeds domain: %w", gridstore.ErrInvalidSubarray)
	}
	return nil
}

// ComputeSubarrays splits the query subarray into pieces, each
// estimated to fit the current output buffers, so a caller can
// iterate instead of risking Incomplete.  The split halves the
// longest dimension and recurses until every piece fits or has a
// single cell.  Float domains are returned whole: their cell counts
// cannot be derived from bounds.
func (q *Query) ComputeSubarrays() ([][]byte, error) {
	if !q.schema.CoordType().IsInteger() {
		sub := q.subarray
		if sub == nil {
			sub = q.schema.Domain()
		}
		return [][]byte{sub}, nil
	}
	switch q.schema.CoordType() {
	case gridstore.Int8:
		return computeSubarraysAs[int8](q)
	case gridstore.Int16:
		return computeSubarraysAs[int16](q)
	case gridstore.Int32:
		return computeSubarraysAs[int32](q)
	case gridstore.Int64:
		return computeSubarraysAs[int64](q)
	case gridstore.Uint8:
		return computeSubarraysAs[uint8](q)
	case gridstore.Uint16:
		return computeSubarraysAs[uint16](q)
	case gridstore.Uint32:
		return computeSubarraysAs[uint32](q)
	case gridstore.Uint64:
		return computeSubarraysAs[uint64](q)
	}
	return nil, fmt.Errorf("coordinate type %s: %w", q.schema.CoordType(), gridstore.ErrInvalidSchema)
}

func computeSubarraysAs[T domain.Num](q *Query) ([][]byte, error) {
	sub := subarrayOf[T](q)
	bounds := q.cellByteBounds()
	var out [][]byte
	var split func(s []T)
	split = func(s []T) {
		if q.fits(cellCount(s), bounds) || singleCell(s) {
			out = append(out, append([]byte(nil), domain.AsBytes(s)...))
			return
		}
		lo, hi := splitLongest(s)
		split(lo)
		split(hi)
	}
	split(append([]T(nil), sub...))
	return out, nil
}

func cellCount[T domain.Num](s []T) uint64 {
	n := uint64(1)
	for d := 0; d < len(s)/2; d++ {
		n *= uint64(int64(s[2*d+1]-s[2*d])) + 1
	}
	return n
}

func singleCell[T domain.Num](s []T) bool {
	return cellCount(s) == 1
}

func splitLongest[T domain.Num](s []T) (lo, hi []T) {
	longest, span := 0, int64(-1)
	for d := 0; d < len(s)/2; d++ {
		if ext := int64(s[2*d+1] - s[2*d]); ext > span {
			longest, span = d, ext
		}
	}
	lo = append([]T(nil), s...)
	hi = append([]T(nil), s...)
	mid := s[2*longest] + T(span/2)
	lo[2*longest+1] = mid
	hi[2*longest] = mid + 1
	return lo, hi
}

// cellByteBounds returns the per-buffer upper bound of bytes one cell
// can contribute.
func (q *Query) cellByteBounds() []uint64 {
	bounds := make([]uint64, len(q.buffers))
	for _, b := range q.bindings {
		if b.isCoords {
			bounds[b.buf] = q.schema.CoordsCellSize()
			continue
		}
		if !b.isVar() {
			bounds[b.buf] = b.attr.CellSize()
			continue
		}
		bounds[b.buf] = 8
		bounds[b.buf+1] = q.varCellBound(b)
	}
	return bounds
}

// varCellBound estimates the largest value size of a var attribute
// from fragment tile metadata, falling back to the fill value size.
func (q *Query) varCellBound(b *binding) uint64 {
	bound := uint64(len(b.attr.FillValue()))
	for _, m := range q.frags {
		for t := uint64(0); t < m.TileNum; t++ {
			size, ok := m.TileSize(b.name, t)
			if !ok {
				continue
			}
			cells := m.CellNum(t)
			if cells == 0 {
				cells = 1
			}
			if avg := (size + cells - 1) / cells; avg > bound {
				bound = avg
			}
		}
	}
	return bound
}

func (q *Query) fits(cells uint64, bounds []uint64) bool {
	for i, bound := range bounds {
		if cells*bound > uint64(len(q.buffers[i])) {
			return false
		}
	}
	return true
}
