package fragment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
	"github.com/gridstore/gridstore/order"
	"github.com/gridstore/gridstore/pkg/storage"
	"github.com/gridstore/gridstore/tile"
	"golang.org/x/exp/slices"
)

// AttrData carries one attribute's cell data for a write.  For fixed
// attributes Data holds the packed cell values.  For var attributes
// Data holds packed uint64 byte offsets into Var, one per cell,
// ascending, first offset zero.
type AttrData struct {
	Data []byte
	Var  []byte
}

func (d AttrData) varCell(k uint64) []byte {
	offs := domain.AsSlice[uint64](d.Data)
	if k >= uint64(len(offs)) {
		return nil
	}
	end := uint64(len(d.Var))
	if k+1 < uint64(len(offs)) {
		end = offs[k+1]
	}
	return d.Var[offs[k]:end]
}

// A Writer appends one new fragment to an array.
type Writer struct {
	engine storage.Engine
	schema *gridstore.Schema
	uri    *storage.URI
}

// NewWriter creates a writer for a new fragment under the array URI.
// A non-empty name pins the fragment directory name, used when the
// caller is building a consolidation fragment.
func NewWriter(engine storage.Engine, schema *gridstore.Schema, array *storage.URI, name string) *Writer {
	if name == "" {
		name = NewName()
	}
	return &Writer{engine: engine, schema: schema, uri: array.AppendPath(name)}
}

func (w *Writer) URI() *storage.URI { return w.uri }

func (w *Writer) putTile(ctx context.Context, attr string, tileIdx uint64, varPart bool, b []byte) error {
	encoded, err := tile.Encode(b)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("t_%s_%d", attr, tileIdx)
	if varPart {
		name += "_v"
	}
	return storage.Put(ctx, w.engine, w.uri.AppendPath(name), encoded)
}

func (w *Writer) checkAttrs(data map[string]AttrData) error {
	for _, a := range w.schema.Attributes() {
		if _, ok := data[a.Name]; !ok {
			return fmt.Errorf("write: attribute %q: %w", a.Name, gridstore.ErrInvalidAttribute)
		}
	}
	return nil
}

// WriteDense writes the cells of a dense subarray as a new fragment.
// Input buffers are laid out in the array's global cell order over the
// subarray.  Tiles are padded with fill values where the subarray is
// not tile-aligned.
func WriteDense[T domain.Num](ctx context.Context, w *Writer, subarray []T, data map[string]AttrData) (*Metadata, error) {
	schema := w.schema
	if !schema.IsDense() {
		return nil, fmt.Errorf("dense write to sparse array: %w", gridstore.ErrInvalidSchema)
	}
	if err := w.checkAttrs(data); err != nil {
		return nil, err
	}
	grid := domain.NewGrid[T](schema.Domain(), schema.TileExtents(), schema.CellOrder(), schema.TileOrder())
	dimNum := grid.DimNum()
	if len(subarray) != 2*dimNum {
		return nil, fmt.Errorf("write subarray has %d bounds, want %d: %w", len(subarray), 2*dimNum, gridstore.ErrInvalidSubarray)
	}
	if _, contained := domain.Overlap(grid.Dom, subarray, dimNum); !contained {
		return nil, fmt.Errorf("write subarray: %w", gridstore.ErrInvalidSubarray)
	}
	expanded := grid.ExpandToTiles(subarray)
	tileCellNum := grid.TileCellNum()
	m := &Metadata{
		Dense:        true,
		CoordType:    schema.CoordType(),
		DimNum:       dimNum,
		NonEmpty:     append([]byte(nil), domain.AsBytes(subarray)...),
		VarTileBytes: make(map[string][]uint64),
		uri:          w.uri,
	}
	var consumed uint64 // input cells written by prior tiles
	var tileIdx uint64
	err := grid.TilesCovering(expanded, func(tc []T) error {
		tileDom := grid.TileDomain(tc)
		isect, ok := domain.Intersect(subarray, tileDom, dimNum)
		if !ok {
			return fmt.Errorf("tile outside write subarray: %w", gridstore.ErrInvalidSubarray)
		}
		var runs [][2]uint64
		if err := grid.RectRunsInTile(tc, isect, func(start, end uint64) error {
			runs = append(runs, [2]uint64{start, end})
			return nil
		}); err != nil {
			return err
		}
		// runBase[i] is the number of run cells before run i.
		runBase := make([]uint64, len(runs))
		var runCells uint64
		for i, r := range runs {
			runBase[i] = runCells
			runCells += r[1] - r[0] + 1
		}
		for _, attr := range schema.Attributes() {
			in := data[attr.Name]
			if attr.Var {
				if err := w.writeDenseVarTile(ctx, attr, tileIdx, tileCellNum, runs, runBase, consumed, in, m); err != nil {
					return err
				}
				continue
			}
			if err := w.writeDenseFixedTile(ctx, attr, tileIdx, tileCellNum, runs, runBase, consumed, in); err != nil {
				return err
			}
		}
		consumed += runCells
		tileIdx++
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.TileNum = tileIdx
	if err := m.Write(ctx, w.engine); err != nil {
		return nil, err
	}
	return m, nil
}

func (w *Writer) writeDenseFixedTile(ctx context.Context, attr *gridstore.Attribute, tileIdx, tileCellNum uint64, runs [][2]uint64, runBase []uint64, consumed uint64, in AttrData) error {
	cs := attr.CellSize()
	fill := attr.FillValue()
	buf := make([]byte, tileCellNum*cs)
	for p := uint64(0); p < tileCellNum; p++ {
		copy(buf[p*cs:], fill)
	}
	for i, r := range runs {
		n := r[1] - r[0] + 1
		src := (consumed + runBase[i]) * cs
		if src+n*cs > uint64(len(in.Data)) {
			return fmt.Errorf("attribute %q: input buffer too small: %w", attr.Name, gridstore.ErrBufferMismatch)
		}
		copy(buf[r[0]*cs:(r[1]+1)*cs], in.Data[src:src+n*cs])
	}
	return w.putTile(ctx, attr.Name, tileIdx, false, buf)
}

func (w *Writer) writeDenseVarTile(ctx context.Context, attr *gridstore.Attribute, tileIdx, tileCellNum uint64, runs [][2]uint64, runBase []uint64, consumed uint64, in AttrData, m *Metadata) error {
	fill := attr.FillValue()
	offs := make([]uint64, tileCellNum)
	var values bytes.Buffer
	ri := 0
	for p := uint64(0); p < tileCellNum; p++ {
		offs[p] = uint64(values.Len())
		for ri < len(runs) && runs[ri][1] < p {
			ri++
		}
		if ri < len(runs) && runs[ri][0] <= p {
			k := consumed + runBase[ri] + (p - runs[ri][0])
			values.Write(in.varCell(k))
		} else {
			values.Write(fill)
		}
	}
	if err := w.putTile(ctx, attr.Name, tileIdx, false, domain.AsBytes(offs)); err != nil {
		return err
	}
	if err := w.putTile(ctx, attr.Name, tileIdx, true, values.Bytes()); err != nil {
		return err
	}
	m.VarTileBytes[attr.Name] = append(m.VarTileBytes[attr.Name], uint64(values.Len()))
	return nil
}

// WriteSparse writes sparse cells as a new fragment.  coords holds
// dimNum values per cell.  With an Unordered layout the cells are
// sorted into the array's global cell order first; with GlobalOrder
// the caller asserts they already are.
func WriteSparse[T domain.Num](ctx context.Context, w *Writer, layout order.Layout, coords []T, data map[string]AttrData) (*Metadata, error) {
	schema := w.schema
	if schema.IsDense() {
		return nil, fmt.Errorf("sparse write to dense array: %w", gridstore.ErrInvalidSchema)
	}
	if err := w.checkAttrs(data); err != nil {
		return nil, err
	}
	grid := domain.NewGrid[T](schema.Domain(), schema.TileExtents(), schema.CellOrder(), schema.TileOrder())
	dimNum := grid.DimNum()
	if len(coords) == 0 || len(coords)%dimNum != 0 {
		return nil, fmt.Errorf("coords buffer has %d values: %w", len(coords), gridstore.ErrBufferMismatch)
	}
	cellNum := uint64(len(coords) / dimNum)
	perm := make([]uint64, cellNum)
	for i := range perm {
		perm[i] = uint64(i)
	}
	if layout == order.Unordered {
		slices.SortStableFunc(perm, func(a, b uint64) bool {
			return grid.Compare(cellCoords(coords, dimNum, a), cellCoords(coords, dimNum, b), order.GlobalOrder) < 0
		})
	}
	capacity := schema.Capacity()
	tileNum := (cellNum + capacity - 1) / capacity
	m := &Metadata{
		CoordType:    schema.CoordType(),
		DimNum:       dimNum,
		TileNum:      tileNum,
		VarTileBytes: make(map[string][]uint64),
		uri:          w.uri,
	}
	nonEmpty := boundingRect(coords, dimNum, perm)
	m.NonEmpty = append([]byte(nil), domain.AsBytes(nonEmpty)...)
	for t := uint64(0); t < tileNum; t++ {
		lo, hi := t*capacity, (t+1)*capacity
		if hi > cellNum {
			hi = cellNum
		}
		cells := perm[lo:hi]
		m.CellCounts = append(m.CellCounts, hi-lo)
		// Coordinates tile and MBR.
		tileCoords := make([]T, 0, uint64(dimNum)*(hi-lo))
		for _, k := range cells {
			tileCoords = append(tileCoords, cellCoords(coords, dimNum, k)...)
		}
		mbr := boundingRect(tileCoords, dimNum, nil)
		m.MBRs = append(m.MBRs, append([]byte(nil), domain.AsBytes(mbr)...))
		if err := w.putTile(ctx, gridstore.Coords, t, false, domain.AsBytes(tileCoords)); err != nil {
			return nil, err
		}
		for _, attr := range schema.Attributes() {
			in := data[attr.Name]
			if attr.Var {
				offs := make([]uint64, 0, len(cells))
				var values bytes.Buffer
				for _, k := range cells {
					offs = append(offs, uint64(values.Len()))
					values.Write(in.varCell(k))
				}
				if err := w.putTile(ctx, attr.Name, t, false, domain.AsBytes(offs)); err != nil {
					return nil, err
				}
				if err := w.putTile(ctx, attr.Name, t, true, values.Bytes()); err != nil {
					return nil, err
				}
				m.VarTileBytes[attr.Name] = append(m.VarTileBytes[attr.Name], uint64(values.Len()))
				continue
			}
			cs := attr.CellSize()
			buf := make([]byte, 0, uint64(len(cells))*cs)
			for _, k := range cells {
				if (k+1)*cs > uint64(len(in.Data)) {
					return nil, fmt.Errorf("attribute %q: input buffer too small: %w", attr.Name, gridstore.ErrBufferMismatch)
				}
				buf = append(buf, in.Data[k*cs:(k+1)*cs]...)
			}
			if err := w.putTile(ctx, attr.Name, t, false, buf); err != nil {
				return nil, err
			}
		}
	}
	if err := m.Write(ctx, w.engine); err != nil {
		return nil, err
	}
	return m, nil
}

func cellCoords[T domain.Num](coords []T, dimNum int, k uint64) []T {
	return coords[k*uint64(dimNum) : (k+1)*uint64(dimNum)]
}

// boundingRect computes the MBR of a coordinate set.  If perm is
// non-nil it selects and orders the cells considered.
func boundingRect[T domain.Num](coords []T, dimNum int, perm []uint64) []T {
	rect := make([]T, 2*dimNum)
	n := uint64(len(coords)) / uint64(dimNum)
	if perm != nil {
		n = uint64(len(perm))
	}
	if n == 0 {
		return rect
	}
	at := func(i uint64) []T {
		k := i
		if perm != nil {
			k = perm[i]
		}
		return cellCoords(coords, dimNum, k)
	}
	first := at(0)
	for d := 0; d < dimNum; d++ {
		rect[2*d], rect[2*d+1] = first[d], first[d]
	}
	for i := uint64(1); i < n; i++ {
		c := at(i)
		for d := 0; d < dimNum; d++ {
			if c[d] < rect[2*d] {
				rect[2*d] = c[d]
			}
			if c[d] > rect[2*d+1] {
				rect[2*d+1] = c[d]
			}
		}
	}
	return rect
}
