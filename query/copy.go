package query

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gridstore/gridstore"
	"golang.org/x/sync/errgroup"
)

const copyConcurrency = 8

// attrProgress records how far one attribute's copy got: the number
// of fully copied ranges and, per buffer, the cumulative bytes after
// each completed range prefix.
type attrProgress struct {
	fullRanges int
	overflow   bool
	bounds     []uint64 // fixed buffer, or offsets buffer of a var attr
	varBounds  []uint64 // values buffer of a var attr
}

// copyAttrs copies every requested attribute for the range list, one
// worker per attribute.  Buffers of distinct attributes are written
// independently; within an attribute the range order is the layout
// order.  After a buffer overflow the outputs are truncated to the
// longest range prefix every attribute completed, so all buffers
// describe the same cells.
func (q *Query) copyAttrs(ctx context.Context, ranges []cellRange) error {
	progress := make([]attrProgress, len(q.bindings))
	tiles := rangeTiles(ranges)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(copyConcurrency)
	for i, b := range q.bindings {
		i, b := i, b
		group.Go(func() error {
			if err := q.loadTiles(ctx, tiles, b.name, b.isVar()); err != nil {
				return err
			}
			var err error
			if b.isVar() {
				progress[i], err = q.copyVar(ctx, b, ranges)
			} else {
				progress[i], err = q.copyFixed(ctx, b, ranges)
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	common := len(ranges)
	overflowed := false
	for _, p := range progress {
		if p.overflow {
			overflowed = true
		}
		if p.fullRanges < common {
			common = p.fullRanges
		}
	}
	for i, b := range q.bindings {
		p := progress[i]
		cut := len(p.bounds) - 1
		if overflowed {
			cut = common
		}
		q.sizes[b.buf] = p.bounds[cut]
		if b.isVar() {
			q.sizes[b.buf+1] = p.varBounds[cut]
		}
		if p.overflow {
			q.overflow[b.buf] = true
			if b.isVar() {
				q.overflow[b.buf+1] = true
			}
		}
	}
	return nil
}

// rangeTiles lists the distinct tiles a range list refers to,
// preserving first-reference order.
func rangeTiles(ranges []cellRange) []*overlappingTile {
	seen := make(map[*overlappingTile]bool)
	var tiles []*overlappingTile
	for _, r := range ranges {
		if r.tile == nil || seen[r.tile] {
			continue
		}
		seen[r.tile] = true
		tiles = append(tiles, r.tile)
	}
	return tiles
}

func (q *Query) cellSize(b *binding) uint64 {
	if b.isCoords {
		return q.schema.CoordsCellSize()
	}
	return b.attr.CellSize()
}

// copyFixed emits the cell bytes of a fixed-sized attribute for each
// range in order.  Fill ranges repeat the attribute's fill value.  On
// overflow the copy stops; whole cells that still fit are written but
// only fully completed ranges count toward the progress bounds.
func (q *Query) copyFixed(ctx context.Context, b *binding, ranges []cellRange) (attrProgress, error) {
	cs := q.cellSize(b)
	buf := q.buffers[b.buf]
	fill := b.attr.FillValue()
	var off uint64
	p := attrProgress{bounds: []uint64{0}}
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		n := r.cells()
		space := (uint64(len(buf)) - off) / cs
		if r.tile == nil {
			fit := n
			if space < n {
				fit = space
			}
			for j := uint64(0); j < fit; j++ {
				copy(buf[off:], fill)
				off += cs
			}
			if fit < n {
				p.fullRanges = i
				p.overflow = true
				return p, nil
			}
		} else {
			pair, ok := r.tile.attr(b.name)
			if !ok {
				return p, fmt.Errorf("attribute %q tile not loaded: %w", b.name, gridstore.ErrCorruptTile)
			}
			src := pair.Data.Bytes
			lo, hi := r.start*cs, (r.end+1)*cs
			if hi > uint64(len(src)) {
				return p, fmt.Errorf("attribute %q tile is %d bytes, range needs %d: %w", b.name, len(src), hi, gridstore.ErrCorruptTile)
			}
			fit := n
			if space < n {
				fit = space
			}
			copy(buf[off:], src[lo:lo+fit*cs])
			off += fit * cs
			if fit < n {
				p.fullRanges = i
				p.overflow = true
				return p, nil
			}
		}
		p.bounds = append(p.bounds, off)
		p.fullRanges = i + 1
	}
	return p, nil
}

// copyVar emits a var-sized attribute: one running offset per cell
// into the offsets buffer and the value bytes into the values buffer.
// Overflow in either buffer stops the attribute.
func (q *Query) copyVar(ctx context.Context, b *binding, ranges []cellRange) (attrProgress, error) {
	offBuf := q.buffers[b.buf]
	valBuf := q.buffers[b.buf+1]
	fill := b.attr.FillValue()
	var offOff, valOff uint64
	p := attrProgress{bounds: []uint64{0}, varBounds: []uint64{0}}
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		if r.tile == nil {
			for j := uint64(0); j < r.cells(); j++ {
				if offOff+8 > uint64(len(offBuf)) || valOff+uint64(len(fill)) > uint64(len(valBuf)) {
					p.fullRanges = i
					p.overflow = true
					return p, nil
				}
				binary.LittleEndian.PutUint64(offBuf[offOff:], valOff)
				offOff += 8
				copy(valBuf[valOff:], fill)
				valOff += uint64(len(fill))
			}
		} else {
			pair, ok := r.tile.attr(b.name)
			if !ok {
				return p, fmt.Errorf("attribute %q tile not loaded: %w", b.name, gridstore.ErrCorruptTile)
			}
			offs := pair.Data.Offsets()
			values := pair.Var.Bytes
			for pos := r.start; pos <= r.end; pos++ {
				if pos >= uint64(len(offs)) {
					return p, fmt.Errorf("attribute %q offsets tile has %d cells, need %d: %w", b.name, len(offs), pos+1, gridstore.ErrCorruptTile)
				}
				vstart := offs[pos]
				vend := uint64(len(values))
				if pos+1 < uint64(len(offs)) {
					vend = offs[pos+1]
				}
				if vstart > vend || vend > uint64(len(values)) {
					return p, fmt.Errorf("attribute %q offsets out of order: %w", b.name, gridstore.ErrCorruptTile)
				}
				vlen := vend - vstart
				if offOff+8 > uint64(len(offBuf)) || valOff+vlen > uint64(len(valBuf)) {
					p.fullRanges = i
					p.overflow = true
					return p, nil
				}
				binary.LittleEndian.PutUint64(offBuf[offOff:], valOff)
				offOff += 8
				copy(valBuf[valOff:], values[vstart:vend])
				valOff += vlen
			}
		}
		p.bounds = append(p.bounds, offOff)
		p.varBounds = append(p.varBounds, valOff)
		p.fullRanges = i + 1
	}
	return p, nil
}
