package query

import (
	"context"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
	"github.com/gridstore/gridstore/fragment"
	"github.com/gridstore/gridstore/order"
)

// writeAs appends the caller's buffers as a new fragment.  Dense
// writes take cells in the array's global order over the write
// subarray; sparse writes take coordinates plus attribute cells, in
// global order or unordered.
func writeAs[T domain.Num](ctx context.Context, q *Query) error {
	w := fragment.NewWriter(q.engine, q.schema, q.arrayURI, q.consolidationName)
	data := make(map[string]fragment.AttrData)
	var coordsBuf []byte
	for _, b := range q.bindings {
		if b.isCoords {
			coordsBuf = q.buffers[b.buf]
			continue
		}
		d := fragment.AttrData{Data: q.buffers[b.buf]}
		if b.isVar() {
			d.Var = q.buffers[b.buf+1]
		}
		data[b.name] = d
	}
	if q.schema.IsDense() {
		if q.layout != order.GlobalOrder {
			return fmt.Errorf("dense write in %s layout: %w", q.layout, gridstore.ErrUnsupportedLayout)
		}
		m, err := fragment.WriteDense(ctx, w, subarrayOf[T](q), data)
		if err != nil {
			return err
		}
		q.lastFragmentURI = m.URI()
		return nil
	}
	if q.layout != order.GlobalOrder && q.layout != order.Unordered {
		return fmt.Errorf("sparse write in %s layout: %w", q.layout, gridstore.ErrUnsupportedLayout)
	}
	m, err := fragment.WriteSparse(ctx, w, q.layout, domain.AsSlice[T](coordsBuf), data)
	if err != nil {
		return err
	}
	q.lastFragmentURI = m.URI()
	return nil
}
