// Package query implements the execution core for reads and writes
// against a tiled array: planning which fragment tiles a subarray
// touches, merging cells across fragments with recency precedence,
// and copying the result into caller buffers.
package query

import (
	"context"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/fragment"
	"github.com/gridstore/gridstore/order"
	"github.com/gridstore/gridstore/pkg/storage"
	"github.com/gridstore/gridstore/tile"
	"go.uber.org/zap"
)

// A binding ties one requested attribute to its output (or input)
// buffers: one buffer for fixed-sized attributes, two for var-sized
// (offsets first, then values).
type binding struct {
	name     string
	attr     *gridstore.Attribute
	isCoords bool
	buf      int // index of the first buffer
}

func (b *binding) isVar() bool { return b.attr.Var }

// A Query executes one read or write against an array.  It is created
// in the InProgress state and driven to a terminal state by Read or
// Write.
type Query struct {
	engine   storage.Engine
	accessor *tile.Accessor
	schema   *gridstore.Schema
	frags    []*fragment.Metadata
	typ      Type
	layout   order.Layout
	subarray []byte // nil means the full domain
	bindings []*binding
	buffers  [][]byte
	sizes    []uint64
	overflow []bool
	status   Status
	logger   *zap.Logger

	arrayURI          *storage.URI
	consolidationName string
	lastFragmentURI   *storage.URI
	fragmentsBorrowed bool
}

type Option func(*Query)

func WithLogger(logger *zap.Logger) Option {
	return func(q *Query) { q.logger = logger }
}

// WithBorrowedFragments marks the fragment metadata as loaned by the
// caller; Finalize will not release it.
func WithBorrowedFragments() Option {
	return func(q *Query) { q.fragmentsBorrowed = true }
}

// WithArrayURI sets the array location used by write queries to place
// the new fragment.
func WithArrayURI(u *storage.URI) Option {
	return func(q *Query) { q.arrayURI = u }
}

// New initializes a query.  Fragments are ordered oldest first: a
// larger index is more recent and shadows smaller ones.  subarray is
// the raw coordinate bounds (2*dimNum values of the schema's
// coordinate type); nil means the full domain.  buffers holds one
// entry per fixed-sized attribute and two per var-sized attribute, in
// attribute order.  consolidationName, if non-empty, pins the name of
// the fragment a write query creates.
func New(engine storage.Engine, accessor *tile.Accessor, schema *gridstore.Schema, fragments []*fragment.Metadata, typ Type, layout order.Layout, subarray []byte, attributes []string, buffers [][]byte, consolidationName string, opts ...Option) (*Query, error) {
	q := &Query{
		engine:            engine,
		accessor:          accessor,
		schema:            schema,
		frags:             fragments,
		typ:               typ,
		layout:            layout,
		status:            Uninitialized,
		logger:            zap.NewNop(),
		consolidationName: consolidationName,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.init(subarray, attributes, buffers); err != nil {
		q.status = Failed
		return q, err
	}
	q.status = InProgress
	q.logger.Debug("query initialized",
		zap.Stringer("type", typ),
		zap.Stringer("layout", layout),
		zap.Int("fragments", len(fragments)),
		zap.Int("attributes", len(attributes)))
	return q, nil
}

func (q *Query) init(subarray []byte, attributes []string, buffers [][]byte) error {
	if q.schema == nil {
		return fmt.Errorf("query: no schema: %w", gridstore.ErrInvalidSchema)
	}
	if q.typ != Read && q.typ != Write {
		return fmt.Errorf("query: bad type %d: %w", int(q.typ), gridstore.ErrInvalidSchema)
	}
	if err := q.checkLayout(q.layout); err != nil {
		return err
	}
	if err := q.setAttributes(attributes); err != nil {
		return err
	}
	if err := q.bindBuffers(buffers); err != nil {
		return err
	}
	return q.SetSubarray(subarray)
}

func (q *Query) checkLayout(layout order.Layout) error {
	switch layout {
	case order.RowMajor, order.ColMajor, order.GlobalOrder:
	case order.Unordered:
		if q.typ == Read {
			return fmt.Errorf("read in unordered layout: %w", gridstore.ErrUnsupportedLayout)
		}
	default:
		return fmt.Errorf("layout %d: %w", int(layout), gridstore.ErrUnsupportedLayout)
	}
	return nil
}

func (q *Query) setAttributes(attributes []string) error {
	if len(attributes) == 0 {
		return fmt.Errorf("query: no attributes: %w", gridstore.ErrInvalidAttribute)
	}
	seen := make(map[string]bool)
	q.bindings = nil
	for _, name := range attributes {
		if seen[name] {
			return fmt.Errorf("attribute %q repeated: %w", name, gridstore.ErrInvalidAttribute)
		}
		seen[name] = true
		if name == gridstore.Coords && q.schema.IsDense() {
			return fmt.Errorf("coordinates on a dense array: %w", gridstore.ErrInvalidAttribute)
		}
		attr, err := q.schema.Attribute(name)
		if err != nil {
			return err
		}
		q.bindings = append(q.bindings, &binding{
			name:     name,
			attr:     attr,
			isCoords: name == gridstore.Coords,
		})
	}
	if q.typ == Write && !q.schema.IsDense() && !seen[gridstore.Coords] {
		return fmt.Errorf("sparse write without coordinates: %w", gridstore.ErrInvalidAttribute)
	}
	return nil
}

func (q *Query) bindBuffers(buffers [][]byte) error {
	want := 0
	for _, b := range q.bindings {
		b.buf = want
		if b.isVar() {
			want += 2
		} else {
			want++
		}
	}
	if len(buffers) != want {
		return fmt.Errorf("%d buffers for %d slots: %w", len(buffers), want, gridstore.ErrBufferMismatch)
	}
	q.buffers = buffers
	q.sizes = make([]uint64, len(buffers))
	q.overflow = make([]bool, len(buffers))
	return nil
}

// SetSubarray replaces the query's subarray.  nil selects the full
// domain.  The bounds are validated against the array domain.
func (q *Query) SetSubarray(subarray []byte) error {
	if subarray == nil {
		q.subarray = nil
		return nil
	}
	if err := q.checkSubarray(subarray); err != nil {
		return err
	}
	q.subarray = subarray
	return nil
}

// SetBuffers replaces the attribute list and buffers, typically to
// resubmit after an Incomplete read with larger buffers.
func (q *Query) SetBuffers(attributes []string, buffers [][]byte) error {
	if err := q.setAttributes(attributes); err != nil {
		return err
	}
	if err := q.bindBuffers(buffers); err != nil {
		return err
	}
	if q.status == Incomplete || q.status == Completed {
		q.status = InProgress
	}
	return nil
}

// SetLayout replaces the query layout.  Key-value arrays have a fixed
// default layout and reject this.
func (q *Query) SetLayout(layout order.Layout) error {
	if q.schema.IsKeyValue() {
		return fmt.Errorf("key-value array layout is fixed: %w", gridstore.ErrUnsupportedLayout)
	}
	if err := q.checkLayout(layout); err != nil {
		return err
	}
	q.layout = layout
	return nil
}

func (q *Query) Status() Status        { return q.status }
func (q *Query) Layout() order.Layout  { return q.layout }
func (q *Query) QueryType() Type       { return q.typ }
func (q *Query) Subarray() []byte      { return q.subarray }
func (q *Query) Schema() *gridstore.Schema { return q.schema }

// Attributes returns the names of the attributes involved in the
// query.
func (q *Query) Attributes() []string {
	names := make([]string, len(q.bindings))
	for i, b := range q.bindings {
		names[i] = b.name
	}
	return names
}

// BufferSizes reports the bytes of useful data written to each buffer
// by the last Read, in buffer order.
func (q *Query) BufferSizes() []uint64 { return q.sizes }

// Overflow reports whether any output buffer overflowed.
func (q *Query) Overflow() bool {
	for _, o := range q.overflow {
		if o {
			return true
		}
	}
	return false
}

// OverflowAttr reports whether the named attribute's output
// overflowed.
func (q *Query) OverflowAttr(name string) (bool, error) {
	for _, b := range q.bindings {
		if b.name == name {
			if q.overflow[b.buf] {
				return true, nil
			}
			if b.isVar() {
				return q.overflow[b.buf+1], nil
			}
			return false, nil
		}
	}
	return false, fmt.Errorf("attribute %q not in query: %w", name, gridstore.ErrInvalidAttribute)
}

// FragmentNum returns the number of fragments involved in the query.
func (q *Query) FragmentNum() int { return len(q.frags) }

// FragmentURIs lists the URIs of the fragments involved in the query.
func (q *Query) FragmentURIs() []*storage.URI {
	uris := make([]*storage.URI, len(q.frags))
	for i, m := range q.frags {
		uris[i] = m.URI()
	}
	return uris
}

// LastFragmentURI returns the URI of the fragment created by the last
// Write, or nil.
func (q *Query) LastFragmentURI() *storage.URI { return q.lastFragmentURI }

// Finalize releases the query's fragment handles.  Fragments loaned by
// the caller are left alone.
func (q *Query) Finalize() error {
	if !q.fragmentsBorrowed {
		q.frags = nil
	}
	return nil
}

// Read executes a read query.  On return the buffer sizes report the
// useful bytes in each buffer.  An overflowed buffer leaves the query
// Incomplete; the caller may grow the buffers and resubmit.
func (q *Query) Read(ctx context.Context) error {
	if q.status != InProgress {
		return fmt.Errorf("read on %s query: %w", q.status, gridstore.ErrInvalidSchema)
	}
	if q.typ != Read {
		return fmt.Errorf("read on a %s query: %w", q.typ, gridstore.ErrInvalidSchema)
	}
	q.resetOutput()
	if err := dispatchRead(ctx, q); err != nil {
		q.status = Failed
		q.logger.Debug("read failed", zap.Error(err))
		return err
	}
	if q.Overflow() {
		q.status = Incomplete
	} else {
		q.status = Completed
	}
	q.logger.Debug("read done", zap.Stringer("status", q.status))
	return nil
}

// Write executes a write query, appending a new fragment built from
// the caller's buffers.
func (q *Query) Write(ctx context.Context) error {
	if q.status != InProgress {
		return fmt.Errorf("write on %s query: %w", q.status, gridstore.ErrInvalidSchema)
	}
	if q.typ != Write {
		return fmt.Errorf("write on a %s query: %w", q.typ, gridstore.ErrInvalidSchema)
	}
	if q.arrayURI == nil {
		return fmt.Errorf("write without an array URI: %w", gridstore.ErrInvalidSchema)
	}
	if err := dispatchWrite(ctx, q); err != nil {
		q.status = Failed
		return err
	}
	q.status = Completed
	q.logger.Debug("write done", zap.Stringer("fragment", q.lastFragmentURI))
	return nil
}

func (q *Query) resetOutput() {
	for i := range q.sizes {
		q.sizes[i] = 0
		q.overflow[i] = false
	}
	for i, b := range q.buffers {
		for j := range b {
			q.buffers[i][j] = 0
		}
	}
}

// dispatchRead instantiates the generic read pipeline for the
// schema's coordinate type.  Only coordinate handling is specialized;
// downstream stages work on opaque positions and bytes.
func dispatchRead(ctx context.Context, q *Query) error {
	switch q.schema.CoordType() {
	case gridstore.Int8:
		return readAs[int8](ctx, q)
	case gridstore.Int16:
		return readAs[int16](ctx, q)
	case gridstore.Int32:
		return readAs[int32](ctx, q)
	case gridstore.Int64:
		return readAs[int64](ctx, q)
	case gridstore.Uint8:
		return readAs[uint8](ctx, q)
	case gridstore.Uint16:
		return readAs[uint16](ctx, q)
	case gridstore.Uint32:
		return readAs[uint32](ctx, q)
	case gridstore.Uint64:
		return readAs[uint64](ctx, q)
	case gridstore.Float32:
		return readAs[float32](ctx, q)
	case gridstore.Float64:
		return readAs[float64](ctx, q)
	}
	return fmt.Errorf("coordinate type %s: %w", q.schema.CoordType(), gridstore.ErrInvalidSchema)
}

func dispatchWrite(ctx context.Context, q *Query) error {
	switch q.schema.CoordType() {
	case gridstore.Int8:
		return writeAs[int8](ctx, q)
	case gridstore.Int16:
		return writeAs[int16](ctx, q)
	case gridstore.Int32:
		return writeAs[int32](ctx, q)
	case gridstore.Int64:
		return writeAs[int64](ctx, q)
	case gridstore.Uint8:
		return writeAs[uint8](ctx, q)
	case gridstore.Uint16:
		return writeAs[uint16](ctx, q)
	case gridstore.Uint32:
		return writeAs[uint32](ctx, q)
	case gridstore.Uint64:
		return writeAs[uint64](ctx, q)
	case gridstore.Float32:
		return writeAs[float32](ctx, q)
	case gridstore.Float64:
		return writeAs[float64](ctx, q)
	}
	return fmt.Errorf("coordinate type %s: %w", q.schema.CoordType(), gridstore.ErrInvalidSchema)
}
