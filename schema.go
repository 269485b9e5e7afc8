// Package gridstore holds the core vocabulary of the array engine:
// datatypes, attributes, and the array schema consumed by the query
// pipeline.
package gridstore

import (
	"fmt"

	"github.com/gridstore/gridstore/order"
)

// Coords is the name of the built-in coordinates attribute.  It holds
// one value per dimension per cell and is always materialized
// internally by sparse reads, whether or not the caller asked for it.
const Coords = "__coords"

// An Attribute describes one named value stored per cell.
type Attribute struct {
	Name string   `json:"name"`
	Type Datatype `json:"type"`
	// Var marks a variable-sized attribute.  Var attributes are
	// addressed through an offsets tile paired with a values tile.
	Var bool `json:"var"`
	// Fill holds the bytes emitted for cells not covered by any
	// fragment.  If nil, the type's zero value is used.
	Fill []byte `json:"fill"`
}

// CellSize returns the byte width of one cell of the attribute, or the
// width of one offset entry for var-sized attributes.
func (a *Attribute) CellSize() uint64 {
	if a.Var {
		return 8
	}
	return a.Type.Size()
}

// FillValue returns the attribute's fill bytes, defaulting to the
// type's zero value.
func (a *Attribute) FillValue() []byte {
	if a.Fill != nil {
		return a.Fill
	}
	return a.Type.ZeroFill()
}

// A Schema describes an array: its domain, tile shape, orders, and
// attributes.  After creation only the sparse tile capacity and the
// key-value flag can be changed.
type Schema struct {
	dimNum    int
	coordType Datatype
	domain    []byte // 2*dimNum coordType values, inclusive lo/hi pairs
	extents   []byte // dimNum coordType values
	cellOrder order.Layout
	tileOrder order.Layout
	capacity  uint64 // cells per tile in sparse fragments
	dense     bool
	keyValue  bool
	attrs     []*Attribute
	attrMap   map[string]*Attribute
}

// NewSchema creates a schema.  The domain holds 2*dimNum coordinate
// values as raw little-endian bytes of coordType, inclusive on both
// ends; extents holds dimNum tile extents in the same encoding.
func NewSchema(dimNum int, coordType Datatype, domain, extents []byte, cellOrder, tileOrder order.Layout, dense bool, attrs []*Attribute) (*Schema, error) {
	if dimNum < 1 {
		return nil, fmt.Errorf("schema: dimension count %d: %w", dimNum, ErrInvalidSchema)
	}
	size := coordType.Size()
	if uint64(len(domain)) != 2*uint64(dimNum)*size {
		return nil, fmt.Errorf("schema: domain has %d bytes, want %d: %w", len(domain), 2*uint64(dimNum)*size, ErrInvalidSchema)
	}
	if uint64(len(extents)) != uint64(dimNum)*size {
		return nil, fmt.Errorf("schema: extents have %d bytes, want %d: %w", len(extents), uint64(dimNum)*size, ErrInvalidSchema)
	}
	if cellOrder != order.RowMajor && cellOrder != order.ColMajor {
		return nil, fmt.Errorf("schema: cell order %s: %w", cellOrder, ErrInvalidSchema)
	}
	if tileOrder != order.RowMajor && tileOrder != order.ColMajor {
		return nil, fmt.Errorf("schema: tile order %s: %w", tileOrder, ErrInvalidSchema)
	}
	if dense && !coordType.IsInteger() {
		return nil, fmt.Errorf("schema: dense array with %s domain: %w", coordType, ErrInvalidSchema)
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("schema: no attributes: %w", ErrInvalidSchema)
	}
	attrMap := make(map[string]*Attribute)
	for _, a := range attrs {
		if a.Name == "" || a.Name == Coords {
			return nil, fmt.Errorf("schema: bad attribute name %q: %w", a.Name, ErrInvalidSchema)
		}
		if _, ok := attrMap[a.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate attribute %q: %w", a.Name, ErrInvalidSchema)
		}
		attrMap[a.Name] = a
	}
	return &Schema{
		dimNum:    dimNum,
		coordType: coordType,
		domain:    domain,
		extents:   extents,
		cellOrder: cellOrder,
		tileOrder: tileOrder,
		capacity:  10000,
		dense:     dense,
		attrs:     attrs,
		attrMap:   attrMap,
	}, nil
}

func (s *Schema) DimNum() int              { return s.dimNum }
func (s *Schema) CoordType() Datatype      { return s.coordType }
func (s *Schema) Domain() []byte           { return s.domain }
func (s *Schema) TileExtents() []byte      { return s.extents }
func (s *Schema) CellOrder() order.Layout  { return s.cellOrder }
func (s *Schema) TileOrder() order.Layout  { return s.tileOrder }
func (s *Schema) IsDense() bool            { return s.dense }
func (s *Schema) IsKeyValue() bool         { return s.keyValue }
func (s *Schema) Capacity() uint64         { return s.capacity }
func (s *Schema) Attributes() []*Attribute { return s.attrs }

// SetCapacity sets the number of cells per sparse tile.
func (s *Schema) SetCapacity(n uint64) {
	if n > 0 {
		s.capacity = n
	}
}

// SetKeyValue marks the schema as a key-value array.  Key-value arrays
// have a fixed default layout and reject SetLayout on queries.
func (s *Schema) SetKeyValue(kv bool) { s.keyValue = kv }

// Attribute looks up an attribute by name.  The coordinates
// pseudo-attribute resolves to a synthetic fixed-size descriptor.
func (s *Schema) Attribute(name string) (*Attribute, error) {
	if name == Coords {
		return s.CoordsAttribute(), nil
	}
	if a, ok := s.attrMap[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("attribute %q: %w", name, ErrInvalidAttribute)
}

// CoordsAttribute returns the synthetic descriptor for the coordinates
// attribute: dimNum coordinate values per cell.
func (s *Schema) CoordsAttribute() *Attribute {
	return &Attribute{Name: Coords, Type: s.coordType}
}

// CoordsCellSize returns the byte width of one cell of coordinates.
func (s *Schema) CoordsCellSize() uint64 {
	return uint64(s.dimNum) * s.coordType.Size()
}
