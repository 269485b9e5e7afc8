// Package tile holds the decoded tile model and the Accessor that
// loads tiles from storage: LRU-cached, single-flight coalesced, and
// decompressed on the way in.
package tile

import (
	"github.com/gridstore/gridstore/domain"
)

// A Tile is an immutable decoded byte block holding cell data for one
// attribute of one tile of one fragment.
type Tile struct {
	Bytes []byte
}

// Offsets reinterprets the tile as packed uint64 byte offsets.  Only
// meaningful for the offsets tile of a var-sized attribute.
func (t *Tile) Offsets() []uint64 {
	return domain.AsSlice[uint64](t.Bytes)
}

// A Pair bundles the tiles of one attribute.  For fixed-sized
// attributes only Data is set and holds the cell values; for var-sized
// attributes Data holds the offsets and Var the values.
type Pair struct {
	Data *Tile
	Var  *Tile
}

// IsZero reports whether the pair has not been loaded.
func (p Pair) IsZero() bool { return p.Data == nil }
