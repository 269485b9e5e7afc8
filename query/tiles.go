package query

import (
	"sync"

	"github.com/gridstore/gridstore/tile"
)

// An overlappingTile identifies one tile of one fragment that
// intersects the query subarray, along with the decoded attribute
// tiles loaded for it so far.  A tile record is shared by every
// downstream coordinate and cell range that refers into it.
type overlappingTile struct {
	fragIdx int
	tileIdx uint64
	// full is true when the subarray fully contains the tile's
	// bounding rectangle, so every cell in the tile qualifies.  For
	// dense tiles it records whether the fragment's non-empty domain
	// covers the whole tile.
	full bool

	mu        sync.Mutex
	attrTiles map[string]tile.Pair
}

func newOverlappingTile(fragIdx int, tileIdx uint64, full bool) *overlappingTile {
	return &overlappingTile{
		fragIdx:   fragIdx,
		tileIdx:   tileIdx,
		full:      full,
		attrTiles: make(map[string]tile.Pair),
	}
}

func (t *overlappingTile) attr(name string) (tile.Pair, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pair, ok := t.attrTiles[name]
	return pair, ok
}

func (t *overlappingTile) setAttr(name string, pair tile.Pair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attrTiles[name] = pair
}

// A cellRange addresses a maximal run of contiguous cell positions in
// one tile.  A nil tile marks a fill range: cells materialized from
// the attribute's fill value.  Bounds are inclusive.
type cellRange struct {
	tile  *overlappingTile
	start uint64
	end   uint64
}

func (r cellRange) cells() uint64 { return r.end - r.start + 1 }

// An overlappingCoords records one sparse cell that falls inside the
// subarray: the tile it lives in, its coordinates, and its position in
// the tile.
type overlappingCoords[T any] struct {
	tile   *overlappingTile
	coords []T
	pos    uint64
}
