// Package fragment models immutable fragments: their metadata, names,
// and the writer that appends a new fragment to an array.
package fragment

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/pkg/storage"
	"github.com/segmentio/ksuid"
	"golang.org/x/exp/slices"
)

const metadataFile = "meta.json"

var nameRegex = regexp.MustCompile(`^frag-([0-9]{20})-([0-9A-Za-z]{27})$`)

// NewName mints a fragment directory name.  The zero-padded
// nanosecond timestamp makes names sort by creation time even within
// the one-second granularity of the ksuid, so listing an array's
// fragments yields them oldest first.
func NewName() string {
	return fmt.Sprintf("frag-%020d-%s", time.Now().UnixNano(), ksuid.New())
}

// NameMatch reports whether s is a fragment directory name.
func NameMatch(s string) (ksuid.KSUID, bool) {
	match := nameRegex.FindStringSubmatch(s)
	if match == nil {
		return ksuid.Nil, false
	}
	id, err := ksuid.Parse(match[2])
	if err != nil {
		return ksuid.Nil, false
	}
	return id, true
}

// Metadata describes one fragment.  Fragments are ordered oldest
// first within a query; a larger index is more recent and shadows
// smaller ones.
type Metadata struct {
	Dense     bool               `json:"dense"`
	CoordType gridstore.Datatype `json:"coord_type"`
	DimNum    int                `json:"dim_num"`
	// NonEmpty is the fragment's non-empty domain: 2*DimNum raw
	// coordinate values, inclusive lo/hi pairs.
	NonEmpty []byte `json:"non_empty"`
	TileNum  uint64 `json:"tile_num"`
	// MBRs holds the minimum bounding rectangle of each tile's
	// coordinates.  Sparse fragments only.
	MBRs [][]byte `json:"mbrs,omitempty"`
	// CellCounts holds the number of cells in each tile.  Sparse
	// fragments only; dense tiles are always full.
	CellCounts []uint64 `json:"cell_counts,omitempty"`
	// VarTileBytes records the decoded size of each var-values tile
	// per attribute, used for buffer estimates.
	VarTileBytes map[string][]uint64 `json:"var_tile_bytes,omitempty"`

	uri *storage.URI
}

func (m *Metadata) URI() *storage.URI { return m.uri }

func (m *Metadata) SetURI(u *storage.URI) { m.uri = u }

// MBR returns the bounding rectangle of a sparse tile.
func (m *Metadata) MBR(tileIdx uint64) []byte { return m.MBRs[tileIdx] }

// CellNum returns the recorded number of cells in a sparse tile.  It
// returns 0 for dense fragments and when no counts were recorded.
func (m *Metadata) CellNum(tileIdx uint64) uint64 {
	if m.Dense || m.CellCounts == nil {
		return 0
	}
	return m.CellCounts[tileIdx]
}

// TileURI names the tile file of an attribute.  varPart selects the
// values file of a var-sized attribute; the base file holds the cell
// values of fixed-sized attributes and the offsets of var-sized ones.
func (m *Metadata) TileURI(attr string, tileIdx uint64, varPart bool) *storage.URI {
	name := fmt.Sprintf("t_%s_%d", attr, tileIdx)
	if varPart {
		name += "_v"
	}
	return m.uri.AppendPath(name)
}

// TileSize returns the decoded byte size recorded for a var-values
// tile, or ok=false if none was recorded.
func (m *Metadata) TileSize(attr string, tileIdx uint64) (uint64, bool) {
	sizes, ok := m.VarTileBytes[attr]
	if !ok || tileIdx >= uint64(len(sizes)) {
		return 0, false
	}
	return sizes[tileIdx], true
}

// Write persists the metadata under the fragment's URI.
func (m *Metadata) Write(ctx context.Context, engine storage.Engine) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return storage.Put(ctx, engine, m.uri.AppendPath(metadataFile), b)
}

// Load reads fragment metadata from the fragment's URI.
func Load(ctx context.Context, engine storage.Engine, uri *storage.URI) (*Metadata, error) {
	b, err := storage.Get(ctx, engine, uri.AppendPath(metadataFile))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("fragment %s: %w", uri, err)
	}
	m.uri = uri
	return &m, nil
}

// List loads the metadata of every fragment under an array URI,
// ordered oldest first.
func List(ctx context.Context, engine storage.Engine, array *storage.URI) ([]*Metadata, error) {
	infos, err := engine.List(ctx, array)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if _, ok := NameMatch(info.Name); ok {
			names = append(names, info.Name)
		}
	}
	// Names sort lexically by their zero-padded creation timestamp.
	slices.Sort(names)
	frags := make([]*Metadata, 0, len(names))
	for _, name := range names {
		m, err := Load(ctx, engine, array.AppendPath(name))
		if err != nil {
			return nil, err
		}
		frags = append(frags, m)
	}
	return frags, nil
}
