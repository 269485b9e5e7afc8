package tile

import (
	"encoding/binary"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/pierrec/lz4/v4"
)

// Tile files carry a uvarint uncompressed length followed by one lz4
// block.  A zero length stands alone for an empty tile.

// Encode compresses a decoded tile into its on-disk form.
func Encode(b []byte) ([]byte, error) {
	hdr := binary.AppendUvarint(nil, uint64(len(b)))
	if len(b) == 0 {
		return hdr, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	var c lz4.Compressor
	n, err := c.CompressBlock(b, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible block, store it raw with a zero form
		// byte so Decode can tell the two forms apart.
		out := append(hdr, 0)
		return append(out, b...), nil
	}
	out := append(hdr, 1)
	return append(out, dst[:n]...), nil
}

// Decode expands the on-disk form of a tile.
func Decode(b []byte) ([]byte, error) {
	usize, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("tile header: %w", gridstore.ErrCorruptTile)
	}
	b = b[n:]
	if usize == 0 {
		return nil, nil
	}
	if len(b) < 1 {
		return nil, fmt.Errorf("tile header: %w", gridstore.ErrCorruptTile)
	}
	form, b := b[0], b[1:]
	switch form {
	case 0:
		if uint64(len(b)) != usize {
			return nil, fmt.Errorf("raw tile is %d bytes, want %d: %w", len(b), usize, gridstore.ErrCorruptTile)
		}
		// Copy so the decoded tile owns aligned storage independent
		// of the encoded buffer.
		out := make([]byte, usize)
		copy(out, b)
		return out, nil
	case 1:
		out := make([]byte, usize)
		n, err := lz4.UncompressBlock(b, out)
		if err != nil || uint64(n) != usize {
			return nil, fmt.Errorf("lz4 tile: %w", gridstore.ErrCorruptTile)
		}
		return out, nil
	}
	return nil, fmt.Errorf("tile form %d: %w", form, gridstore.ErrCorruptTile)
}
