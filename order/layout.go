// Package order defines the cell and tile orders used by arrays and
// queries.  A Layout describes the order in which cells are streamed
// into or out of an array.
package order

import (
	"encoding/json"
	"fmt"
)

type Layout int

const (
	// RowMajor varies the last dimension fastest.
	RowMajor Layout = iota
	// ColMajor varies the first dimension fastest.
	ColMajor
	// GlobalOrder follows the array's canonical linearization:
	// tile order first, then the cell order within each tile.
	GlobalOrder
	// Unordered is accepted only by write queries.
	Unordered
)

func Parse(s string) (Layout, error) {
	switch s {
	case "row-major":
		return RowMajor, nil
	case "col-major":
		return ColMajor, nil
	case "global":
		return GlobalOrder, nil
	case "unordered":
		return Unordered, nil
	}
	return RowMajor, fmt.Errorf("unknown layout: %q", s)
}

func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	case GlobalOrder:
		return "global"
	case Unordered:
		return "unordered"
	}
	return fmt.Sprintf("order.Layout(%d)", int(l))
}

func (l Layout) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Layout) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	which, err := Parse(s)
	if err != nil {
		return err
	}
	*l = which
	return nil
}
