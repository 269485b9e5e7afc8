package gridstore

import (
	"encoding/json"
	"fmt"
)

// Datatype enumerates the primitive cell types an array may store.
type Datatype int

const (
	Int8 Datatype = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Char
)

// Size returns the fixed byte width of one value of the type.
func (d Datatype) Size() uint64 {
	switch d {
	case Int8, Uint8, Char:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

func (d Datatype) String() string {
	switch d {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Char:
		return "char"
	}
	return fmt.Sprintf("gridstore.Datatype(%d)", int(d))
}

func ParseDatatype(s string) (Datatype, error) {
	for d := Int8; d <= Char; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown datatype: %q", s)
}

func (d Datatype) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Datatype) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dt, err := ParseDatatype(s)
	if err != nil {
		return err
	}
	*d = dt
	return nil
}

// IsInteger reports whether the type is one of the integer types.
func (d Datatype) IsInteger() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// ZeroFill returns the default fill value for the type, a single
// zero-valued element.
func (d Datatype) ZeroFill() []byte {
	return make([]byte, d.Size())
}
