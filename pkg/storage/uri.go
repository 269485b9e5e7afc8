package storage

import (
	"path/filepath"
	"strings"
)

// A URI names an object in an Engine.  Only plain paths are used by
// this module; the type exists so engines with richer addressing can
// slot in underneath.
type URI struct {
	Path string
}

func ParseURI(path string) (*URI, error) {
	return &URI{Path: path}, nil
}

func MustParseURI(path string) *URI {
	u, err := ParseURI(path)
	if err != nil {
		panic(err)
	}
	return u
}

func (u *URI) String() string { return u.Path }

func (u *URI) AppendPath(elem ...string) *URI {
	out := *u
	for _, el := range elem {
		out.Path = out.Path + "/" + el
	}
	return &out
}

func (u *URI) Base() string { return filepath.Base(u.Path) }

func (u *URI) RelPath(target *URI) string {
	prefix := u.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.TrimPrefix(target.Path, prefix)
}

func (u *URI) IsZero() bool { return u.Path == "" }

func (u *URI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *URI) UnmarshalText(b []byte) error {
	uri, err := ParseURI(string(b))
	if err != nil {
		return err
	}
	*u = *uri
	return nil
}
