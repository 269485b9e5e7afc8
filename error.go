package gridstore

import "errors"

// Caller errors, reported before any I/O happens.
var (
	ErrInvalidSchema    = errors.New("invalid array schema")
	ErrInvalidSubarray  = errors.New("subarray out of domain")
	ErrInvalidAttribute = errors.New("invalid attribute")
	ErrBufferMismatch   = errors.New("buffer count mismatch")
	ErrUnsupportedLayout = errors.New("unsupported layout")
)

// Data errors, surfaced from tile I/O and decoding.
var (
	ErrIO          = errors.New("storage I/O error")
	ErrCorruptTile = errors.New("corrupt tile")
)
