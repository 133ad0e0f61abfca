package bencode

import "errors"

// Decode failure kinds, per the four bencoded grammar productions.
var (
	ErrUnexpectedEOF  = errors.New("bencode: unexpected end of input")
	ErrInvalidMarker  = errors.New("bencode: invalid type marker")
	ErrMissingTerm    = errors.New("bencode: missing terminator")
	ErrBadInteger     = errors.New("bencode: malformed integer")
	ErrTruncatedStr   = errors.New("bencode: truncated byte string")
	ErrNonStringKey   = errors.New("bencode: dictionary key is not a byte string")
	ErrTrailingData   = errors.New("bencode: trailing data after value")
)
