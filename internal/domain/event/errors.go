package event

import "errors"

var (
	// ErrUnknownEvent indicates the name matches no catalogue entry or alias.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrBadTimestamp indicates an unparseable occurrence timestamp.
	ErrBadTimestamp = errors.New("bad timestamp")
	// ErrInvalidDef indicates a malformed catalogue entry.
	ErrInvalidDef = errors.New("invalid event definition")
)
