package store

import "errors"

// Sentinel errors returned by repository operations in place of bare
// nil, nil results, so callers can distinguish "not found" from failure.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrSerialConflict = errors.New("store: serial number already present")
)
