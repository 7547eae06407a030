package store

import "errors"

// Sentinel errors returned by repositories. Handlers map these onto
// HTTP status codes; everything else is treated as an internal error.
var (
	ErrNotFound        = errors.New("store: not found")
	ErrAlreadyExists   = errors.New("store: already exists")
	ErrVersionConflict = errors.New("store: version conflict")
)
