// Package apperr holds the sentinel errors returned by store operations.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrReservedProperty = errors.New("reserved property")
	ErrInvalidOrder     = errors.New("invalid files order")
)
