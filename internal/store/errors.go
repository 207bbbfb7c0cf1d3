package store

import "errors"

// Store-specific error types.
var (
	ErrEmptyUpdate = errors.New("update requires at least one patch")
	ErrNilPatch    = errors.New("patch apply function cannot be nil")
	ErrNilCallback = errors.New("subscription callback cannot be nil")
)
