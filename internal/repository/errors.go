package repository

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrStaleState is returned by compare-and-set updates whose expected
	// current state no longer holds.
	ErrStaleState = errors.New("stale state")
)
