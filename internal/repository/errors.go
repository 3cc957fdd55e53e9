package repository

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrInvalidEntity is returned when an entity violates its invariants at
// the store boundary. Offending changes are rejected here and never
// reach the push queue.
var ErrInvalidEntity = errors.New("invalid entity")
