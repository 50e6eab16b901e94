package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound means nothing is stored.
var ErrNotFound = errors.New("no remembered value")

// ErrReadOnly is returned by backends that cannot be written.
var ErrReadOnly = errors.New("token store is read-only")

// Store reads, writes and clears the remember-me value.
type Store interface {
	// Read returns the stored value or ErrNotFound.
	Read(ctx context.Context) (string, error)

	// Write persists the value, replacing any previous one.
	Write(ctx context.Context, value string) error

	// Clear removes the value. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
