package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore reads the remember-me value from an environment variable.
type EnvStore struct {
	envKey string
}

var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for envKey. The variable does not need to be
// set yet; an unset or empty variable reads as ErrNotFound.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}
	return &EnvStore{envKey: envKey}, nil
}

func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value := strings.TrimSpace(os.Getenv(e.envKey))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

func (e *EnvStore) Write(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("environment variable %s: %w", e.envKey, ErrReadOnly)
}

// Clear is a no-op: the process cannot unset the value for its parent, and
// logging out must not fail because of it.
func (e *EnvStore) Clear(ctx context.Context) error {
	return ctx.Err()
}
