// Package kvstore persists small opaque values under string keys. It is the
// storage contract the push subscription state is written through.
package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore: store is closed")

// Store reads and writes values by key. Get omits keys that are not
// present from the result rather than returning an error.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// DefaultDataDir returns the default directory for nicopush-go databases.
// Uses $XDG_DATA_HOME/nicopush-go, falling back to ~/.local/share/nicopush-go.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "nicopush-go")
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Open opens a store of the given backend at path. An empty backend means
// SQLite; an empty path means a default file in DefaultDataDir.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		if path == "" {
			path = filepath.Join(DefaultDataDir(), "push.db")
		}
		return OpenSQLite(path)
	case BackendBolt:
		if path == "" {
			path = filepath.Join(DefaultDataDir(), "push.bolt")
		}
		return OpenBolt(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, errors.New("kvstore: unknown backend " + backend)
	}
}
