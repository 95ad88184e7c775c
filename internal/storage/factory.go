package storage

import "fmt"

// DefaultStoreKind is the backend used when none is requested.
func DefaultStoreKind() string {
	return "memory"
}

// NewStore selects a store backend by name. The empty kind maps to the
// in-memory store.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(path), nil
	case "sqlite":
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
