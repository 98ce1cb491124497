package storage

import "fmt"

func NewStore(kind string, opts Options) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(opts), nil
	case "sqlite":
		return NewSQLiteStore(opts), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}
