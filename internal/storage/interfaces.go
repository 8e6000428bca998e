package storage

import "context"

// Storage is the persistence boundary for pipeline artifacts. Paths are
// relative; implementations decide where they live and must refuse anything
// that escapes their root.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}
