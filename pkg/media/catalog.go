package media

import (
	"context"
)

// Catalog is the remote, read-only media catalog.
type Catalog interface {
	// Query returns the assets matching opts ordered by creation time,
	// oldest first.
	Query(ctx context.Context, opts QueryOptions) ([]Asset, error)
	// FindByStoragePath returns the asset stored at path, or nil when there
	// is none.
	FindByStoragePath(ctx context.Context, path string) (*Asset, error)
}
