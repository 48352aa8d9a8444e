package cache

import (
	"context"
	"fmt"
)

// overflowEvicter is implemented by stores that can trim a partition
// atomically.
type overflowEvicter interface {
	EvictOverflow(ctx context.Context, partition string, maxEntries int) (int, error)
}

// EvictOverflow trims partition to at most maxEntries entries by deleting the
// oldest insertions first. Reads never refresh an entry's position, so an old
// entry that is requested often is evicted as readily as one requested once.
// It returns the number of entries removed.
func EvictOverflow(ctx context.Context, store Store, partition string, maxEntries int) (int, error) {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if e, ok := store.(overflowEvicter); ok {
		return e.EvictOverflow(ctx, partition, maxEntries)
	}
	keys, err := store.Keys(ctx, partition)
	if err != nil {
		return 0, fmt.Errorf("listing partition '%s': %w", partition, err)
	}
	surplus := len(keys) - maxEntries
	if surplus <= 0 {
		return 0, nil
	}
	removed, err := store.DeleteKeys(ctx, partition, keys[:surplus]...)
	if err != nil {
		return removed, fmt.Errorf("evicting from partition '%s': %w", partition, err)
	}
	return removed, nil
}
