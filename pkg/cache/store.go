package cache

import (
	"context"
	"time"

	"github.com/guardgate/guardgate/pkg/config"
	"github.com/guardgate/guardgate/pkg/domain"
)

// Store is the result cache contract. Implementations must be safe for
// concurrent use. A store that has lost connectivity returns
// domain.ErrCacheUnavailable; callers bypass the cache in that case.
type Store interface {
	// Get returns the cached result for a fingerprint, if present and
	// not expired.
	Get(ctx context.Context, fingerprint string) (domain.PipelineResult, bool, error)
	// Put stores a result. A zero ttl means the entry is not persisted.
	// Concurrent writers race; the last write wins.
	Put(ctx context.Context, fingerprint string, result domain.PipelineResult, ttl time.Duration) error
	// Purge drops all entries.
	Purge(ctx context.Context) error
	// Len reports the current entry count.
	Len() int
}

// TTLFor resolves the retention for a result under the given policy.
// The second return is false when the result must not be persisted.
// A TTL of zero always means non-persistent, taking precedence over
// cache_only_safe.
func TTLFor(policy config.CachePolicy, isSafe bool) (time.Duration, bool) {
	if !policy.Enabled {
		return 0, false
	}
	if isSafe {
		if policy.SafeTTL <= 0 {
			return 0, false
		}
		return policy.SafeTTL, true
	}
	if policy.CacheOnlySafe || policy.UnsafeTTL <= 0 {
		return 0, false
	}
	return policy.UnsafeTTL, true
}
