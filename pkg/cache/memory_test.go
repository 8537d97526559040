package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/guardgate/guardgate/pkg/config"
	"github.com/guardgate/guardgate/pkg/domain"
)

func testResult(safe bool, score float64) domain.PipelineResult {
	return domain.PipelineResult{
		IsSafe:           safe,
		RiskScore:        score,
		SanitizedContent: "content",
		FlaggedScanners:  []string{"toxicity"},
		ScannerResults: map[string]domain.ScannerVerdict{
			"toxicity": {ScannerID: "toxicity", IsValid: safe, RiskScore: score},
		},
		Recommendations: []string{"rephrase"},
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	stored := testResult(true, 0.1)
	stored.ProcessingTimeMS = 12.5
	require.NoError(t, store.Put(ctx, "fp1", stored, time.Hour))

	got, ok, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored, got)
}

func TestMemoryStore_MissForUnknownFingerprint(t *testing.T) {
	store := NewMemoryStore(10)
	_, ok, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "fp1", testResult(true, 0), time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = store.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_ZeroTTLNeverPersisted(t *testing.T) {
	store := NewMemoryStore(10)
	require.NoError(t, store.Put(context.Background(), "fp1", testResult(false, 0.9), 0))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_InsertionOrderEviction(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("fp%d", i), testResult(true, 0), time.Hour))
	}

	// Touch the oldest entry; eviction must still drop it (insertion
	// order, not access order).
	_, ok, _ := store.Get(ctx, "fp1")
	require.True(t, ok)

	require.NoError(t, store.Put(ctx, "fp4", testResult(true, 0), time.Hour))

	_, ok, _ = store.Get(ctx, "fp1")
	assert.False(t, ok, "oldest entry should have been evicted")
	for i := 2; i <= 4; i++ {
		_, ok, _ := store.Get(ctx, fmt.Sprintf("fp%d", i))
		assert.True(t, ok, "fp%d should survive", i)
	}
}

func TestMemoryStore_LastWriterWins(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp1", testResult(true, 0.1), time.Hour))
	require.NoError(t, store.Put(ctx, "fp1", testResult(true, 0.2), time.Hour))

	got, ok, err := store.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.2, got.RiskScore)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Purge(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp1", testResult(true, 0), time.Hour))
	require.NoError(t, store.Purge(ctx))
	assert.Equal(t, 0, store.Len())

	_, ok, _ := store.Get(ctx, "fp1")
	assert.False(t, ok)
}

func TestMemoryStore_ReturnsIsolatedCopies(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp1", testResult(true, 0), time.Hour))

	first, _, _ := store.Get(ctx, "fp1")
	first.FlaggedScanners[0] = "mutated"
	first.ScannerResults["toxicity"] = domain.ScannerVerdict{ScannerID: "mutated"}

	second, _, _ := store.Get(ctx, "fp1")
	assert.Equal(t, "toxicity", second.FlaggedScanners[0])
	assert.Equal(t, "toxicity", second.ScannerResults["toxicity"].ScannerID)
}

func TestMemoryStore_CapacityNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(t, "capacity")
		numPuts := rapid.IntRange(capacity, capacity*4).Draw(t, "num_puts")

		store := NewMemoryStore(capacity)
		ctx := context.Background()
		for i := 0; i < numPuts; i++ {
			key := rapid.StringMatching(`fp[0-9]{1,3}`).Draw(t, "key")
			if err := store.Put(ctx, key, testResult(true, 0), time.Hour); err != nil {
				t.Fatalf("put failed: %v", err)
			}
			if store.Len() > capacity {
				t.Fatalf("store grew to %d entries, capacity %d", store.Len(), capacity)
			}
		}
	})
}

func TestTTLFor_Policy(t *testing.T) {
	base := config.CachePolicy{
		Enabled:       true,
		SafeTTL:       time.Hour,
		UnsafeTTL:     10 * time.Minute,
		CacheOnlySafe: false,
	}

	tests := []struct {
		name        string
		policy      func(config.CachePolicy) config.CachePolicy
		isSafe      bool
		wantTTL     time.Duration
		wantPersist bool
	}{
		{
			name:        "safe result uses safe TTL",
			policy:      func(p config.CachePolicy) config.CachePolicy { return p },
			isSafe:      true,
			wantTTL:     time.Hour,
			wantPersist: true,
		},
		{
			name:        "unsafe result uses unsafe TTL",
			policy:      func(p config.CachePolicy) config.CachePolicy { return p },
			isSafe:      false,
			wantTTL:     10 * time.Minute,
			wantPersist: true,
		},
		{
			name: "cache_only_safe blocks unsafe results",
			policy: func(p config.CachePolicy) config.CachePolicy {
				p.CacheOnlySafe = true
				return p
			},
			isSafe:      false,
			wantPersist: false,
		},
		{
			name: "zero unsafe TTL means non-persistent even when allowed",
			policy: func(p config.CachePolicy) config.CachePolicy {
				p.UnsafeTTL = 0
				return p
			},
			isSafe:      false,
			wantPersist: false,
		},
		{
			name: "zero safe TTL means non-persistent",
			policy: func(p config.CachePolicy) config.CachePolicy {
				p.SafeTTL = 0
				return p
			},
			isSafe:      true,
			wantPersist: false,
		},
		{
			name: "disabled cache persists nothing",
			policy: func(p config.CachePolicy) config.CachePolicy {
				p.Enabled = false
				return p
			},
			isSafe:      true,
			wantPersist: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, persist := TTLFor(tt.policy(base), tt.isSafe)
			assert.Equal(t, tt.wantPersist, persist)
			if tt.wantPersist {
				assert.Equal(t, tt.wantTTL, ttl)
			}
		})
	}
}
