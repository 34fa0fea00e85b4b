package query_test

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/query"
	"PerpEngine/internal/state"
	"PerpEngine/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// countingReader counts how often each read reaches the primary.
type countingReader struct {
	query.Reader
	custodyCalls int
}

func (c *countingReader) Custody(ctx context.Context, id string) (*query.CustodyView, error) {
	c.custodyCalls++
	return c.Reader.Custody(ctx, id)
}

func newCache(t *testing.T) (*query.CachedReader, *countingReader, *observability.Metrics, *testutil.Seeded) {
	s := testutil.NewSeededEngine(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := &countingReader{Reader: query.NewLiveReader(s.Engine, s.Feed, s.Clock)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return query.NewCachedReader(primary, rdb, time.Minute, metrics), primary, metrics, s
}

// ============================================================================
// Test: Read-through cache
// ============================================================================

func TestCachedReader_HitsAfterFirstRead(t *testing.T) {
	cache, primary, metrics, _ := newCache(t)
	ctx := context.Background()

	first, err := cache.Custody(ctx, "sol")
	require.NoError(t, err)
	second, err := cache.Custody(ctx, "sol")
	require.NoError(t, err)

	require.Equal(t, 1, primary.custodyCalls)
	require.True(t, first.Owned.Equal(second.Owned))
	require.Equal(t, first.AsOfSequence, second.AsOfSequence)
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryCacheResult.WithLabelValues("miss")))
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryCacheResult.WithLabelValues("hit")))
}

func TestCachedReader_NotFoundIsNotCached(t *testing.T) {
	cache, primary, _, _ := newCache(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cache.Custody(ctx, "btc")
		require.ErrorIs(t, err, query.ErrNotFound)
	}
	require.Equal(t, 2, primary.custodyCalls)
}

func TestCachedReader_InvalidateRefreshes(t *testing.T) {
	cache, primary, _, s := newCache(t)
	ctx := context.Background()

	before, err := cache.Custody(ctx, "sol")
	require.NoError(t, err)

	out := s.OpenLong()
	require.NoError(t, cache.Invalidate(ctx, out))

	after, err := cache.Custody(ctx, "sol")
	require.NoError(t, err)
	require.Equal(t, 2, primary.custodyCalls)
	require.Greater(t, after.AsOfSequence, before.AsOfSequence)
	require.True(t, after.Locked.GreaterThan(before.Locked))
}

// ============================================================================
// Test: Invalidation keys
// ============================================================================

func TestInvalidationKeys(t *testing.T) {
	owner := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	keys := query.InvalidationKeys(&event.Outcome{
		Custodies: []*state.Custody{
			{CustodyParams: state.CustodyParams{ID: "sol"}},
			{CustodyParams: state.CustodyParams{ID: "usdc"}},
		},
		Staking:     &state.Staking{Owner: owner, Type: state.StakingTypeLP},
		StakingPool: &state.StakingPool{Type: state.StakingTypeLP},
	})
	require.Equal(t, []string{
		"perp:custody:sol",
		"perp:custody:usdc",
		"perp:staking:00000000-0000-0000-0000-000000000001:lp",
		"perp:staking_pool:lp",
	}, keys)

	require.Empty(t, query.InvalidationKeys(nil))
	require.Empty(t, query.InvalidationKeys(&event.Outcome{}))
}
