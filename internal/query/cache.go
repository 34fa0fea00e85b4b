package query

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/state"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedReader wraps a Reader with a Redis read-through cache. Entries are
// invalidated when a committed outcome touches them and otherwise expire
// after ttl. Redis failures fall through to the primary.
type CachedReader struct {
	primary Reader
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCachedReader(primary Reader, rdb redis.UniversalClient, ttl time.Duration, metrics *observability.Metrics) *CachedReader {
	return &CachedReader{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		metrics: metrics,
	}
}

func (c *CachedReader) Custody(ctx context.Context, id string) (*CustodyView, error) {
	var v CustodyView
	if c.get(ctx, custodyKey(id), &v) {
		return &v, nil
	}
	out, err := c.primary.Custody(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, custodyKey(id), out)
	return out, nil
}

// Pool is not cached: its value moves with every price tick.
func (c *CachedReader) Pool(ctx context.Context, id string) (*PoolView, error) {
	return c.primary.Pool(ctx, id)
}

// Positions is not cached: PnL moves with every price tick.
func (c *CachedReader) Positions(ctx context.Context, owner uuid.UUID) ([]PositionView, error) {
	return c.primary.Positions(ctx, owner)
}

func (c *CachedReader) Staking(ctx context.Context, owner uuid.UUID, typ state.StakingType) (*StakingView, error) {
	var v StakingView
	key := stakingKey(owner, typ)
	if c.get(ctx, key, &v) {
		return &v, nil
	}
	out, err := c.primary.Staking(ctx, owner, typ)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, out)
	return out, nil
}

func (c *CachedReader) StakingPool(ctx context.Context, typ state.StakingType) (*StakingPoolView, error) {
	var v StakingPoolView
	if c.get(ctx, stakingPoolKey(typ), &v) {
		return &v, nil
	}
	out, err := c.primary.StakingPool(ctx, typ)
	if err != nil {
		return nil, err
	}
	c.set(ctx, stakingPoolKey(typ), out)
	return out, nil
}

// Invalidate drops every cached view the outcome changed.
func (c *CachedReader) Invalidate(ctx context.Context, o *event.Outcome) error {
	keys := InvalidationKeys(o)
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// InvalidationKeys lists the cache keys an outcome makes stale.
func InvalidationKeys(o *event.Outcome) []string {
	if o == nil {
		return nil
	}
	var keys []string
	for _, cu := range o.Custodies {
		keys = append(keys, custodyKey(cu.ID))
	}
	if o.Staking != nil {
		keys = append(keys, stakingKey(o.Staking.Owner, o.Staking.Type))
	}
	if o.StakingPool != nil {
		keys = append(keys, stakingPoolKey(o.StakingPool.Type))
	}
	return keys
}

func (c *CachedReader) get(ctx context.Context, key string, dst interface{}) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		c.count("hit")
		return true
	}
	if err != nil && err != redis.Nil {
		c.count("error")
		return false
	}
	c.count("miss")
	return false
}

func (c *CachedReader) set(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		c.rdb.Set(ctx, key, data, c.ttl)
	}
}

func (c *CachedReader) count(result string) {
	if c.metrics != nil {
		c.metrics.QueryCacheResult.WithLabelValues(result).Inc()
	}
}

func custodyKey(id string) string { return fmt.Sprintf("perp:custody:%s", id) }
func stakingKey(owner uuid.UUID, typ state.StakingType) string {
	return fmt.Sprintf("perp:staking:%s:%s", owner, typ)
}
func stakingPoolKey(typ state.StakingType) string { return fmt.Sprintf("perp:staking_pool:%s", typ) }
