// Package oracle keeps the latest price observation per feed and serves
// them to the core with staleness checks.
package oracle

import (
	"PerpEngine/internal/event"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxPriceAge is how old an observation may be before reads fail.
const DefaultMaxPriceAge = 30 * time.Second

type observation struct {
	spot        fpmath.OraclePrice
	ema         fpmath.OraclePrice
	publishTime int64
}

// Feed is a concurrent store of price observations keyed by oracle handle.
// It implements collab.Oracle.
type Feed struct {
	mu          sync.RWMutex
	prices      map[string]observation
	sequences   *SequenceTracker
	maxPriceAge int64
}

func NewFeed(maxPriceAge time.Duration) *Feed {
	if maxPriceAge <= 0 {
		maxPriceAge = DefaultMaxPriceAge
	}
	return &Feed{
		prices:      make(map[string]observation),
		sequences:   NewSequenceTracker(),
		maxPriceAge: int64(maxPriceAge / time.Second),
	}
}

// Apply stores a tick. Ticks at or below the last seen sequence for their
// feed are dropped and reported as not applied.
func (f *Feed) Apply(tick *event.PriceTick) (bool, error) {
	if tick.Oracle == "" {
		return false, fmt.Errorf("%w: price tick without oracle handle", state.ErrInvalidArgument)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.sequences.Advance(tick.Oracle, tick.Sequence) {
		return false, nil
	}
	f.prices[tick.Oracle] = observation{
		spot:        fpmath.OraclePrice{Price: tick.Spot, Exponent: tick.Exponent},
		ema:         fpmath.OraclePrice{Price: tick.EMA, Exponent: tick.Exponent},
		publishTime: tick.PublishTime,
	}
	return true, nil
}

// Set stores an observation directly, bypassing sequencing.
func (f *Feed) Set(handle string, spot, ema fpmath.OraclePrice, publishTime int64) {
	f.mu.Lock()
	f.prices[handle] = observation{spot: spot, ema: ema, publishTime: publishTime}
	f.mu.Unlock()
}

// GetPrices returns the latest spot and EMA for handle.
func (f *Feed) GetPrices(_ context.Context, handle string, now int64) (fpmath.OraclePrice, fpmath.OraclePrice, error) {
	f.mu.RLock()
	obs, ok := f.prices[handle]
	f.mu.RUnlock()

	if !ok {
		return fpmath.OraclePrice{}, fpmath.OraclePrice{}, fmt.Errorf("%w: no observation for %s", state.ErrStaleOraclePrice, handle)
	}
	if now-obs.publishTime > f.maxPriceAge {
		return fpmath.OraclePrice{}, fpmath.OraclePrice{}, fmt.Errorf("%w: %s published at %d, now %d",
			state.ErrStaleOraclePrice, handle, obs.publishTime, now)
	}
	if obs.spot.IsZero() {
		return fpmath.OraclePrice{}, fpmath.OraclePrice{}, fmt.Errorf("%w: %s has zero spot", state.ErrInvalidOraclePrice, handle)
	}
	ema := obs.ema
	if ema.IsZero() {
		ema = obs.spot
	}
	return obs.spot, ema, nil
}

// Gaps returns how many sequence gaps were seen on handle.
func (f *Feed) Gaps(handle string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sequences.Gaps(handle)
}
