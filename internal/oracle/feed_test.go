package oracle_test

import (
	"PerpEngine/internal/event"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/state"
	"context"
	"errors"
	"testing"
	"time"
)

func tick(seq int64, spot, ema uint64, publish int64) *event.PriceTick {
	return &event.PriceTick{
		Oracle:      "sol-usd",
		Spot:        spot,
		EMA:         ema,
		Exponent:    -fpmath.PriceDecimals,
		PublishTime: publish,
		Sequence:    seq,
	}
}

// ============================================================================
// Test: Latest tick wins, stale sequences are dropped
// ============================================================================

func TestFeed_StaleSequenceIgnored(t *testing.T) {
	f := oracle.NewFeed(30 * time.Second)

	if ok, err := f.Apply(tick(5, 20_000_000, 21_000_000, 100)); err != nil || !ok {
		t.Fatalf("first tick: applied=%t err=%v", ok, err)
	}
	if ok, _ := f.Apply(tick(4, 1, 1, 101)); ok {
		t.Fatal("older sequence must not apply")
	}

	spot, ema, err := f.GetPrices(context.Background(), "sol-usd", 110)
	if err != nil {
		t.Fatal(err)
	}
	if spot.Price != 20_000_000 || ema.Price != 21_000_000 {
		t.Errorf("got spot=%d ema=%d, want 20000000/21000000", spot.Price, ema.Price)
	}
}

func TestFeed_GapsTolerated(t *testing.T) {
	f := oracle.NewFeed(0)
	f.Apply(tick(1, 10, 10, 0))
	if ok, _ := f.Apply(tick(7, 12, 12, 0)); !ok {
		t.Fatal("gap should still apply")
	}
	if got := f.Gaps("sol-usd"); got != 1 {
		t.Errorf("gaps: got %d, want 1", got)
	}
}

// ============================================================================
// Test: Staleness and validity
// ============================================================================

func TestFeed_StaleObservation(t *testing.T) {
	f := oracle.NewFeed(30 * time.Second)
	f.Apply(tick(1, 20_000_000, 20_000_000, 1_000))

	if _, _, err := f.GetPrices(context.Background(), "sol-usd", 1_030); err != nil {
		t.Fatalf("age 30s should be accepted: %v", err)
	}
	_, _, err := f.GetPrices(context.Background(), "sol-usd", 1_031)
	if !errors.Is(err, state.ErrStaleOraclePrice) {
		t.Errorf("got %v, want ErrStaleOraclePrice", err)
	}
}

func TestFeed_UnknownHandle(t *testing.T) {
	f := oracle.NewFeed(0)
	_, _, err := f.GetPrices(context.Background(), "btc-usd", 0)
	if !errors.Is(err, state.ErrStaleOraclePrice) {
		t.Errorf("got %v, want ErrStaleOraclePrice", err)
	}
}

func TestFeed_ZeroSpotInvalid(t *testing.T) {
	f := oracle.NewFeed(0)
	f.Set("sol-usd", fpmath.NewPrice(0), fpmath.NewPrice(1), 0)
	_, _, err := f.GetPrices(context.Background(), "sol-usd", 0)
	if !errors.Is(err, state.ErrInvalidOraclePrice) {
		t.Errorf("got %v, want ErrInvalidOraclePrice", err)
	}
}

func TestFeed_MissingEMAFallsBackToSpot(t *testing.T) {
	f := oracle.NewFeed(0)
	f.Set("sol-usd", fpmath.NewPrice(5_000_000), fpmath.OraclePrice{}, 0)
	_, ema, err := f.GetPrices(context.Background(), "sol-usd", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ema.Price != 5_000_000 {
		t.Errorf("ema: got %d, want 5000000", ema.Price)
	}
}
