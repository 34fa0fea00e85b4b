package core_test

import (
	"PerpEngine/internal/core"
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	"PerpEngine/internal/state"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// requireCustodyAccounting recomputes every custody's books from the live
// positions and the ledger.
func requireCustodyAccounting(t *testing.T, h *harness, step int) {
	t.Helper()
	h.engine.View(func(s *core.State, b *ledger.BalanceTracker) {
		locked := make(map[string]uint64)
		collateral := make(map[string]uint64)
		for _, p := range s.Positions.All() {
			locked[p.CollateralCustody] += p.LockedAmount
			collateral[p.CollateralCustody] += p.CollateralAmount
		}
		for id, c := range s.Custodies {
			require.Equal(t, locked[id], c.Assets.Locked, "step %d: %s locked vs live positions", step, id)
			require.Equal(t, collateral[id], c.Assets.Collateral, "step %d: %s collateral vs live positions", step, id)
			require.LessOrEqual(t, c.Assets.Locked, c.Assets.Owned, "step %d: %s locked beyond owned", step, id)
			vault := b.Amount(ledger.CustodyVault(c.ID, c.Mint))
			require.Equal(t, c.Assets.Owned+c.Assets.Collateral+c.Assets.ProtocolFees, vault, "step %d: %s vault", step, id)
		}
	})
}

func TestProperty_LockConservationAcrossTrading(t *testing.T) {
	h := newHarness(t, core.DefaultConfig())
	h.exec(&event.InitStakingPool{Header: hdr(), Type: state.StakingTypeLM, StakedTokenMint: lmMint, RewardTokenMint: usdcMint})

	traders := []uuid.UUID{h.trader, uuid.New(), uuid.New(), uuid.New()}
	for _, tr := range traders[1:] {
		for _, mint := range []string{solMint, usdcMint} {
			h.exec(&event.DepositTokens{Header: hdr(), Owner: tr, Mint: mint, Amount: 2 * oneSOL})
		}
	}

	rng := rand.New(rand.NewSource(7))
	execute := func(ins event.Instruction) bool {
		_, err := h.engine.Execute(context.Background(), ins)
		return err == nil
	}
	// leveraged returns a size and collateral at 2x to 40x.
	leveraged := func(maxCollateral uint64) (size, collateral uint64) {
		collateral = 10_000 + uint64(rng.Int63n(int64(maxCollateral)))
		return collateral * uint64(2+rng.Intn(39)), collateral
	}

	var opened, closed, liquidated int
	for step := 0; step < 400; step++ {
		tr := traders[rng.Intn(len(traders))]
		side := state.SideLong
		if rng.Intn(2) == 0 {
			side = state.SideShort
		}

		switch rng.Intn(5) {
		case 0, 1:
			size, coll := leveraged(50_000)
			ins := &event.OpenPosition{
				Header: hdr(), Owner: tr, PoolID: "main", CustodyID: "sol",
				Side: side, Collateral: coll, Size: size,
			}
			if side == state.SideLong {
				ins.CollateralCustody, ins.Price = "sol", 1<<40
			} else {
				ins.CollateralCustody, ins.Price = "usdc", 1
			}
			if execute(ins) {
				opened++
			}
		case 2:
			limit := uint64(1)
			if side == state.SideShort {
				limit = 1 << 40
			}
			if execute(&event.ClosePosition{
				Header: hdr(), Owner: tr, PoolID: "main", CustodyID: "sol", Side: side, Price: limit,
			}) {
				closed++
			}
		case 3:
			if execute(&event.LiquidatePosition{
				Header: hdr(), Liquidator: uuid.New(), Owner: tr, PoolID: "main", CustodyID: "sol", Side: side,
			}) {
				liquidated++
			}
		case 4:
			price := h.prices["sol"] * uint64(80+rng.Intn(46)) / 100
			h.setPrice("sol", min(max(price, 200_000), 5*oneUSD))
		}

		requireCustodyAccounting(t, h, step)
		h.advance(time.Minute)
	}

	require.Positive(t, opened, "no position opened")
	require.Positive(t, closed+liquidated, "no position settled")
}

// ============================================================================
// Test: Leverage bound at open
// ============================================================================

type leverageCase struct {
	name       string
	price      uint64
	size       uint64
	collateral uint64
}

// expectedLeverage mirrors the open-time bound: a 1x floor and a 50x cap on
// size over collateral, both valued at the flat test price.
func expectedLeverage(c leverageCase) (sizeUSD, collateralUSD uint64, ok bool) {
	sizeUSD = c.size * c.price / oneUSD
	collateralUSD = c.collateral * c.price / oneUSD
	if collateralUSD == 0 {
		return sizeUSD, collateralUSD, false
	}
	lev := sizeUSD * 10_000 / collateralUSD
	return sizeUSD, collateralUSD, lev >= 10_000 && lev <= 500_000
}

func requireLeverageBound(t *testing.T, c leverageCase) {
	t.Helper()
	h := newHarness(t, core.DefaultConfig())
	h.exec(&event.DepositTokens{Header: hdr(), Owner: h.trader, Mint: solMint, Amount: tenSOL})
	h.setPrice("sol", c.price)

	out, err := h.engine.Execute(context.Background(), &event.OpenPosition{
		Header: hdr(), Owner: h.trader, PoolID: "main", CustodyID: "sol", CollateralCustody: "sol",
		Side: state.SideLong, Price: 1 << 40, Collateral: c.collateral, Size: c.size,
	})
	sizeUSD, collateralUSD, ok := expectedLeverage(c)
	if !ok {
		require.ErrorIs(t, err, state.ErrMaxLeverage, "size $%d on $%d", sizeUSD, collateralUSD)
		return
	}
	require.NoError(t, err, "size $%d on $%d", sizeUSD, collateralUSD)
	require.Equal(t, sizeUSD, out.Position.SizeUSD)
	require.Equal(t, collateralUSD, out.Position.CollateralUSD)
	require.LessOrEqual(t, out.Position.SizeUSD*10_000, uint64(500_000)*out.Position.CollateralUSD)
	require.GreaterOrEqual(t, out.Position.SizeUSD, out.Position.CollateralUSD)
}

func TestProperty_LeverageBoundTable(t *testing.T) {
	tests := []leverageCase{
		{"exactly 1x", oneUSD, oneSOL, oneSOL},
		{"just under 1x", oneUSD, oneSOL - 1, oneSOL},
		{"exactly 50x", oneUSD, 5 * oneSOL, 100_000},
		{"just over 50x", oneUSD, 5*oneSOL + 1_000, 100_000},
		{"50x at a fractional price", 1_234_567, 5 * oneSOL, 100_000},
		{"collateral worth nothing", 500_000, oneSOL, 1},
		{"cheap asset 10x", 10_000, 10 * oneSOL, oneSOL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireLeverageBound(t, tt)
		})
	}
}

func TestProperty_LeverageBoundRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 60; i++ {
		c := leverageCase{price: 10_000 + uint64(rng.Int63n(100*int64(oneUSD)))}
		c.collateral = 1 + uint64(rng.Int63n(int64(oneSOL)))
		// target 0.5x to 60x around the collateral, capped by the pool's liquidity
		c.size = c.collateral * uint64(5_000+rng.Intn(595_001)) / 10_000
		c.size = min(max(c.size, 1), tenSOL)
		t.Run("", func(t *testing.T) {
			requireLeverageBound(t, c)
		})
	}
}
