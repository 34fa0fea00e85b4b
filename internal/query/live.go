package query

import (
	"PerpEngine/internal/collab"
	"PerpEngine/internal/core"
	"PerpEngine/internal/ledger"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Reader serves the live read models.
type Reader interface {
	Custody(ctx context.Context, id string) (*CustodyView, error)
	Pool(ctx context.Context, id string) (*PoolView, error)
	Positions(ctx context.Context, owner uuid.UUID) ([]PositionView, error)
	Staking(ctx context.Context, owner uuid.UUID, typ state.StakingType) (*StakingView, error)
	StakingPool(ctx context.Context, typ state.StakingType) (*StakingPoolView, error)
}

// StateViewer is the engine's read access.
type StateViewer interface {
	ViewAt(fn func(asOf int64, s *core.State, balances *ledger.BalanceTracker))
}

// Staked, reward and LM tokens are rendered at the LP token's precision.
const stakeDecimals = fpmath.LPDecimals

// LiveReader answers from the engine's committed in-memory state.
// Positions are marked to market with the oracle's current prices.
type LiveReader struct {
	engine StateViewer
	oracle collab.Oracle
	clock  collab.Clock
}

func NewLiveReader(engine StateViewer, oracle collab.Oracle, clock collab.Clock) *LiveReader {
	if clock == nil {
		clock = collab.SystemClock{}
	}
	return &LiveReader{engine: engine, oracle: oracle, clock: clock}
}

func (r *LiveReader) Custody(_ context.Context, id string) (*CustodyView, error) {
	var view *CustodyView
	r.engine.ViewAt(func(asOf int64, s *core.State, _ *ledger.BalanceTracker) {
		c, ok := s.Custodies[id]
		if !ok {
			return
		}
		view = custodyView(c)
		view.AsOfSequence = asOf
	})
	if view == nil {
		return nil, fmt.Errorf("custody %s: %w", id, ErrNotFound)
	}
	return view, nil
}

func custodyView(c *state.Custody) *CustodyView {
	return &CustodyView{
		ID:           c.ID,
		Pool:         c.Pool,
		Mint:         c.Mint,
		Decimals:     c.Decimals,
		IsStable:     c.IsStable,
		Owned:        fixed(c.Assets.Owned, c.Decimals),
		Locked:       fixed(c.Assets.Locked, c.Decimals),
		Available:    fixed(c.Available(), c.Decimals),
		Collateral:   fixed(c.Assets.Collateral, c.Decimals),
		ProtocolFees: fixed(c.Assets.ProtocolFees, c.Decimals),
		OILongUSD:    usd(c.TradeStats.OILongUSD),
		OIShortUSD:   usd(c.TradeStats.OIShortUSD),
		BorrowRate:   fixed(c.BorrowRate.CurrentRate, fpmath.RateDecimals),
		Longs:        c.LongPositions.OpenPositions,
		Shorts:       c.ShortPositions.OpenPositions,
	}
}

// Pool values every custody's owned liquidity at its minimum price. A
// custody without a fresh price is skipped and the view marked stale.
func (r *LiveReader) Pool(ctx context.Context, id string) (*PoolView, error) {
	var (
		view *PoolView
		err  error
	)
	now := r.clock.Now()
	r.engine.ViewAt(func(asOf int64, s *core.State, balances *ledger.BalanceTracker) {
		pool, ok := s.Pools[id]
		if !ok {
			return
		}
		var aum uint64
		stale := false
		for _, cid := range pool.Custodies {
			c := s.Custodies[cid]
			if c == nil {
				continue
			}
			prices, perr := r.prices(ctx, c, now)
			if perr != nil {
				stale = true
				continue
			}
			v, verr := prices.Min().AssetAmountToUSD(c.Assets.Owned, c.Decimals)
			if verr != nil {
				err = fmt.Errorf("value custody %s: %w", cid, verr)
				return
			}
			if aum, verr = fpmath.CheckedAdd(aum, v); verr != nil {
				err = fmt.Errorf("pool %s aum: %w", id, verr)
				return
			}
		}
		view = &PoolView{
			ID:           pool.ID,
			Name:         pool.Name,
			LPTokenMint:  pool.LPTokenMint,
			Custodies:    append([]string(nil), pool.Custodies...),
			AUMUSD:       usd(aum),
			LPSupply:     fixed(balances.Supply(pool.LPTokenMint), fpmath.LPDecimals),
			PricesStale:  stale,
			AsOfSequence: asOf,
		}
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return view, nil
}

// Positions returns the owner's live positions, marked to market.
func (r *LiveReader) Positions(ctx context.Context, owner uuid.UUID) ([]PositionView, error) {
	now := r.clock.Now()
	views := make([]PositionView, 0)
	r.engine.ViewAt(func(asOf int64, s *core.State, _ *ledger.BalanceTracker) {
		for _, p := range s.Positions.ByOwner(owner) {
			var decimals uint8
			if c := s.Custodies[p.CollateralCustody]; c != nil {
				decimals = c.Decimals
			}
			v := positionView(p, decimals)
			v.AsOfSequence = asOf
			r.markToMarket(ctx, &v, p, s, now)
			views = append(views, v)
		}
	})
	return views, nil
}

// positionView renders p; token amounts use the collateral custody's
// decimals.
func positionView(p *state.Position, decimals uint8) PositionView {
	return PositionView{
		ID:                p.ID,
		Owner:             p.Owner,
		Pool:              p.Pool,
		Custody:           p.Custody,
		CollateralCustody: p.CollateralCustody,
		Side:              p.Side.String(),
		Status:            p.Status.String(),
		EntryPrice:        price(p.Price),
		SizeUSD:           usd(p.SizeUSD),
		CollateralUSD:     usd(p.CollateralUSD),
		CollateralAmount:  fixed(p.CollateralAmount, decimals),
		LockedAmount:      fixed(p.LockedAmount, decimals),
		OpenTime:          p.OpenTime,
	}
}

// markToMarket fills PnL and leverage. Any pricing failure leaves them
// unset rather than failing the whole response.
func (r *LiveReader) markToMarket(ctx context.Context, v *PositionView, p *state.Position, s *core.State, now int64) {
	pool := s.Pools[p.Pool]
	custody := s.Custodies[p.Custody]
	collateral := s.Custodies[p.CollateralCustody]
	if pool == nil || custody == nil || collateral == nil {
		return
	}

	prices, err := r.prices(ctx, custody, now)
	if err != nil {
		return
	}
	collateralPrices, err := r.prices(ctx, collateral, now)
	if err != nil {
		return
	}
	profit, loss, err := pool.GetPnLUSD(p, prices, custody, collateralPrices, collateral, now)
	if err != nil {
		return
	}
	v.ProfitUSD, v.LossUSD = ptr(usd(profit)), ptr(usd(loss))

	leverage, err := pool.GetLeverage(p, prices, custody, collateralPrices, collateral, now)
	if err != nil || leverage == math.MaxUint64 {
		return
	}
	v.Leverage = ptr(fixed(leverage, fpmath.BPSDecimals))
}

// prices reads a custody's oracle the way the engine does: EMA collapses
// to spot when the custody disables EMA valuation.
func (r *LiveReader) prices(ctx context.Context, c *state.Custody, now int64) (state.Prices, error) {
	if r.oracle == nil {
		return state.Prices{}, fmt.Errorf("%w: no oracle", state.ErrStaleOraclePrice)
	}
	spot, ema, err := r.oracle.GetPrices(ctx, c.Oracle, now)
	if err != nil {
		return state.Prices{}, err
	}
	if spot.IsZero() || ema.IsZero() {
		return state.Prices{}, fmt.Errorf("%w: custody %s", state.ErrInvalidOraclePrice, c.ID)
	}
	if !c.Pricing.UseEMA {
		ema = spot
	}
	return state.Prices{Spot: spot, EMA: ema}, nil
}

func (r *LiveReader) Staking(_ context.Context, owner uuid.UUID, typ state.StakingType) (*StakingView, error) {
	var view *StakingView
	r.engine.ViewAt(func(asOf int64, s *core.State, _ *ledger.BalanceTracker) {
		st := s.Staking(owner, typ)
		if st == nil {
			return
		}
		view = &StakingView{
			Owner:        st.Owner,
			Type:         st.Type.String(),
			Liquid:       fixed(st.LiquidStake.Amount, stakeDecimals),
			LiquidSince:  st.LiquidStake.StakeTime,
			ClaimTime:    st.LiquidStake.ClaimTime,
			Locked:       make([]LockedStakeView, 0, len(st.LockedStakes)),
			AsOfSequence: asOf,
		}
		for i := range st.LockedStakes {
			ls := &st.LockedStakes[i]
			view.Locked = append(view.Locked, LockedStakeView{
				Index:     i,
				Amount:    fixed(ls.Amount, stakeDecimals),
				StakeTime: ls.StakeTime,
				EndTime:   ls.EndTime(),
				Resolved:  ls.Resolved,
			})
		}
	})
	if view == nil {
		return nil, fmt.Errorf("staking %s/%s: %w", owner, typ, ErrNotFound)
	}
	return view, nil
}

func (r *LiveReader) StakingPool(_ context.Context, typ state.StakingType) (*StakingPoolView, error) {
	var view *StakingPoolView
	r.engine.ViewAt(func(asOf int64, s *core.State, _ *ledger.BalanceTracker) {
		p, ok := s.StakingPools[typ]
		if !ok {
			return
		}
		view = &StakingPoolView{
			Type:              p.Type.String(),
			StakedTokenMint:   p.StakedTokenMint,
			RewardTokenMint:   p.RewardTokenMint,
			CurrentRoundStart: p.CurrentRound.StartTime,
			CurrentStake:      fixed(p.CurrentRound.TotalStake, stakeDecimals),
			NextStake:         fixed(p.NextRound.TotalStake, stakeDecimals),
			PendingRewards:    fixed(p.PendingRewards, stakeDecimals),
			PendingLMRewards:  fixed(p.PendingLMRewards, stakeDecimals),
			ResolvedRounds:    len(p.ResolvedRounds),
			AsOfSequence:      asOf,
		}
	})
	if view == nil {
		return nil, fmt.Errorf("staking pool %s: %w", typ, ErrNotFound)
	}
	return view, nil
}
