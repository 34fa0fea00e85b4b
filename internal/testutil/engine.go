package testutil

import (
	"PerpEngine/internal/collab"
	"PerpEngine/internal/core"
	"PerpEngine/internal/event"
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/state"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// StartTime is the mock clock's initial reading.
	StartTime int64 = 1_700_000_000
	// OneUSD is one dollar at PriceDecimals.
	OneUSD uint64 = 1_000_000
	// OneToken is one whole token of a 6-decimal mint.
	OneToken uint64 = 1_000_000
)

// Seeded is an engine bootstrapped with a SOL/USDC pool, an LP holding ten
// tokens of liquidity per custody and a trader holding one of each.
type Seeded struct {
	T       *testing.T
	Engine  *core.Engine
	Clock   *collab.MockClock
	Feed    *oracle.Feed
	Persist chan core.CoreOutput
	LP      uuid.UUID
	Trader  uuid.UUID
}

// NewSeededEngine returns a bootstrapped engine with a persist channel large
// enough for a test's worth of outputs.
func NewSeededEngine(t *testing.T) *Seeded {
	t.Helper()
	s := &Seeded{
		T:       t,
		Clock:   collab.NewMockClock(StartTime),
		Feed:    oracle.NewFeed(time.Hour),
		Persist: make(chan core.CoreOutput, 1024),
		LP:      uuid.New(),
		Trader:  uuid.New(),
	}
	s.Engine = core.NewEngine(core.DefaultConfig(), core.Collaborators{
		Clock:  s.Clock,
		Oracle: s.Feed,
	}, s.Persist, nil, nil, nil, zerolog.Nop())

	s.SetPrice("sol", OneUSD)
	s.SetPrice("usdc", OneUSD)

	s.Exec(&event.InitPerpetuals{
		Header:      Header(),
		Permissions: state.AllowAll(),
		Cortex: state.Cortex{
			LMTokenMint: "lm",
			FeeDistribution: state.FeeDistributionParams{
				LMStakersShare:       2_000,
				LockedLPStakersShare: 3_000,
			},
			LMEmissionRate:            1_000_000_000,
			RoundLMEmission:           1_000,
			EcosystemBucketAllocation: 1_000_000_000_000,
		},
	})
	s.Exec(&event.AddPool{Header: Header(), PoolID: "main", Name: "main", LPTokenMint: "lp"})
	s.Exec(&event.AddCustody{Header: Header(), Params: CustodyParams("sol", "sol", false)})
	s.Exec(&event.AddCustody{Header: Header(), Params: CustodyParams("usdc", "usdc", true)})
	for _, mint := range []string{"sol", "usdc"} {
		s.Exec(&event.DepositTokens{Header: Header(), Owner: s.LP, Mint: mint, Amount: 10 * OneToken})
		s.Exec(&event.DepositTokens{Header: Header(), Owner: s.Trader, Mint: mint, Amount: OneToken})
	}
	s.Exec(&event.DepositLiquidity{Header: Header(), Owner: s.LP, CustodyID: "sol", Amount: 10 * OneToken})
	s.Exec(&event.DepositLiquidity{Header: Header(), Owner: s.LP, CustodyID: "usdc", Amount: 10 * OneToken})
	return s
}

// Header returns a header with a fresh instruction ID.
func Header() event.Header {
	return event.Header{ID: uuid.New()}
}

// CustodyParams returns permissive 6-decimal custody params in pool "main"
// whose oracle handle equals the custody ID.
func CustodyParams(id, mint string, stable bool) state.CustodyParams {
	return state.CustodyParams{
		ID:          id,
		Pool:        "main",
		Mint:        mint,
		Decimals:    6,
		Oracle:      id,
		IsStable:    stable,
		Permissions: state.AllowAll(),
		Pricing: state.PricingParams{
			UseEMA:             true,
			MinInitialLeverage: 10_000,
			MaxInitialLeverage: 500_000,
			MaxLeverage:        500_000,
		},
		Fees: state.FeeParams{
			OpenPosition:  10,
			ClosePosition: 10,
			Liquidation:   50,
			ProtocolShare: 1_000,
		},
	}
}

// SetPrice publishes a flat spot/EMA observation at the current clock.
func (s *Seeded) SetPrice(handle string, price uint64) {
	p := fpmath.NewPrice(price)
	s.Feed.Set(handle, p, p, s.Clock.Now())
}

// Exec runs ins and fails the test on error.
func (s *Seeded) Exec(ins event.Instruction) *event.Outcome {
	s.T.Helper()
	out, err := s.Engine.Execute(context.Background(), ins)
	if err != nil {
		s.T.Fatalf("%T: %v", ins, err)
	}
	return out
}

// OpenLong opens a 10x SOL long for the trader and returns its outcome.
func (s *Seeded) OpenLong() *event.Outcome {
	return s.Exec(&event.OpenPosition{
		Header:            Header(),
		Owner:             s.Trader,
		PoolID:            "main",
		CustodyID:         "sol",
		CollateralCustody: "sol",
		Side:              state.SideLong,
		Price:             1_010_000,
		Collateral:        OneToken / 10,
		Size:              OneToken,
	})
}

// Drain returns every output buffered on the persist channel.
func (s *Seeded) Drain() []core.CoreOutput {
	var outs []core.CoreOutput
	for {
		select {
		case o := <-s.Persist:
			outs = append(outs, o)
		default:
			return outs
		}
	}
}
