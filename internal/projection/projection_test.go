package projection_test

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/projection"
	"PerpEngine/internal/state"
	"PerpEngine/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: Balance netting
// ============================================================================

func TestNetBalances_FoldsAndSorts(t *testing.T) {
	deltas := projection.NetBalances([]projection.JournalEntry{
		{DebitAccount: "vault:sol:owned:sol", CreditAccount: "user:a:wallet:sol", Mint: "sol", Amount: 100},
		{DebitAccount: "user:a:wallet:sol", CreditAccount: "vault:sol:owned:sol", Mint: "sol", Amount: 30},
		{DebitAccount: "user:a:wallet:lp", CreditAccount: "issuance:lp", Mint: "lp", Amount: 5},
	})

	want := []projection.BalanceDelta{
		{AccountPath: "issuance:lp", Mint: "lp", Delta: -5},
		{AccountPath: "user:a:wallet:lp", Mint: "lp", Delta: 5},
		{AccountPath: "user:a:wallet:sol", Mint: "sol", Delta: -70},
		{AccountPath: "vault:sol:owned:sol", Mint: "sol", Delta: 70},
	}
	if len(deltas) != len(want) {
		t.Fatalf("got %d deltas, want %d: %+v", len(deltas), len(want), deltas)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("delta %d: got %+v, want %+v", i, deltas[i], want[i])
		}
	}
}

func TestNetBalances_RoundTripNetsToNothing(t *testing.T) {
	deltas := projection.NetBalances([]projection.JournalEntry{
		{DebitAccount: "x", CreditAccount: "y", Mint: "sol", Amount: 10},
		{DebitAccount: "y", CreditAccount: "x", Mint: "sol", Amount: 10},
	})
	if len(deltas) != 0 {
		t.Errorf("got %+v, want no deltas", deltas)
	}
}

// ============================================================================
// Test: Fee history ring
// ============================================================================

func TestFeeHistory_EvictsOldest(t *testing.T) {
	h := projection.NewFeeHistory(3)
	for seq := int64(1); seq <= 5; seq++ {
		h.Add(projection.FeeHistoryEntry{Sequence: seq, CustodyID: "sol"})
	}

	got := h.Recent("", 10)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, seq := range []int64{5, 4, 3} {
		if got[i].Sequence != seq {
			t.Errorf("entry %d: got seq %d, want %d", i, got[i].Sequence, seq)
		}
	}
}

func TestFeeHistory_FiltersAndLimits(t *testing.T) {
	h := projection.NewFeeHistory(10)
	alice, bob := uuid.New(), uuid.New()
	h.Add(projection.FeeHistoryEntry{Sequence: 1, CustodyID: "sol", Owner: alice})
	h.Add(projection.FeeHistoryEntry{Sequence: 2, CustodyID: "usdc", Owner: bob})
	h.Add(projection.FeeHistoryEntry{Sequence: 3, CustodyID: "sol", Owner: alice})
	h.Add(projection.FeeHistoryEntry{Sequence: 4, CustodyID: "sol", Owner: bob})

	if got := h.Recent("sol", 2); len(got) != 2 || got[0].Sequence != 4 || got[1].Sequence != 3 {
		t.Errorf("Recent(sol, 2): got %+v", got)
	}
	if got := h.Recent("btc", 10); len(got) != 0 {
		t.Errorf("Recent(btc): got %d entries, want 0", len(got))
	}
	if got := h.ByOwner(alice, 10); len(got) != 2 || got[0].Sequence != 3 {
		t.Errorf("ByOwner(alice): got %+v", got)
	}
}

func TestFeeEntryFrom(t *testing.T) {
	if _, ok := projection.FeeEntryFrom(projection.Update{Sequence: 1}); ok {
		t.Error("update without outcome should carry no fee")
	}
	if _, ok := projection.FeeEntryFrom(projection.Update{Sequence: 1, Outcome: &event.Outcome{}}); ok {
		t.Error("outcome without fee should carry no fee")
	}

	owner := uuid.New()
	entry, ok := projection.FeeEntryFrom(projection.Update{
		Sequence:  9,
		EventType: "PositionOpened",
		Timestamp: 1_700_000_000,
		Outcome: &event.Outcome{
			Owner: owner,
			Fee: &event.FeeRecord{
				CustodyID:    "sol",
				Mint:         "sol",
				Amount:       100,
				AmountUSD:    100,
				Distribution: state.FeeDistribution{ProtocolFee: 10, OrganicLPFee: 90},
				LMRewards:    7,
			},
		},
	})
	if !ok {
		t.Fatal("expected a fee entry")
	}
	if entry.Sequence != 9 || entry.Owner != owner || entry.CustodyID != "sol" {
		t.Errorf("got %+v", entry)
	}
	if entry.Distribution.ProtocolFee != 10 || entry.LMRewards != 7 {
		t.Errorf("distribution: got %+v, lm %d", entry.Distribution, entry.LMRewards)
	}
}

// ============================================================================
// Test: Updates from a live engine
// ============================================================================

func TestUpdateFrom_BalancesSumToZero(t *testing.T) {
	s := testutil.NewSeededEngine(t)
	s.OpenLong()

	net := make(map[string]int64)
	for _, out := range s.Drain() {
		u := projection.UpdateFrom(out.Envelope, out.Batch, out.Outcome)
		if u.Sequence != out.Envelope.Sequence {
			t.Fatalf("sequence: got %d, want %d", u.Sequence, out.Envelope.Sequence)
		}
		for _, d := range projection.NetBalances(u.Journals) {
			net[d.Mint] += d.Delta
		}
	}
	for mint, total := range net {
		if total != 0 {
			t.Errorf("mint %s nets to %d, want 0", mint, total)
		}
	}
}

// ============================================================================
// Test: Postgres projection
// ============================================================================

func TestProjectionWorker_AppliesUpdates(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	s := testutil.NewSeededEngine(t)
	s.OpenLong()
	outs := s.Drain()

	in := make(chan projection.Update, len(outs)+1)
	for _, out := range outs {
		in <- projection.UpdateFrom(out.Envelope, out.Batch, out.Outcome)
	}
	// Replayed updates at or below the watermark are skipped.
	in <- projection.UpdateFrom(outs[0].Envelope, outs[0].Batch, outs[0].Outcome)
	close(in)

	fees := projection.NewFeeHistory(16)
	worker := projection.NewProjectionWorker(db, in, fees, nil, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	last := outs[len(outs)-1].Envelope.Sequence
	if seq, err := projection.LoadWatermark(ctx, db); err != nil || seq != last {
		t.Errorf("watermark: got %d (%v), want %d", seq, err, last)
	}

	var open int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projections.positions WHERE owner = $1 AND status = 'Open'`, s.Trader,
	).Scan(&open); err != nil {
		t.Fatalf("count positions: %v", err)
	}
	if open != 1 {
		t.Errorf("open positions: got %d, want 1", open)
	}

	var unbalanced int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT mint FROM projections.balances GROUP BY mint HAVING SUM(balance) <> 0
		) m
	`).Scan(&unbalanced); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	if unbalanced != 0 {
		t.Errorf("unbalanced mints: got %d, want 0", unbalanced)
	}

	if got := fees.Recent("sol", 10); len(got) != 1 {
		t.Errorf("fee ring: got %d entries, want 1", len(got))
	}
}
