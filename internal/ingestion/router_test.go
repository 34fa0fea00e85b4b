package ingestion_test

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/ingestion"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/state"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type recordingExecutor struct {
	executed []event.Instruction
	err      error
}

func (r *recordingExecutor) Execute(_ context.Context, ins event.Instruction) (*event.Outcome, error) {
	r.executed = append(r.executed, ins)
	return &event.Outcome{}, r.err
}

type settlement struct {
	acks, naks int
}

func (s *settlement) message(subject string, data []byte) ingestion.RawMessage {
	return ingestion.RawMessage{
		Subject:  subject,
		Data:     data,
		Received: time.Now(),
		Ack:      func() { s.acks++ },
		Nak:      func() { s.naks++ },
	}
}

func newRouter(exec ingestion.Executor, feed *oracle.Feed) (*ingestion.Router, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return ingestion.NewRouter(exec, feed, metrics, zerolog.Nop()), metrics
}

func claimPayload(t *testing.T) []byte {
	return mustJSON(t, map[string]interface{}{"id": uuid.NewString(), "owner": uuid.NewString(), "type": "lm"})
}

// ============================================================================
// Test: Instruction routing
// ============================================================================

func TestRouter_ExecutesAndAcks(t *testing.T) {
	exec := &recordingExecutor{}
	router, _ := newRouter(exec, oracle.NewFeed(time.Minute))
	var s settlement

	router.Handle(context.Background(), s.message("perp.instructions.claim_stakes", claimPayload(t)))

	if len(exec.executed) != 1 {
		t.Fatalf("executed: got %d, want 1", len(exec.executed))
	}
	if _, ok := exec.executed[0].(*event.ClaimStakes); !ok {
		t.Errorf("got %T, want *event.ClaimStakes", exec.executed[0])
	}
	if s.acks != 1 || s.naks != 0 {
		t.Errorf("acks=%d naks=%d, want 1/0", s.acks, s.naks)
	}
}

func TestRouter_RejectedInstructionIsAcked(t *testing.T) {
	exec := &recordingExecutor{err: fmt.Errorf("%w: no stake", state.ErrCannotFoundStake)}
	router, _ := newRouter(exec, oracle.NewFeed(time.Minute))
	var s settlement

	router.Handle(context.Background(), s.message("perp.instructions.claim_stakes", claimPayload(t)))

	if s.acks != 1 || s.naks != 0 {
		t.Errorf("acks=%d naks=%d, want 1/0", s.acks, s.naks)
	}
}

func TestRouter_MalformedDroppedWithoutExecuting(t *testing.T) {
	exec := &recordingExecutor{}
	router, _ := newRouter(exec, oracle.NewFeed(time.Minute))
	var s settlement

	router.Handle(context.Background(), s.message("perp.instructions.claim_stakes", []byte("{")))
	router.Handle(context.Background(), s.message("perp.instructions.withdraw", claimPayload(t)))

	if len(exec.executed) != 0 {
		t.Errorf("executed %d malformed messages", len(exec.executed))
	}
	if s.acks != 2 {
		t.Errorf("acks: got %d, want 2", s.acks)
	}
}

func TestRouter_NaksOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := &recordingExecutor{err: context.Canceled}
	router, _ := newRouter(exec, oracle.NewFeed(time.Minute))
	var s settlement

	router.Handle(ctx, s.message("perp.instructions.claim_stakes", claimPayload(t)))

	if s.naks != 1 || s.acks != 0 {
		t.Errorf("acks=%d naks=%d, want 0/1", s.acks, s.naks)
	}
}

func TestRouter_RunStopsWhenInputCloses(t *testing.T) {
	exec := &recordingExecutor{}
	router, _ := newRouter(exec, oracle.NewFeed(time.Minute))
	var s settlement

	in := make(chan ingestion.RawMessage, 2)
	in <- s.message("perp.instructions.claim_stakes", claimPayload(t))
	in <- s.message("perp.instructions.claim_stakes", claimPayload(t))
	close(in)

	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not stop")
	}
	if len(exec.executed) != 2 {
		t.Errorf("executed: got %d, want 2", len(exec.executed))
	}
}

// ============================================================================
// Test: Price tick routing
// ============================================================================

func tickPayload(t *testing.T, spot uint64, seq int64) []byte {
	return mustJSON(t, map[string]interface{}{
		"spot": spot, "ema": spot, "exponent": -6, "publish_time": 1_700_000_000, "sequence": seq,
	})
}

func TestRouter_PriceTicks(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	router, metrics := newRouter(&recordingExecutor{}, feed)
	var s settlement
	ctx := context.Background()

	router.Handle(ctx, s.message("perp.oracle.sol", tickPayload(t, 150_000_000, 1)))
	router.Handle(ctx, s.message("perp.oracle.sol", tickPayload(t, 140_000_000, 1))) // replayed
	router.Handle(ctx, s.message("perp.oracle.sol", tickPayload(t, 160_000_000, 4))) // gap
	router.Handle(ctx, s.message("perp.oracle.sol", []byte("not json")))

	spot, _, err := feed.GetPrices(ctx, "sol", 1_700_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if spot.Price != 160_000_000 {
		t.Errorf("spot: got %d, want 160_000_000", spot.Price)
	}
	if s.acks != 4 {
		t.Errorf("acks: got %d, want 4", s.acks)
	}

	checks := []struct {
		outcome string
		want    float64
	}{
		{"applied", 2},
		{"stale", 1},
		{"malformed", 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(metrics.OracleTicks.WithLabelValues("sol", c.outcome)); got != c.want {
			t.Errorf("%s ticks: got %v, want %v", c.outcome, got, c.want)
		}
	}
	if got := testutil.ToFloat64(metrics.OracleSequenceGaps.WithLabelValues("sol")); got != 1 {
		t.Errorf("gaps: got %v, want 1", got)
	}
}

func TestRouter_IgnoresNilSettlement(t *testing.T) {
	router, _ := newRouter(&recordingExecutor{}, oracle.NewFeed(time.Minute))
	msg := ingestion.RawMessage{Subject: "perp.instructions.claim_stakes", Data: claimPayload(t)}
	router.Handle(context.Background(), msg)
}
