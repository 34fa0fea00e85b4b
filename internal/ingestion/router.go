package ingestion

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Executor runs one instruction to completion.
type Executor interface {
	Execute(ctx context.Context, ins event.Instruction) (*event.Outcome, error)
}

// PriceSink stores oracle observations.
type PriceSink interface {
	Apply(tick *event.PriceTick) (bool, error)
	Gaps(handle string) int64
}

// Router decodes inbound messages and executes them in arrival order.
// Instructions are acked after execution whether or not the engine
// accepted them: a rejection is deterministic and redelivery would only
// repeat it. Only a shutdown mid-message naks.
type Router struct {
	executor Executor
	prices   PriceSink
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewRouter(executor Executor, prices PriceSink, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		executor: executor,
		prices:   prices,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run drains in until it closes or ctx is done.
func (r *Router) Run(ctx context.Context, in <-chan RawMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle processes a single message and settles it with the broker.
func (r *Router) Handle(ctx context.Context, msg RawMessage) {
	if strings.HasPrefix(msg.Subject, OracleSubjectPrefix) {
		r.handleTick(msg)
		settle(msg.Ack)
		return
	}

	ins, err := r.decode(msg)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed instruction")
		settle(msg.Ack)
		return
	}

	if _, err := r.executor.Execute(ctx, ins); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			settle(msg.Nak)
			return
		}
		// The engine has logged and counted the rejection.
		r.logger.Debug().Err(err).Str("instruction", ins.IdempotencyKey()).Msg("instruction not applied")
	}
	settle(msg.Ack)
}

func (r *Router) decode(msg RawMessage) (event.Instruction, error) {
	et, err := EventTypeForSubject(msg.Subject)
	if err != nil {
		return nil, err
	}
	return ParseInstruction(et, msg.Data)
}

func (r *Router) handleTick(msg RawMessage) {
	tick, err := ParsePriceTick(msg.Subject, msg.Data)
	if err != nil {
		r.tickOutcome(strings.TrimPrefix(msg.Subject, OracleSubjectPrefix), "malformed")
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed price tick")
		return
	}

	gapsBefore := r.prices.Gaps(tick.Oracle)
	applied, err := r.prices.Apply(tick)
	switch {
	case err != nil:
		r.tickOutcome(tick.Oracle, "malformed")
		r.logger.Warn().Err(err).Str("oracle", tick.Oracle).Msg("price tick rejected")
	case !applied:
		r.tickOutcome(tick.Oracle, "stale")
	default:
		r.tickOutcome(tick.Oracle, "applied")
		if r.prices.Gaps(tick.Oracle) > gapsBefore {
			if r.metrics != nil {
				r.metrics.OracleSequenceGaps.WithLabelValues(tick.Oracle).Inc()
			}
			r.logger.Warn().
				Str("oracle", tick.Oracle).
				Int64("sequence", tick.Sequence).
				Msg("price tick sequence gap")
		}
	}
}

func (r *Router) tickOutcome(oracle, outcome string) {
	if r.metrics != nil {
		r.metrics.OracleTicks.WithLabelValues(oracle, outcome).Inc()
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
