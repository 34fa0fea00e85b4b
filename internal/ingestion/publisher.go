package ingestion

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventSubjectPrefix is where committed envelopes are published, one
// subject per event type: perp.events.PositionOpened.
const EventSubjectPrefix = "perp.events."

// OutboundPublisher publishes committed envelopes for downstream consumers.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound form of an envelope.
type PublishableEvent struct {
	Sequence      int64           `json:"sequence"`
	EventType     string          `json:"event_type"`
	InstructionID string          `json:"instruction_id"`
	Payload       json.RawMessage `json:"payload"`
	StateHash     string          `json:"state_hash"`
	PrevHash      string          `json:"prev_hash"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewPublishableEvent converts a committed envelope.
func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	return PublishableEvent{
		Sequence:      env.Sequence,
		EventType:     env.EventType.String(),
		InstructionID: env.InstructionID.String(),
		Payload:       env.Payload,
		StateHash:     hex.EncodeToString(env.StateHash[:]),
		PrevHash:      hex.EncodeToString(env.PrevHash[:]),
		Timestamp:     time.Unix(env.Timestamp, 0).UTC(),
	}
}

// Subject returns the outbound subject of the event.
func (e PublishableEvent) Subject() string {
	return EventSubjectPrefix + e.EventType
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	inputChan <-chan PublishableEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is done or the input closes. A failed publish is
// dropped: consumers can always read the event log.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence doubles as the message ID so a republish after restart
	// is dropped by the stream's duplicate window.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", EventStream).Msg("ensured outbound stream")
	return nil
}
