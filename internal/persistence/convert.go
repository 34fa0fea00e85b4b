package persistence

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	"encoding/json"
	"fmt"
	"time"
)

// CoreOutput is a committed instruction in row form. The orchestrator
// converts core outputs with FromCommit; persistence never imports core.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// FromCommit converts one committed instruction into rows.
func FromCommit(env *event.EventEnvelope, batch *ledger.Batch, ins event.Instruction, prices []event.PriceReading) (CoreOutput, error) {
	instruction, err := json.Marshal(ins)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("encode instruction at %d: %w", env.Sequence, err)
	}
	if prices == nil {
		prices = []event.PriceReading{}
	}
	readings, err := json.Marshal(prices)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("encode prices at %d: %w", env.Sequence, err)
	}

	ts := time.Unix(env.Timestamp, 0).UTC()
	out := CoreOutput{
		EventRow: EventRow{
			Sequence:      env.Sequence,
			EventType:     env.EventType.String(),
			InstructionID: env.InstructionID.String(),
			Instruction:   instruction,
			Prices:        readings,
			Payload:       env.Payload,
			StateHash:     append([]byte(nil), env.StateHash[:]...),
			PrevHash:      append([]byte(nil), env.PrevHash[:]...),
			Timestamp:     ts,
		},
	}
	if batch == nil {
		return out, nil
	}
	out.JournalRows = make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		out.JournalRows = append(out.JournalRows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Mint:          j.DebitAccount.Mint,
			Amount:        int64(j.Amount), // Batch.Validate bounds amounts to int64
			JournalType:   j.JournalType.String(),
			Reason:        j.Reason,
			Timestamp:     ts,
		})
	}
	return out, nil
}

// DecodePrices parses the readings column of an event row.
func (r EventRow) DecodePrices() ([]event.PriceReading, error) {
	if len(r.Prices) == 0 {
		return nil, nil
	}
	var prices []event.PriceReading
	if err := json.Unmarshal(r.Prices, &prices); err != nil {
		return nil, fmt.Errorf("decode prices at %d: %w", r.Sequence, err)
	}
	return prices, nil
}

// StateHashArray returns the row's state hash as the engine's hash type.
func (r EventRow) StateHashArray() ([32]byte, error) {
	var h [32]byte
	if len(r.StateHash) != len(h) {
		return h, fmt.Errorf("event %d: state hash has %d bytes", r.Sequence, len(r.StateHash))
	}
	copy(h[:], r.StateHash)
	return h, nil
}
