package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// batchNamespace seeds deterministic batch and journal IDs so a replayed
// instruction produces identical journals.
var batchNamespace = uuid.MustParse("7f1c3d52-2a4e-4c1b-9b7d-5e0f6a8c9d21")

// JournalGenerator builds journal batches for instructions.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// NewBatch opens an empty batch for the instruction at sequence.
func (jg *JournalGenerator) NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("%s:%d", eventRef, sequence))),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

func (jg *JournalGenerator) append(b *Batch, debit, credit AccountKey, amount uint64, jt JournalType, reason string) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, []byte(fmt.Sprintf("%d", len(b.Journals)))),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Reason:        reason,
		Timestamp:     b.Timestamp,
	})
}

// Transfer moves amount from one account to another. Zero amounts are
// skipped.
func (jg *JournalGenerator) Transfer(b *Batch, from, to AccountKey, amount uint64, reason string) {
	jg.append(b, to, from, amount, JournalTypeTransfer, reason)
}

// Mint issues amount of to's mint into to.
func (jg *JournalGenerator) Mint(b *Batch, to AccountKey, amount uint64, reason string) {
	jg.append(b, to, Issuance(to.Mint), amount, JournalTypeMint, reason)
}

// Burn destroys amount held in from.
func (jg *JournalGenerator) Burn(b *Batch, from AccountKey, amount uint64, reason string) {
	jg.append(b, Issuance(from.Mint), from, amount, JournalTypeBurn, reason)
}

// CloseAccount drains balance from the account into to. The batch fails
// to apply if from holds anything else.
func (jg *JournalGenerator) CloseAccount(b *Batch, from, to AccountKey, balance uint64, reason string) {
	jg.append(b, to, from, balance, JournalTypeCloseAccount, reason)
}
