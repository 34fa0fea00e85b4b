package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var ErrInvalidBatch = errors.New("invalid journal batch")

// JournalType represents the kind of token movement
type JournalType int32

const (
	// JournalTypeTransfer moves tokens between two accounts of one mint.
	JournalTypeTransfer JournalType = iota
	// JournalTypeMint credits new supply from the issuance account.
	JournalTypeMint
	// JournalTypeBurn returns tokens to the issuance account.
	JournalTypeBurn
	// JournalTypeCloseAccount drains an account into the destination. The
	// source must be empty afterwards.
	JournalTypeCloseAccount
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeCloseAccount:
		return "close_account"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   `json:"journal_id"`
	BatchID       uuid.UUID   `json:"batch_id"`
	EventRef      string      `json:"event_ref"`      // Idempotency key of source instruction
	Sequence      int64       `json:"sequence"`       // Global event sequence
	DebitAccount  AccountKey  `json:"debit_account"`  // Balance increases
	CreditAccount AccountKey  `json:"credit_account"` // Balance decreases
	Amount        uint64      `json:"amount"`         // Token-native units, always positive
	JournalType   JournalType `json:"journal_type"`
	Reason        string      `json:"reason"`
	Timestamp     int64       `json:"timestamp"` // Engine clock, unix seconds
}

// Batch represents the token movements of one instruction. It is applied
// all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID `json:"batch_id"`
	EventRef  string    `json:"event_ref"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
	Journals  []Journal `json:"journals"`
}

// IsEmpty reports whether the batch moves no tokens.
func (b *Batch) IsEmpty() bool {
	return len(b.Journals) == 0
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two accounts of the same mint, so every entry is balanced
// on its own.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == 0 || j.Amount > math.MaxInt64 {
			return fmt.Errorf("%w: journal %s has amount %d", ErrInvalidBatch, j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("%w: journal %s has mismatched batch_id", ErrInvalidBatch, j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("%w: journal %s has same debit and credit account", ErrInvalidBatch, j.JournalID)
		}
		if j.DebitAccount.Mint != j.CreditAccount.Mint {
			return fmt.Errorf("%w: journal %s moves %s into a %s account",
				ErrInvalidBatch, j.JournalID, j.CreditAccount.Mint, j.DebitAccount.Mint)
		}
	}
	return nil
}
