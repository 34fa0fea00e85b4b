package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// maxBindParams is Postgres' limit on placeholders in one statement.
const maxBindParams = 65535

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes envelopes and journals to Postgres with multi-row
// INSERTs. Writes are idempotent: a row already present is left alone.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row of event_log.events.
type EventRow struct {
	Sequence      int64
	EventType     string
	InstructionID string
	Instruction   []byte // JSON instruction, replayable
	Prices        []byte // JSON oracle readings the instruction consumed
	Payload       []byte // JSON outcome
	StateHash     []byte
	PrevHash      []byte
	Timestamp     time.Time
}

// JournalRow is a row of event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Mint          string
	Amount        int64
	JournalType   string
	Reason        string
	Timestamp     time.Time
}

const (
	eventColumns       = "sequence, event_type, instruction_id, instruction, prices, payload, state_hash, prev_hash, timestamp"
	eventColumnCount   = 9
	journalColumns     = "journal_id, batch_id, event_ref, sequence, debit_account, credit_account, mint, amount, journal_type, reason, timestamp"
	journalColumnCount = 11
)

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts events through ex.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	for _, chunk := range chunkRows(len(events), eventColumnCount) {
		query, args := buildEventInsert(events[chunk[0]:chunk[1]])
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert events %d..%d: %w", events[chunk[0]].Sequence, events[chunk[1]-1].Sequence, err)
		}
	}
	return nil
}

// WriteJournalBatch inserts journal entries through ex.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	for _, chunk := range chunkRows(len(journals), journalColumnCount) {
		query, args := buildJournalInsert(journals[chunk[0]:chunk[1]])
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %d journals: %w", chunk[1]-chunk[0], err)
		}
	}
	return nil
}

// chunkRows splits n rows of cols columns into [start, end) ranges that fit
// the placeholder limit.
func chunkRows(n, cols int) [][2]int {
	per := maxBindParams / cols
	var out [][2]int
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func placeholders(sb *strings.Builder, row, cols int) {
	sb.WriteByte('(')
	for c := 0; c < cols; c++ {
		if c > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "$%d", row*cols+c+1)
	}
	sb.WriteByte(')')
}

func buildEventInsert(events []EventRow) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO event_log.events (" + eventColumns + ") VALUES ")
	args := make([]interface{}, 0, len(events)*eventColumnCount)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		placeholders(&sb, i, eventColumnCount)
		args = append(args,
			e.Sequence, e.EventType, e.InstructionID, e.Instruction, e.Prices,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}
	sb.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	return sb.String(), args
}

func buildJournalInsert(journals []JournalRow) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO event_log.journal (" + journalColumns + ") VALUES ")
	args := make([]interface{}, 0, len(journals)*journalColumnCount)
	for i, j := range journals {
		if i > 0 {
			sb.WriteString(", ")
		}
		placeholders(&sb, i, journalColumnCount)
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Mint, j.Amount,
			j.JournalType, j.Reason, j.Timestamp,
		)
	}
	sb.WriteString(" ON CONFLICT (journal_id) DO NOTHING")
	return sb.String(), args
}
