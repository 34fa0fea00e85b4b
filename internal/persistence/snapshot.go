package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotFormatVersion tags the encoding of the data column.
const snapshotFormatVersion = 1

// SnapshotManager stores engine snapshots and reads the event log back for
// recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is a stored snapshot. Data is the JSON-encoded engine
// snapshot; persistence does not interpret it.
type SnapshotRecord struct {
	Sequence  int64
	StateHash []byte
	Data      json.RawMessage
	Verified  bool
	CreatedAt time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot writes a snapshot unverified. It becomes eligible for
// recovery once MarkVerified confirms it against the log.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	if len(rec.Data) == 0 {
		return errors.New("save snapshot: empty data")
	}
	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE
			SET data = EXCLUDED.data, state_hash = EXCLUDED.state_hash, size_bytes = EXCLUDED.size_bytes
	`, uuid.New(), rec.Sequence, []byte(rec.Data), rec.StateHash, snapshotFormatVersion, len(rec.Data), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot at %d: %w", rec.Sequence, err)
	}
	return nil
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, data, format_version, verified, created_at
		FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		rec     SnapshotRecord
		data    []byte
		version int
	)
	if err := row.Scan(&rec.Sequence, &rec.StateHash, &data, &version, &rec.Verified, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot at %d: unsupported format version %d", rec.Sequence, version)
	}
	rec.Data = data
	return &rec, nil
}

// MarkVerified flags a snapshot whose hash matched the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyPending checks every unverified snapshot whose preceding event is
// already logged. A snapshot whose hash matches is marked verified; one
// that does not is deleted. It returns how many were verified.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT s.sequence, s.state_hash, e.state_hash
		FROM event_log.snapshots s
		JOIN event_log.events e ON e.sequence = s.sequence - 1
		WHERE s.verified = FALSE
		ORDER BY s.sequence
	`)
	if err != nil {
		return 0, fmt.Errorf("list pending snapshots: %w", err)
	}
	type pending struct {
		seq   int64
		match bool
	}
	var found []pending
	for rows.Next() {
		var (
			seq               int64
			snapHash, logHash []byte
		)
		if err := rows.Scan(&seq, &snapHash, &logHash); err != nil {
			rows.Close()
			return 0, err
		}
		found = append(found, pending{seq: seq, match: bytes.Equal(snapHash, logHash)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	verified := 0
	for _, p := range found {
		if !p.match {
			if _, err := sm.db.ExecContext(ctx, `DELETE FROM event_log.snapshots WHERE sequence = $1`, p.seq); err != nil {
				return verified, fmt.Errorf("discard snapshot at %d: %w", p.seq, err)
			}
			continue
		}
		if err := sm.MarkVerified(ctx, p.seq); err != nil {
			return verified, fmt.Errorf("verify snapshot at %d: %w", p.seq, err)
		}
		verified++
	}
	return verified, nil
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.InstructionID, &e.Instruction, &e.Prices,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventHash returns the logged state hash at sequence.
func (sm *SnapshotManager) EventHash(ctx context.Context, sequence int64) ([]byte, error) {
	var hash []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, sequence).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return hash, err
}

// GetLatestSequence returns the highest logged sequence, or -1 when the
// log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
