package projection

import (
	"PerpEngine/internal/event"
	"PerpEngine/internal/ledger"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Update is a committed instruction in the form the read models need.
// The orchestrator builds it from the core output.
type Update struct {
	Sequence  int64
	EventType string
	Timestamp int64
	Journals  []JournalEntry
	Outcome   *event.Outcome
}

// JournalEntry is a journal flattened to account paths.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Mint          string
	Amount        int64
}

// UpdateFrom builds the update for one committed instruction.
func UpdateFrom(env *event.EventEnvelope, batch *ledger.Batch, outcome *event.Outcome) Update {
	u := Update{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp,
		Outcome:   outcome,
	}
	if batch == nil {
		return u
	}
	u.Journals = make([]JournalEntry, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		u.Journals = append(u.Journals, JournalEntry{
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Mint:          j.DebitAccount.Mint,
			Amount:        int64(j.Amount),
		})
	}
	return u
}

// ProjectionWorker updates projection tables from committed instructions.
// The projection channel drops on overflow, so the read models are
// eventually consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan Update
	fees      *FeeHistory
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan Update,
	fees *FeeHistory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		fees:      fees,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run resumes from the stored watermark and applies updates until ctx is
// cancelled or the input closes. Updates at or below the watermark are
// skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case u, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if u.Sequence <= pw.lastSeq {
				continue
			}
			if pw.fees != nil {
				if entry, ok := FeeEntryFrom(u); ok {
					pw.fees.Add(entry)
				}
			}
			if err := pw.apply(ctx, u); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", u.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = u.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionLastSequence.Set(float64(u.Sequence))
			}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, u Update) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A concurrent rebuild may already have folded this update in.
	var mark int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main' FOR UPDATE
	`).Scan(&mark)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		pw.countError("watermark")
		return fmt.Errorf("lock watermark: %w", err)
	case u.Sequence <= mark:
		return nil
	}

	for _, d := range NetBalances(u.Journals) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, mint, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path, mint)
			DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
		`, d.AccountPath, d.Mint, d.Delta, u.Sequence); err != nil {
			pw.countError("balances")
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if o := u.Outcome; o != nil {
		if o.Position != nil {
			if err := upsertPosition(ctx, tx, u.Sequence, o.Position); err != nil {
				pw.countError("positions")
				return fmt.Errorf("position projection: %w", err)
			}
		}
		if entry, ok := FeeEntryFrom(u); ok {
			if err := insertFee(ctx, tx, entry); err != nil {
				pw.countError("fee_history")
				return fmt.Errorf("fee projection: %w", err)
			}
		}
		if o.Staking != nil {
			if err := upsertStaking(ctx, tx, u.Sequence, o.Staking); err != nil {
				pw.countError("stakings")
				return fmt.Errorf("staking projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, u.Sequence); err != nil {
		pw.countError("watermark")
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) countError(table string) {
	if pw.metrics != nil {
		pw.metrics.ProjectionErrors.WithLabelValues(table).Inc()
	}
}

// BalanceDelta is the net change of one account in one update.
type BalanceDelta struct {
	AccountPath string
	Mint        string
	Delta       int64
}

// NetBalances folds journals into one delta per account, sorted by path.
// The debit side grows and the credit side shrinks. Accounts that net to
// zero are dropped.
func NetBalances(journals []JournalEntry) []BalanceDelta {
	type key struct{ path, mint string }
	net := make(map[key]int64)
	for _, j := range journals {
		net[key{j.DebitAccount, j.Mint}] += j.Amount
		net[key{j.CreditAccount, j.Mint}] -= j.Amount
	}

	out := make([]BalanceDelta, 0, len(net))
	for k, d := range net {
		if d == 0 {
			continue
		}
		out = append(out, BalanceDelta{AccountPath: k.path, Mint: k.mint, Delta: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountPath != out[j].AccountPath {
			return out[i].AccountPath < out[j].AccountPath
		}
		return out[i].Mint < out[j].Mint
	})
	return out
}

func upsertPosition(ctx context.Context, tx *sql.Tx, seq int64, p *state.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (
			position_id, owner, pool_id, custody_id, collateral_custody, side, status,
			price, size_usd, collateral_usd, collateral_amount, locked_amount,
			open_time, update_time, realized_profit, realized_loss, last_sequence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (position_id) DO UPDATE SET
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			size_usd = EXCLUDED.size_usd,
			collateral_usd = EXCLUDED.collateral_usd,
			collateral_amount = EXCLUDED.collateral_amount,
			locked_amount = EXCLUDED.locked_amount,
			update_time = EXCLUDED.update_time,
			realized_profit = EXCLUDED.realized_profit,
			realized_loss = EXCLUDED.realized_loss,
			last_sequence = EXCLUDED.last_sequence
	`,
		p.ID, p.Owner, p.Pool, p.Custody, p.CollateralCustody, p.Side.String(), p.Status.String(),
		int64(p.Price), int64(p.SizeUSD), int64(p.CollateralUSD), int64(p.CollateralAmount), int64(p.LockedAmount),
		p.OpenTime, p.UpdateTime, realized(p, p.UnrealizedProfitUSD), realized(p, p.UnrealizedLossUSD), seq,
	)
	return err
}

// realized reports the closing PnL of a closed position. Open positions
// carry no realized amounts.
func realized(p *state.Position, v uint64) int64 {
	if p.Status != state.PositionStatusClosed {
		return 0
	}
	return int64(v)
}

func insertFee(ctx context.Context, tx *sql.Tx, e FeeHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.fee_history (
			sequence, event_type, owner, custody_id, mint, amount, amount_usd,
			protocol_fee, lm_stakers_fee, locked_lp_stakers_fee, organic_lp_fee, lm_rewards, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (sequence) DO NOTHING
	`,
		e.Sequence, e.EventType, nullableOwner(e.Owner), e.CustodyID, e.Mint, int64(e.Amount), int64(e.AmountUSD),
		int64(e.Distribution.ProtocolFee), int64(e.Distribution.LMStakersFee),
		int64(e.Distribution.LockedLPStakersFee), int64(e.Distribution.OrganicLPFee),
		int64(e.LMRewards), e.Timestamp,
	)
	return err
}

func nullableOwner(owner uuid.UUID) interface{} {
	if owner == uuid.Nil {
		return nil
	}
	return owner
}

func upsertStaking(ctx context.Context, tx *sql.Tx, seq int64, s *state.Staking) error {
	var locked uint64
	for _, ls := range s.LockedStakes {
		locked += ls.Amount
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.stakings (owner, staking_type, liquid_amount, locked_amount, locked_count, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner, staking_type) DO UPDATE SET
			liquid_amount = EXCLUDED.liquid_amount,
			locked_amount = EXCLUDED.locked_amount,
			locked_count = EXCLUDED.locked_count,
			last_sequence = EXCLUDED.last_sequence
	`, s.Owner, s.Type.String(), int64(s.LiquidStake.Amount), int64(locked), len(s.LockedStakes), seq)
	return err
}

// LoadWatermark returns the last applied sequence, or -1 before the first
// update.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// RebuildProjections rebuilds all projection tables from the event log.
// Balances come from the journal; positions, fees and stakings from the
// latest outcome payload that carried them.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []struct {
		name  string
		query string
	}{
		{"truncate", `TRUNCATE projections.balances, projections.positions, projections.fee_history, projections.stakings`},
		{"watermark", `DELETE FROM projections.watermark WHERE worker_id = 'main'`},
		{"balances", `
			INSERT INTO projections.balances (account_path, mint, balance, last_sequence)
			SELECT account_path, mint, SUM(delta), MAX(sequence)
			FROM (
				SELECT debit_account AS account_path, mint, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT credit_account, mint, -amount, sequence FROM event_log.journal
			) moves
			GROUP BY account_path, mint
			HAVING SUM(delta) <> 0
		`},
		{"positions", `
			INSERT INTO projections.positions (
				position_id, owner, pool_id, custody_id, collateral_custody, side, status,
				price, size_usd, collateral_usd, collateral_amount, locked_amount,
				open_time, update_time, realized_profit, realized_loss, last_sequence
			)
			SELECT DISTINCT ON (p->>'id')
				(p->>'id')::uuid, (p->>'owner')::uuid, p->>'pool', p->>'custody', p->>'collateral_custody',
				p->>'side',
				CASE (p->>'status')::int WHEN 0 THEN 'Opening' WHEN 1 THEN 'Open' WHEN 2 THEN 'Closed' ELSE 'Unknown' END,
				(p->>'price')::bigint, (p->>'size_usd')::bigint, (p->>'collateral_usd')::bigint,
				(p->>'collateral_amount')::bigint, (p->>'locked_amount')::bigint,
				(p->>'open_time')::bigint, (p->>'update_time')::bigint,
				CASE WHEN (p->>'status')::int = 2 THEN (p->>'unrealized_profit_usd')::bigint ELSE 0 END,
				CASE WHEN (p->>'status')::int = 2 THEN (p->>'unrealized_loss_usd')::bigint ELSE 0 END,
				sequence
			FROM (SELECT sequence, payload->'position' AS p FROM event_log.events WHERE payload ? 'position') pos
			ORDER BY p->>'id', sequence DESC
		`},
		{"fee_history", `
			INSERT INTO projections.fee_history (
				sequence, event_type, owner, custody_id, mint, amount, amount_usd,
				protocol_fee, lm_stakers_fee, locked_lp_stakers_fee, organic_lp_fee, lm_rewards, timestamp
			)
			SELECT sequence, event_type, NULLIF(payload->>'owner', '00000000-0000-0000-0000-000000000000')::uuid,
				f->>'custody_id', f->>'mint', (f->>'amount')::bigint, (f->>'amount_usd')::bigint,
				(f->'distribution'->>'protocol_fee')::bigint, (f->'distribution'->>'lm_stakers_fee')::bigint,
				(f->'distribution'->>'locked_lp_stakers_fee')::bigint, (f->'distribution'->>'organic_lp_fee')::bigint,
				(f->>'lm_rewards')::bigint, EXTRACT(EPOCH FROM timestamp)::bigint
			FROM (SELECT sequence, event_type, payload, timestamp, payload->'fee' AS f FROM event_log.events WHERE payload ? 'fee') fees
		`},
		{"stakings", `
			INSERT INTO projections.stakings (owner, staking_type, liquid_amount, locked_amount, locked_count, last_sequence)
			SELECT DISTINCT ON (s->>'owner', s->>'type')
				(s->>'owner')::uuid, s->>'type', (s->'liquid_stake'->>'amount')::bigint,
				COALESCE((SELECT SUM((ls->>'amount')::bigint) FROM jsonb_array_elements(COALESCE(s->'locked_stakes', '[]'::jsonb)) ls), 0),
				jsonb_array_length(COALESCE(s->'locked_stakes', '[]'::jsonb)),
				sequence
			FROM (SELECT sequence, payload->'staking' AS s FROM event_log.events WHERE payload ? 'staking') st
			ORDER BY s->>'owner', s->>'type', sequence DESC
		`},
		{"watermark", `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			SELECT 'main', MAX(sequence), NOW() FROM event_log.events HAVING MAX(sequence) IS NOT NULL
		`},
	}

	for _, st := range statements {
		if _, err := tx.ExecContext(ctx, st.query); err != nil {
			return fmt.Errorf("rebuild %s: %w", st.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
