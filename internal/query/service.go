package query

import (
	"PerpEngine/internal/projection"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryService reads the Postgres projection tables and the event log.
// Responses carry the projection watermark as their as_of_sequence, so
// history may trail the live reader by whatever the projection worker has
// not yet applied.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPositionHistory returns an owner's positions, open and closed, newest
// first. beforeSequence pages backwards. Token amounts are in native units.
func (qs *QueryService) GetPositionHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]PositionView, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT position_id, owner, pool_id, custody_id, collateral_custody, side, status,
		       price, size_usd, collateral_usd, collateral_amount, locked_amount,
		       open_time, realized_profit, realized_loss, last_sequence
		FROM projections.positions
		WHERE owner = $1
	`
	args := []interface{}{owner}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND last_sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY last_sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make([]PositionView, 0)
	for rows.Next() {
		var (
			p                                               PositionView
			px, size, collUSD, collAmt, locked, prof, loss int64
			lastSeq                                         int64
		)
		if err := rows.Scan(
			&p.ID, &p.Owner, &p.Pool, &p.Custody, &p.CollateralCustody, &p.Side, &p.Status,
			&px, &size, &collUSD, &collAmt, &locked,
			&p.OpenTime, &prof, &loss, &lastSeq,
		); err != nil {
			return nil, err
		}
		p.EntryPrice = price(uint64(px))
		p.SizeUSD = usd(uint64(size))
		p.CollateralUSD = usd(uint64(collUSD))
		p.CollateralAmount = fixed(uint64(collAmt), 0)
		p.LockedAmount = fixed(uint64(locked), 0)
		if p.Status == "Closed" {
			p.ProfitUSD, p.LossUSD = ptr(usd(uint64(prof))), ptr(usd(uint64(loss)))
		}
		p.AsOfSequence = asOfSeq
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetFeeHistory returns collected fees, newest first. An empty custodyID
// matches every custody.
func (qs *QueryService) GetFeeHistory(
	ctx context.Context,
	custodyID string,
	limit int,
	beforeSequence *int64,
) ([]FeeView, error) {
	query := `
		SELECT sequence, event_type, custody_id, mint, amount, amount_usd,
		       protocol_fee, lm_stakers_fee, locked_lp_stakers_fee, organic_lp_fee, lm_rewards, timestamp
		FROM projections.fee_history
		WHERE ($1 = '' OR custody_id = $1)
	`
	args := []interface{}{custodyID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fees := make([]FeeView, 0)
	for rows.Next() {
		var e projection.FeeHistoryEntry
		var amount, amountUSD, protocol, lm, lockedLP, organic, lmRewards int64
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.CustodyID, &e.Mint, &amount, &amountUSD,
			&protocol, &lm, &lockedLP, &organic, &lmRewards, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount, e.AmountUSD, e.LMRewards = uint64(amount), uint64(amountUSD), uint64(lmRewards)
		e.Distribution.ProtocolFee = uint64(protocol)
		e.Distribution.LMStakersFee = uint64(lm)
		e.Distribution.LockedLPStakersFee = uint64(lockedLP)
		e.Distribution.OrganicLPFee = uint64(organic)
		fees = append(fees, FeeViewFrom(e))
	}
	return fees, rows.Err()
}

// FeeViewFrom renders a fee entry. Token amounts are in native units since
// the entry does not carry the custody's decimals.
func FeeViewFrom(e projection.FeeHistoryEntry) FeeView {
	return FeeView{
		Sequence:     e.Sequence,
		EventType:    e.EventType,
		CustodyID:    e.CustodyID,
		Mint:         e.Mint,
		Amount:       fixed(e.Amount, 0),
		AmountUSD:    usd(e.AmountUSD),
		ProtocolFee:  fixed(e.Distribution.ProtocolFee, 0),
		LMStakersFee: fixed(e.Distribution.LMStakersFee, 0),
		LockedLPFee:  fixed(e.Distribution.LockedLPStakersFee, 0),
		OrganicLPFee: fixed(e.Distribution.OrganicLPFee, 0),
		LMRewards:    fixed(e.LMRewards, stakeDecimals),
		Timestamp:    e.Timestamp,
	}
}

// GetJournalHistory returns ledger movements touching an owner's wallets,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, mint, amount, journal_type, reason, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalHistoryEntry, 0)
	for rows.Next() {
		var (
			e  JournalHistoryEntry
			ts time.Time
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Mint, &e.Amount,
			&e.JournalType, &e.Reason, &ts,
		); err != nil {
			return nil, err
		}
		e.Timestamp = ts.Unix()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks that every envelope links to its predecessor's
// state hash and that projected balances net to zero per mint.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{
		HashChainBreaks: make([]int64, 0),
		UnbalancedMints: make([]UnbalancedMint, 0),
	}

	if err := qs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&report.EventsChecked); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence FROM (
			SELECT sequence, prev_hash, LAG(state_hash) OVER (ORDER BY sequence) AS expected
			FROM event_log.events
		) chain
		WHERE expected IS NOT NULL AND prev_hash <> expected
		ORDER BY sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Issuance accounts hold the negated supply, so every mint sums to zero.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT mint, SUM(balance) AS total
		FROM projections.balances
		GROUP BY mint
		HAVING SUM(balance) <> 0
		ORDER BY mint
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedMint
		if err := balanceRows.Scan(&u.Mint, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedMints = append(report.UnbalancedMints, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedMints) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
