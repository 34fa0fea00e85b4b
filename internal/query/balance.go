package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BalanceView is one of an owner's token accounts as projected from the
// journal. Balances are in token-native units.
type BalanceView struct {
	AccountPath  string `json:"account_path"`
	Mint         string `json:"mint"`
	Balance      int64  `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}

// BalancesResponse lists an owner's wallets.
type BalancesResponse struct {
	Owner        uuid.UUID     `json:"owner"`
	Balances     []BalanceView `json:"balances"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// GetBalances returns every wallet the owner holds.
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (*BalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, mint, balance, last_sequence
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY mint, account_path
	`, fmt.Sprintf("user:%s:%%", owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalancesResponse{
		Owner:        owner,
		Balances:     make([]BalanceView, 0),
		AsOfSequence: asOfSeq,
	}
	for rows.Next() {
		var b BalanceView
		if err := rows.Scan(&b.AccountPath, &b.Mint, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		resp.Balances = append(resp.Balances, b)
	}
	return resp, rows.Err()
}
