package state

// Permissions gates every mutating instruction. The pool-wide set on
// Perpetuals and the per-custody set must both allow an operation.
type Permissions struct {
	AllowSwap                 bool `json:"allow_swap"`
	AllowAddLiquidity         bool `json:"allow_add_liquidity"`
	AllowRemoveLiquidity      bool `json:"allow_remove_liquidity"`
	AllowOpenPosition         bool `json:"allow_open_position"`
	AllowClosePosition        bool `json:"allow_close_position"`
	AllowPnLWithdrawal        bool `json:"allow_pnl_withdrawal"`
	AllowCollateralWithdrawal bool `json:"allow_collateral_withdrawal"`
	AllowSizeChange           bool `json:"allow_size_change"`
}

// AllowAll returns a permission set with every operation enabled.
func AllowAll() Permissions {
	return Permissions{
		AllowSwap:                 true,
		AllowAddLiquidity:         true,
		AllowRemoveLiquidity:      true,
		AllowOpenPosition:         true,
		AllowClosePosition:        true,
		AllowPnLWithdrawal:        true,
		AllowCollateralWithdrawal: true,
		AllowSizeChange:           true,
	}
}

// Perpetuals is the protocol-wide record.
type Perpetuals struct {
	Permissions   Permissions `json:"permissions"`
	InceptionTime int64       `json:"inception_time"`
}
