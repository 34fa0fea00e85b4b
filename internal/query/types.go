package query

import (
	fpmath "PerpEngine/internal/math"
	"PerpEngine/internal/state"
	"errors"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Every response carries AsOfSequence, the last committed sequence the
// data reflects.

// CustodyView is a custody's reserve ledger in human units.
type CustodyView struct {
	ID           string          `json:"id"`
	Pool         string          `json:"pool"`
	Mint         string          `json:"mint"`
	Decimals     uint8           `json:"decimals"`
	IsStable     bool            `json:"is_stable"`
	Owned        decimal.Decimal `json:"owned"`
	Locked       decimal.Decimal `json:"locked"`
	Available    decimal.Decimal `json:"available"`
	Collateral   decimal.Decimal `json:"collateral"`
	ProtocolFees decimal.Decimal `json:"protocol_fees"`
	OILongUSD    decimal.Decimal `json:"oi_long_usd"`
	OIShortUSD   decimal.Decimal `json:"oi_short_usd"`
	BorrowRate   decimal.Decimal `json:"borrow_rate"`
	Longs        uint64          `json:"open_longs"`
	Shorts       uint64          `json:"open_shorts"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PoolView lists a pool's custodies and its LP value at the minimum of
// spot and EMA, the same valuation deposits mint against.
type PoolView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	LPTokenMint  string          `json:"lp_token_mint"`
	Custodies    []string        `json:"custodies"`
	AUMUSD       decimal.Decimal `json:"aum_usd"`
	LPSupply     decimal.Decimal `json:"lp_supply"`
	PricesStale  bool            `json:"prices_stale,omitempty"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PositionView is a live position marked to market. PnL and leverage are
// omitted when the oracle has no fresh price.
type PositionView struct {
	ID                uuid.UUID        `json:"id"`
	Owner             uuid.UUID        `json:"owner"`
	Pool              string           `json:"pool"`
	Custody           string           `json:"custody"`
	CollateralCustody string           `json:"collateral_custody"`
	Side              string           `json:"side"`
	Status            string           `json:"status"`
	EntryPrice        decimal.Decimal  `json:"entry_price"`
	SizeUSD           decimal.Decimal  `json:"size_usd"`
	CollateralUSD     decimal.Decimal  `json:"collateral_usd"`
	CollateralAmount  decimal.Decimal  `json:"collateral_amount"`
	LockedAmount      decimal.Decimal  `json:"locked_amount"`
	OpenTime          int64            `json:"open_time"`
	ProfitUSD         *decimal.Decimal `json:"profit_usd,omitempty"`
	LossUSD           *decimal.Decimal `json:"loss_usd,omitempty"`
	Leverage          *decimal.Decimal `json:"leverage,omitempty"`
	AsOfSequence      int64            `json:"as_of_sequence"`
}

// LockedStakeView is one locked stake of a staking record.
type LockedStakeView struct {
	Index     int             `json:"index"`
	Amount    decimal.Decimal `json:"amount"`
	StakeTime int64           `json:"stake_time"`
	EndTime   int64           `json:"end_time"`
	Resolved  bool            `json:"resolved"`
}

// StakingView is one staker's record for one staking type.
type StakingView struct {
	Owner        uuid.UUID         `json:"owner"`
	Type         string            `json:"type"`
	Liquid       decimal.Decimal   `json:"liquid"`
	LiquidSince  int64             `json:"liquid_since"`
	ClaimTime    int64             `json:"claim_time"`
	Locked       []LockedStakeView `json:"locked"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// StakingPoolView summarises a staking pool's round schedule.
type StakingPoolView struct {
	Type              string          `json:"type"`
	StakedTokenMint   string          `json:"staked_token_mint"`
	RewardTokenMint   string          `json:"reward_token_mint"`
	CurrentRoundStart int64           `json:"current_round_start"`
	CurrentStake      decimal.Decimal `json:"current_stake"`
	NextStake         decimal.Decimal `json:"next_stake"`
	PendingRewards    decimal.Decimal `json:"pending_rewards"`
	PendingLMRewards  decimal.Decimal `json:"pending_lm_rewards"`
	ResolvedRounds    int             `json:"resolved_rounds"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// FeeView is one collected fee and its routing.
type FeeView struct {
	Sequence     int64           `json:"sequence"`
	EventType    string          `json:"event_type"`
	CustodyID    string          `json:"custody_id"`
	Mint         string          `json:"mint"`
	Amount       decimal.Decimal `json:"amount"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	ProtocolFee  decimal.Decimal `json:"protocol_fee"`
	LMStakersFee decimal.Decimal `json:"lm_stakers_fee"`
	LockedLPFee  decimal.Decimal `json:"locked_lp_stakers_fee"`
	OrganicLPFee decimal.Decimal `json:"organic_lp_fee"`
	LMRewards    decimal.Decimal `json:"lm_rewards"`
	Timestamp    int64           `json:"timestamp"`
}

// JournalHistoryEntry is a ledger movement touching an owner's accounts.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Mint          string `json:"mint"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Reason        string `json:"reason"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of a hash-chain and zero-sum audit of the
// persisted log.
type IntegrityReport struct {
	EventsChecked   int64            `json:"events_checked"`
	HashChainBreaks []int64          `json:"hash_chain_breaks"`
	UnbalancedMints []UnbalancedMint `json:"unbalanced_mints"`
	IsHealthy       bool             `json:"is_healthy"`
}

// UnbalancedMint is a mint whose projected balances do not sum to zero.
type UnbalancedMint struct {
	Mint      string `json:"mint"`
	Imbalance int64  `json:"imbalance"`
}

// usd renders a USDDecimals value.
func usd(v uint64) decimal.Decimal {
	return fixed(v, fpmath.USDDecimals)
}

// price renders a PriceDecimals value.
func price(v uint64) decimal.Decimal {
	return fixed(v, fpmath.PriceDecimals)
}

// fixed renders v scaled down by decimals.
func fixed(v uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -int32(decimals))
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// ParseStakingType accepts "lm" or "lp".
func ParseStakingType(s string) (state.StakingType, error) {
	var t state.StakingType
	if err := t.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return t, nil
}
