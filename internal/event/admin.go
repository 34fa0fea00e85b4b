package event

import (
	"PerpEngine/internal/state"

	"github.com/google/uuid"
)

// InitPerpetuals creates the protocol-wide records. It must be the first
// instruction.
type InitPerpetuals struct {
	Header
	Permissions state.Permissions `json:"permissions"`
	Cortex      state.Cortex      `json:"cortex"`
}

func (*InitPerpetuals) EventType() EventType { return EventTypePerpetualsInitialized }

// AddPool registers an empty pool.
type AddPool struct {
	Header
	PoolID      string `json:"pool_id"`
	Name        string `json:"name"`
	LPTokenMint string `json:"lp_token_mint"`
}

func (*AddPool) EventType() EventType { return EventTypePoolAdded }

// AddCustody appends a custody to its pool's ordered set.
type AddCustody struct {
	Header
	Params state.CustodyParams `json:"params"`
}

func (*AddCustody) EventType() EventType { return EventTypeCustodyAdded }

// SetCustodyConfig replaces a custody's tunable parameters.
type SetCustodyConfig struct {
	Header
	CustodyID string              `json:"custody_id"`
	Config    state.CustodyConfig `json:"config"`
}

func (*SetCustodyConfig) EventType() EventType { return EventTypeCustodyConfigUpdated }

// SetPermissions replaces the pool-wide permission set.
type SetPermissions struct {
	Header
	Permissions state.Permissions `json:"permissions"`
}

func (*SetPermissions) EventType() EventType { return EventTypePermissionsUpdated }

// DepositTokens credits tokens bridged in from outside the ledger.
type DepositTokens struct {
	Header
	Owner  uuid.UUID `json:"owner"`
	Mint   string    `json:"mint"`
	Amount uint64    `json:"amount"`
}

func (*DepositTokens) EventType() EventType { return EventTypeTokensDeposited }

// DepositLiquidity moves an owner's tokens into a custody as pool liquidity.
type DepositLiquidity struct {
	Header
	Owner     uuid.UUID `json:"owner"`
	CustodyID string    `json:"custody_id"`
	Amount    uint64    `json:"amount"`
}

func (*DepositLiquidity) EventType() EventType { return EventTypeLiquidityDeposited }

// InitStakingPool opens staking for one token type.
type InitStakingPool struct {
	Header
	Type             state.StakingType `json:"type"`
	StakedTokenMint  string            `json:"staked_token_mint"`
	RewardTokenMint  string            `json:"reward_token_mint"`
	RoundMinDuration int64             `json:"round_min_duration"` // seconds; zero selects the default
}

func (*InitStakingPool) EventType() EventType { return EventTypeStakingPoolInitialized }
