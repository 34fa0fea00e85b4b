package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeVault
	// Issuance accounts are the mint side of every token. Their balance is
	// the negated circulating supply and is the only kind allowed below zero.
	AccountScopeIssuance
)

// AccountKind represents the account purpose
type AccountKind uint8

const (
	// User kinds
	KindWallet AccountKind = iota

	// Vault kinds
	KindPositionDeposit
	KindCustodyVault
	KindStakingVault
	KindRewardVault
	KindLMRewardVault

	// Issuance kinds
	KindSupply
)

var kindNames = map[AccountKind]string{
	KindWallet:          "wallet",
	KindPositionDeposit: "position_deposit",
	KindCustodyVault:    "custody",
	KindStakingVault:    "staking",
	KindRewardVault:     "reward",
	KindLMRewardVault:   "lm_reward",
	KindSupply:          "supply",
}

func (k AccountKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// AccountKey identifies a token account. Every account holds exactly one mint.
type AccountKey struct {
	Scope  AccountScope `json:"scope"`
	Entity string       `json:"entity"` // owner UUID, custody ID, staking type or position ID
	Kind   AccountKind  `json:"kind"`
	Mint   string       `json:"mint"`
}

// UserWallet is an owner's token account for mint.
func UserWallet(owner uuid.UUID, mint string) AccountKey {
	return AccountKey{Scope: AccountScopeUser, Entity: owner.String(), Kind: KindWallet, Mint: mint}
}

// PositionDeposit holds the refundable deposit backing a position record.
func PositionDeposit(positionID uuid.UUID, mint string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, Entity: positionID.String(), Kind: KindPositionDeposit, Mint: mint}
}

// CustodyVault holds a custody's owned liquidity, collateral and protocol fees.
func CustodyVault(custodyID, mint string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, Entity: custodyID, Kind: KindCustodyVault, Mint: mint}
}

// StakingVault holds the staked tokens of one staking pool.
func StakingVault(stakingType, mint string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, Entity: stakingType, Kind: KindStakingVault, Mint: mint}
}

// RewardVault holds fee rewards awaiting claim.
func RewardVault(stakingType, mint string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, Entity: stakingType, Kind: KindRewardVault, Mint: mint}
}

// LMRewardVault holds LM token emissions awaiting claim.
func LMRewardVault(stakingType, mint string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, Entity: stakingType, Kind: KindLMRewardVault, Mint: mint}
}

// Issuance is the supply account for mint.
func Issuance(mint string) AccountKey {
	return AccountKey{Scope: AccountScopeIssuance, Kind: KindSupply, Mint: mint}
}

// IsIssuance reports whether the account may hold a negative balance.
func (k AccountKey) IsIssuance() bool {
	return k.Scope == AccountScopeIssuance
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.Kind, k.Mint)
	case AccountScopeVault:
		return fmt.Sprintf("vault:%s:%s:%s", k.Entity, k.Kind, k.Mint)
	case AccountScopeIssuance:
		return fmt.Sprintf("issuance:%s", k.Mint)
	}
	return "unknown"
}

func (k AccountKey) String() string {
	return k.AccountPath()
}
