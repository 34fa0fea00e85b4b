package state

import (
	fpmath "PerpEngine/internal/math"
	"errors"
)

var (
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrInstructionNotAllowed     = errors.New("instruction not allowed")
	ErrInvalidCollateralCustody  = errors.New("invalid collateral custody")
	ErrMaxPriceSlippage          = errors.New("max price slippage exceeded")
	ErrMaxLeverage               = errors.New("position leverage limit exceeded")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrCustodyAmountLimit        = errors.New("custody amount limit exceeded")
	ErrCannotFoundStake          = errors.New("cannot find stake")
	ErrUnresolvedStake           = errors.New("locked stake has not ended or is unresolved")
	ErrInvalidStakingLockingTime = errors.New("invalid staking locking time")
	ErrStakingRoundNotReady      = errors.New("staking round cannot be resolved yet")
	ErrPositionNotFound          = errors.New("position not found")
	ErrPositionExists            = errors.New("position already exists")
	ErrUnknownPool               = errors.New("unknown pool")
	ErrUnknownCustody            = errors.New("unknown custody")
	ErrInvalidParams             = errors.New("invalid parameters")
	ErrStaleOraclePrice          = errors.New("stale oracle price")
	ErrInvalidOraclePrice        = errors.New("invalid oracle price")

	ErrOverflow  = fpmath.ErrOverflow
	ErrUnderflow = fpmath.ErrUnderflow
)

// ErrorCode maps an error to a stable label for metrics and API responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInstructionNotAllowed):
		return "instruction_not_allowed"
	case errors.Is(err, ErrInvalidCollateralCustody):
		return "invalid_collateral_custody"
	case errors.Is(err, ErrMaxPriceSlippage):
		return "max_price_slippage"
	case errors.Is(err, ErrMaxLeverage):
		return "max_leverage"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrCustodyAmountLimit):
		return "custody_amount_limit"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrUnderflow):
		return "underflow"
	case errors.Is(err, fpmath.ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, ErrCannotFoundStake):
		return "cannot_found_stake"
	case errors.Is(err, ErrUnresolvedStake):
		return "unresolved_stake"
	case errors.Is(err, ErrInvalidStakingLockingTime):
		return "invalid_staking_locking_time"
	case errors.Is(err, ErrStakingRoundNotReady):
		return "staking_round_not_ready"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrPositionExists):
		return "position_exists"
	case errors.Is(err, ErrUnknownPool):
		return "unknown_pool"
	case errors.Is(err, ErrUnknownCustody):
		return "unknown_custody"
	case errors.Is(err, ErrInvalidParams):
		return "invalid_params"
	case errors.Is(err, ErrStaleOraclePrice):
		return "stale_oracle_price"
	case errors.Is(err, ErrInvalidOraclePrice):
		return "invalid_oracle_price"
	default:
		return "internal"
	}
}
