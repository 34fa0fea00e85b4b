package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatch verifies the batch is well-formed and fundable.
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	return v.tracker.CheckBatch(batch)
}

// ValidateGlobalBalance verifies every mint is zero-sum.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for mint, total := range v.tracker.ComputeGlobalBalance() {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", mint, total)
		}
	}
	return nil
}

// ValidateVaultBalance verifies a vault holds exactly what the records
// say it should.
func (v *InvariantValidator) ValidateVaultBalance(key AccountKey, expected uint64) error {
	if err := v.tracker.ValidateNonNegative(key); err != nil {
		return err
	}
	if got := v.tracker.Amount(key); got != expected {
		return fmt.Errorf("vault %s holds %d, records expect %d", key.AccountPath(), got, expected)
	}
	return nil
}
