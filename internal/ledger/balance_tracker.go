package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrAccountNotEmpty     = errors.New("closed account is not empty")
	ErrBalanceOverflow     = errors.New("token balance overflow")
)

// BalanceTracker maintains in-memory token account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// Amount returns a non-issuance balance as a token amount.
func (bt *BalanceTracker) Amount(key AccountKey) uint64 {
	if b := bt.balances[key]; b > 0 {
		return uint64(b)
	}
	return 0
}

// Supply returns the circulating supply of mint.
func (bt *BalanceTracker) Supply(mint string) uint64 {
	if b := bt.balances[Issuance(mint)]; b < 0 {
		return uint64(-b)
	}
	return 0
}

// CheckBatch reports whether ApplyBatch would succeed without changing
// any balance.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	_, err := bt.simulate(batch)
	return err
}

// ApplyBatch applies all journals in a batch or none of them.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	next, err := bt.simulate(batch)
	if err != nil {
		return err
	}
	for key, balance := range next {
		if balance == 0 {
			delete(bt.balances, key)
			continue
		}
		bt.balances[key] = balance
	}
	return nil
}

// simulate replays the batch over the touched accounts and returns their
// resulting balances.
func (bt *BalanceTracker) simulate(batch *Batch) (map[AccountKey]int64, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	next := make(map[AccountKey]int64, 2*len(batch.Journals))
	balance := func(key AccountKey) int64 {
		if v, ok := next[key]; ok {
			return v
		}
		return bt.balances[key]
	}

	for _, j := range batch.Journals {
		amount := int64(j.Amount)

		from := balance(j.CreditAccount)
		if from < math.MinInt64+amount {
			return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, j.CreditAccount)
		}
		from -= amount
		if from < 0 && !j.CreditAccount.IsIssuance() {
			return nil, fmt.Errorf("%w: %s has %d, needs %d",
				ErrInsufficientBalance, j.CreditAccount, from+amount, amount)
		}
		if j.JournalType == JournalTypeCloseAccount && from != 0 {
			return nil, fmt.Errorf("%w: %s keeps %d", ErrAccountNotEmpty, j.CreditAccount, from)
		}

		to := balance(j.DebitAccount)
		if to > math.MaxInt64-amount {
			return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, j.DebitAccount)
		}

		next[j.CreditAccount] = from
		next[j.DebitAccount] = to + amount
	}
	return next, nil
}

// ComputeGlobalBalance sums all account balances per mint (should be 0 for
// a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]int64 {
	totals := make(map[string]int64)
	for key, balance := range bt.balances {
		totals[key.Mint] += balance
	}
	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// BalanceEntry is one account balance in a snapshot.
type BalanceEntry struct {
	Account AccountKey `json:"account"`
	Balance int64      `json:"balance"`
}

// Entries returns all non-zero balances ordered by account path.
func (bt *BalanceTracker) Entries() []BalanceEntry {
	entries := make([]BalanceEntry, 0, len(bt.balances))
	for k, v := range bt.balances {
		entries = append(entries, BalanceEntry{Account: k, Balance: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Account.AccountPath() < entries[j].Account.AccountPath()
	})
	return entries
}

// Restore replaces every balance with the given entries.
func (bt *BalanceTracker) Restore(entries []BalanceEntry) {
	bt.balances = make(map[AccountKey]int64, len(entries))
	for _, e := range entries {
		if e.Balance != 0 {
			bt.balances[e.Account] = e.Balance
		}
	}
}
