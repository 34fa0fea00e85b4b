package projection

import (
	"PerpEngine/internal/state"
	"sync"

	"github.com/google/uuid"
)

// FeeHistoryEntry is one collected trading fee and how it was routed.
type FeeHistoryEntry struct {
	Sequence     int64
	EventType    string
	Owner        uuid.UUID
	CustodyID    string
	Mint         string
	Amount       uint64
	AmountUSD    uint64
	Distribution state.FeeDistribution
	LMRewards    uint64
	Timestamp    int64
}

// FeeEntryFrom extracts the fee record of an update, if it carries one.
func FeeEntryFrom(u Update) (FeeHistoryEntry, bool) {
	if u.Outcome == nil || u.Outcome.Fee == nil {
		return FeeHistoryEntry{}, false
	}
	f := u.Outcome.Fee
	return FeeHistoryEntry{
		Sequence:     u.Sequence,
		EventType:    u.EventType,
		Owner:        u.Outcome.Owner,
		CustodyID:    f.CustodyID,
		Mint:         f.Mint,
		Amount:       f.Amount,
		AmountUSD:    f.AmountUSD,
		Distribution: f.Distribution,
		LMRewards:    f.LMRewards,
		Timestamp:    u.Timestamp,
	}, true
}

// FeeHistory keeps the most recent fee entries in memory for the live
// query API. Older entries are served from projections.fee_history.
type FeeHistory struct {
	mu       sync.RWMutex
	capacity int
	entries  []FeeHistoryEntry
}

func NewFeeHistory(capacity int) *FeeHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &FeeHistory{
		capacity: capacity,
		entries:  make([]FeeHistoryEntry, 0, capacity),
	}
}

// Add records a fee, evicting the oldest entry when full.
func (h *FeeHistory) Add(entry FeeHistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, entry)
}

// Recent returns up to limit entries, newest first. An empty custodyID
// matches every custody.
func (h *FeeHistory) Recent(custodyID string, limit int) []FeeHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]FeeHistoryEntry, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if custodyID == "" || h.entries[i].CustodyID == custodyID {
			result = append(result, h.entries[i])
		}
	}
	return result
}

// ByOwner returns up to limit entries paid by owner, newest first.
func (h *FeeHistory) ByOwner(owner uuid.UUID, limit int) []FeeHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]FeeHistoryEntry, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if h.entries[i].Owner == owner {
			result = append(result, h.entries[i])
		}
	}
	return result
}
