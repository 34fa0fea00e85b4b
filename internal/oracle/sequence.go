package oracle

// SequenceTracker orders ticks per feed. Stale ticks are rejected and gaps
// are tolerated but counted. Not thread-safe; Feed guards it.
type SequenceTracker struct {
	expectedNext map[string]int64
	gaps         map[string]int64
}

func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{
		expectedNext: make(map[string]int64),
		gaps:         make(map[string]int64),
	}
}

// Advance reports whether seq is new for the feed and moves past it.
func (t *SequenceTracker) Advance(feed string, seq int64) bool {
	expected, seen := t.expectedNext[feed]
	if seen && seq < expected {
		return false
	}
	if seen && seq > expected {
		t.gaps[feed]++
	}
	t.expectedNext[feed] = seq + 1
	return true
}

// Expected returns the next sequence the feed is waiting for.
func (t *SequenceTracker) Expected(feed string) int64 {
	return t.expectedNext[feed]
}

// Restore sets the next expected sequence, used during recovery.
func (t *SequenceTracker) Restore(feed string, next int64) {
	t.expectedNext[feed] = next
}

func (t *SequenceTracker) Gaps(feed string) int64 {
	return t.gaps[feed]
}
