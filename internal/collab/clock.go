package collab

import (
	"sync"
	"time"
)

// Clock supplies the current time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// MockClock is a settable clock for tests and replays.
type MockClock struct {
	mu  sync.Mutex
	now int64
}

func NewMockClock(now int64) *MockClock {
	return &MockClock{now: now}
}

func (c *MockClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += int64(d / time.Second)
	c.mu.Unlock()
}
