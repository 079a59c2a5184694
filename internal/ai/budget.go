package ai

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned when a meter key has used its token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// UsageMeter checks and records token usage per key.
type UsageMeter interface {
	// Check returns true if key has budget remaining.
	Check(key string) (bool, error)
	// Record adds tokens to key's usage.
	Record(key string, tokens int) error
	// Usage returns current usage and the budget for key. A zero budget
	// means unlimited.
	Usage(key string) (used int64, budget int64, err error)
	// Reset forgets everything recorded for key.
	Reset(key string)
}

// InMemoryMeter is an in-process usage meter with a single per-key limit.
type InMemoryMeter struct {
	mu    sync.RWMutex
	limit int64
	usage map[string]int64
}

// NewInMemoryMeter creates a meter allowing limit tokens per key. Zero or
// negative means unlimited.
func NewInMemoryMeter(limit int64) *InMemoryMeter {
	if limit < 0 {
		limit = 0
	}
	return &InMemoryMeter{
		limit: limit,
		usage: make(map[string]int64),
	}
}

func (m *InMemoryMeter) Check(key string) (bool, error) {
	if m.limit == 0 {
		return true, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[key] < m.limit, nil
}

func (m *InMemoryMeter) Record(key string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[key] += int64(tokens)
	return nil
}

func (m *InMemoryMeter) Usage(key string) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[key], m.limit, nil
}

func (m *InMemoryMeter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, key)
}
