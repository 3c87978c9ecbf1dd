package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/clock"
)

type memoryItem[V any] struct {
	value    V
	storedAt time.Time
}

// Memory is a thread-safe in-process map whose entries expire after a TTL.
// Expired entries are invisible to Get and swept periodically.
type Memory[V any] struct {
	mu        sync.RWMutex
	items     map[string]*memoryItem[V]
	ttl       time.Duration
	clock     clock.Clock
	logger    *zap.Logger
	stopChan  chan struct{}
	cleanupWg sync.WaitGroup
	stopOnce  sync.Once
}

// NewMemory creates a cache with TTL-based expiration. A non-positive
// sweepEvery disables the background sweep.
func NewMemory[V any](ttl, sweepEvery time.Duration, clk clock.Clock, logger *zap.Logger) *Memory[V] {
	m := &Memory[V]{
		items:    make(map[string]*memoryItem[V]),
		ttl:      ttl,
		clock:    clk,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	if sweepEvery > 0 {
		m.cleanupWg.Add(1)
		go m.cleanupLoop(sweepEvery)
	}
	return m
}

func (m *Memory[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = &memoryItem[V]{value: value, storedAt: m.clock.Now()}
}

// Get returns the value for key if present and not expired
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V
	item, ok := m.items[key]
	if !ok || m.expired(item, m.clock.Now()) {
		return zero, false
	}
	return item.value, true
}

func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
}

func (m *Memory[V]) expired(item *memoryItem[V], now time.Time) bool {
	return m.ttl > 0 && now.Sub(item.storedAt) > m.ttl
}

func (m *Memory[V]) cleanupLoop(every time.Duration) {
	defer m.cleanupWg.Done()

	ticker := m.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Memory[V]) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, item := range m.items {
		if m.expired(item, now) {
			delete(m.items, key)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("Cleaned up expired cache entries", zap.Int("count", removed))
	}
	return removed
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (m *Memory[V]) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.cleanupWg.Wait()
	})
}

func (m *Memory[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memoryItem[V])
}
