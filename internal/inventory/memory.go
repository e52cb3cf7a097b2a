// Package inventory implements promotion.Inventory backends: an in-process
// arena of atomic counters and a Redis backend for multi-instance
// deployments.
package inventory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// ErrUnknownDeal is returned for rule ids that were never registered.
var ErrUnknownDeal = errors.New("unknown limited deal")

type record struct {
	cap      atomic.Int64
	consumed atomic.Int64
}

// Memory is an arena of per-rule counters. Consume is a compare-and-swap
// loop, so consumed never exceeds cap regardless of concurrency.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewMemory returns an empty arena.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*record)}
}

// Register sets the cap of a deal, keeping consumption of an existing record.
func (m *Memory) Register(_ context.Context, ruleID string, capacity int) error {
	if capacity < 0 {
		return errors.Errorf("negative capacity %d", capacity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ruleID]
	if !ok {
		rec = &record{}
		m.records[ruleID] = rec
	}
	rec.cap.Store(int64(capacity))
	return nil
}

// Reset zeroes consumption of a deal.
func (m *Memory) Reset(_ context.Context, ruleID string) error {
	rec, err := m.record(ruleID)
	if err != nil {
		return err
	}
	rec.consumed.Store(0)
	return nil
}

func (m *Memory) Consume(_ context.Context, ruleID string, units int) (int, error) {
	if units <= 0 {
		return 0, promotion.ErrInvalidQuantity
	}
	rec, err := m.record(ruleID)
	if err != nil {
		return 0, err
	}
	for {
		consumed := rec.consumed.Load()
		left := rec.cap.Load() - consumed
		if left <= 0 {
			return 0, &promotion.SoldOutError{RuleID: ruleID}
		}
		n := min(int64(units), left)
		if rec.consumed.CompareAndSwap(consumed, consumed+n) {
			return int(n), nil
		}
	}
}

func (m *Memory) Release(_ context.Context, ruleID string, units int) error {
	if units <= 0 {
		return promotion.ErrInvalidQuantity
	}
	rec, err := m.record(ruleID)
	if err != nil {
		return err
	}
	for {
		consumed := rec.consumed.Load()
		if rec.consumed.CompareAndSwap(consumed, max(consumed-int64(units), 0)) {
			return nil
		}
	}
}

// Snapshot reads the levels of the given deals. Unknown ids are omitted.
func (m *Memory) Snapshot(_ context.Context, ruleIDs ...string) (promotion.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(promotion.InventorySnapshot, len(ruleIDs))
	for _, id := range ruleIDs {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		out[id] = promotion.Level{Cap: int(rec.cap.Load()), Consumed: int(rec.consumed.Load())}
	}
	return out, nil
}

func (m *Memory) record(ruleID string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[ruleID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDeal, "rule %q", ruleID)
	}
	return rec, nil
}
