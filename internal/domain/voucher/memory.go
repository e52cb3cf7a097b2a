package voucher

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Voucher
	byCode map[string]uuid.UUID
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]Voucher),
		byCode: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) Create(_ context.Context, vouchers ...*Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vouchers {
		if _, dup := r.byCode[v.Code]; dup {
			return errors.Errorf("duplicate voucher code %q", v.Code)
		}
	}
	for _, v := range vouchers {
		r.byID[v.ID] = *v
		r.byCode[v.Code] = v.ID
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (r *MemoryRepository) GetByCode(ctx context.Context, code string) (*Voucher, error) {
	r.mu.RLock()
	id, ok := r.byCode[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepository) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCode[code]
	return ok, nil
}

func (r *MemoryRepository) Update(_ context.Context, v *Voucher, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[v.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrStateChanged
	}
	r.byID[v.ID] = *v
	return nil
}

func (r *MemoryRepository) Replace(_ context.Context, original, replacement *Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[original.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != StatusLost {
		return ErrStateChanged
	}
	if _, dup := r.byCode[replacement.Code]; dup {
		return errors.Errorf("duplicate voucher code %q", replacement.Code)
	}
	r.byID[original.ID] = *original
	r.byID[replacement.ID] = *replacement
	r.byCode[replacement.Code] = replacement.ID
	return nil
}
