package inventory

import (
	"context"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// Store is an inventory backend with the administration operations used by
// seeding and the read path used by quoting.
type Store interface {
	promotion.Inventory
	Register(ctx context.Context, ruleID string, capacity int) error
	Reset(ctx context.Context, ruleID string) error
	Snapshot(ctx context.Context, ruleIDs ...string) (promotion.InventorySnapshot, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)

// Sync registers the cap of every limited deal in set.
func Sync(ctx context.Context, s Store, set *promotion.RuleSet) error {
	for _, r := range set.Rules() {
		deal, ok := r.(promotion.LimitedQuantityDeal)
		if !ok {
			continue
		}
		if err := s.Register(ctx, deal.ID, deal.Cap); err != nil {
			return err
		}
	}
	return nil
}
