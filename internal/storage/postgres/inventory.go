package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/inventory"
)

const (
	// consumeSQL grants min($2, cap-consumed) under a row lock. No row means
	// the deal is unknown or sold out.
	consumeSQL = `WITH cur AS (
			SELECT rule_id, cap - consumed AS remaining
			FROM promotion_inventory WHERE rule_id = $1 FOR UPDATE
		)
		UPDATE promotion_inventory i
		SET consumed = i.consumed + LEAST($2, cur.remaining)
		FROM cur
		WHERE i.rule_id = cur.rule_id AND cur.remaining > 0
		RETURNING LEAST($2, cur.remaining)`

	inventoryExistsSQL = `SELECT EXISTS (SELECT 1 FROM promotion_inventory WHERE rule_id = $1)`

	releaseSQL = `UPDATE promotion_inventory SET consumed = GREATEST(consumed - $2, 0) WHERE rule_id = $1`

	resetSQL = `UPDATE promotion_inventory SET consumed = 0 WHERE rule_id = $1`

	registerSQL = `INSERT INTO promotion_inventory (rule_id, cap) VALUES ($1, $2)
		ON CONFLICT (rule_id) DO UPDATE SET
			cap = EXCLUDED.cap,
			consumed = LEAST(promotion_inventory.consumed, EXCLUDED.cap)`

	snapshotSQL = `SELECT rule_id, cap, consumed FROM promotion_inventory WHERE rule_id = ANY($1)`
)

var _ inventory.Store = (*InventoryRepository)(nil)

// InventoryRepository keeps deal counters in promotion_inventory. The
// consumed <= cap check constraint backs the conditional update.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) Consume(ctx context.Context, ruleID string, units int) (int, error) {
	if units <= 0 {
		return 0, promotion.ErrInvalidQuantity
	}
	var granted int
	err := r.pool.QueryRow(ctx, consumeSQL, ruleID, units).Scan(&granted)
	switch {
	case err == nil:
		return granted, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, errors.Wrapf(err, "consume %s", ruleID)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, inventoryExistsSQL, ruleID).Scan(&exists); err != nil {
		return 0, errors.Wrapf(err, "consume %s", ruleID)
	}
	if !exists {
		return 0, errors.Wrapf(inventory.ErrUnknownDeal, "rule %q", ruleID)
	}
	return 0, &promotion.SoldOutError{RuleID: ruleID}
}

func (r *InventoryRepository) Release(ctx context.Context, ruleID string, units int) error {
	if units <= 0 {
		return promotion.ErrInvalidQuantity
	}
	return r.exec(ctx, "release", ruleID, releaseSQL, ruleID, units)
}

func (r *InventoryRepository) Reset(ctx context.Context, ruleID string) error {
	return r.exec(ctx, "reset", ruleID, resetSQL, ruleID)
}

// Register sets the cap of a deal. Lowering the cap below consumption clamps
// consumption to the new cap.
func (r *InventoryRepository) Register(ctx context.Context, ruleID string, capacity int) error {
	if capacity < 0 {
		return errors.Errorf("negative capacity %d", capacity)
	}
	if _, err := r.pool.Exec(ctx, registerSQL, ruleID, capacity); err != nil {
		return errors.Wrapf(err, "register %s", ruleID)
	}
	return nil
}

func (r *InventoryRepository) Snapshot(ctx context.Context, ruleIDs ...string) (promotion.InventorySnapshot, error) {
	out := make(promotion.InventorySnapshot, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, snapshotSQL, ruleIDs)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot")
	}
	var (
		id    string
		level promotion.Level
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &level.Cap, &level.Consumed}, func() error {
		out[id] = level
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "snapshot")
	}
	return out, nil
}

func (r *InventoryRepository) exec(ctx context.Context, op, ruleID, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, ruleID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(inventory.ErrUnknownDeal, "rule %q", ruleID)
	}
	return nil
}
