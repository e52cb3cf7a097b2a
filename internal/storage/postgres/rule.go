package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/catalog"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const (
	listActiveRulesSQL = `SELECT id, currency, timezone, definition
		FROM promotion_rules WHERE active = TRUE ORDER BY id`

	upsertRuleSQL = `INSERT INTO promotion_rules (id, kind, priority, currency, timezone, definition)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, priority = EXCLUDED.priority,
			currency = EXCLUDED.currency, timezone = EXCLUDED.timezone,
			definition = EXCLUDED.definition, active = TRUE, updated_at = now()`

	deactivateRuleSQL = `UPDATE promotion_rules SET active = FALSE, updated_at = now() WHERE id = $1`
)

// RuleRepository stores rule definitions as JSONB and decodes them back into
// a validated RuleSet.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

type ruleRow struct {
	ID         string
	Currency   string
	Timezone   string
	Definition []byte
}

// RuleSet loads and validates all active rules.
func (r *RuleRepository) RuleSet(ctx context.Context) (*promotion.RuleSet, error) {
	rows, err := r.pool.Query(ctx, listActiveRulesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	stored, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ruleRow])
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}

	rules := make([]promotion.Rule, 0, len(stored))
	for _, row := range stored {
		loc, err := time.LoadLocation(row.Timezone)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %q timezone", row.ID)
		}
		rule, err := catalog.DecodeRule(row.Definition, catalog.Defaults{Currency: row.Currency, Location: loc})
		if err != nil {
			return nil, errors.Wrapf(err, "rule %q", row.ID)
		}
		rules = append(rules, rule)
	}
	return promotion.NewRuleSet(rules...)
}

// Upsert stores catalog entries, reactivating rules that were deactivated.
func (r *RuleRepository) Upsert(ctx context.Context, defaults catalog.Defaults, entries ...catalog.Entry) error {
	tz := "UTC"
	if defaults.Location != nil {
		tz = defaults.Location.String()
	}
	var batch pgx.Batch
	for _, e := range entries {
		info := e.Rule.Info()
		batch.Queue(upsertRuleSQL, info.ID, string(e.Rule.Kind()), info.Priority, defaults.Currency, tz, e.Definition)
	}
	if err := r.pool.SendBatch(ctx, &batch).Close(); err != nil {
		return errors.Wrap(err, "upsert rules")
	}
	return nil
}

// Deactivate retires a rule. Its terms stay stored for audit.
func (r *RuleRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deactivateRuleSQL, id)
	if err != nil {
		return errors.Wrapf(err, "deactivate rule %q", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(promotion.ErrUnknownRule, "rule %q", id)
	}
	return nil
}
