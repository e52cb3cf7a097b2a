package app

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-promotions/internal/catalog"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/inventory"
	"github.com/xenking/kart-promotions/internal/storage/postgres"
)

// LoadFunc fetches the active rules and product catalog.
type LoadFunc func(ctx context.Context) (*promotion.RuleSet, promotion.MapCatalog, error)

// PostgresLoader reads active rules and products from the database.
func PostgresLoader(rules *postgres.RuleRepository, products *postgres.ProductRepository) LoadFunc {
	return func(ctx context.Context) (*promotion.RuleSet, promotion.MapCatalog, error) {
		set, err := rules.RuleSet(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "load rules")
		}
		cat, err := products.Catalog(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "load products")
		}
		return set, cat, nil
	}
}

// FileLoader reads a rule catalog file on every load.
func FileLoader(path string) LoadFunc {
	return func(context.Context) (*promotion.RuleSet, promotion.MapCatalog, error) {
		c, err := catalog.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		set, err := c.RuleSet()
		if err != nil {
			return nil, nil, err
		}
		return set, promotion.NewMapCatalog(c.Products...), nil
	}
}

// Source caches the loaded rules for ttl and registers deal caps in the
// inventory store after every load. A failed refresh keeps serving the last
// good rules. Zero ttl caches forever.
type Source struct {
	load  LoadFunc
	store inventory.Store
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu       sync.RWMutex
	rules    *promotion.RuleSet
	catalog  promotion.MapCatalog
	loadedAt time.Time
}

// NewSource creates a Source.
func NewSource(load LoadFunc, store inventory.Store, ttl time.Duration) *Source {
	return &Source{load: load, store: store, ttl: ttl, now: time.Now}
}

type loaded struct {
	rules   *promotion.RuleSet
	catalog promotion.MapCatalog
}

func (s *Source) Load(ctx context.Context) (*promotion.RuleSet, promotion.MapCatalog, error) {
	s.mu.RLock()
	rules, cat, fresh := s.rules, s.catalog, s.fresh()
	s.mu.RUnlock()
	if fresh {
		return rules, cat, nil
	}

	v, err, _ := s.group.Do("load", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		if rules == nil {
			return nil, nil, err
		}
		zctx.From(ctx).Warn("Rule refresh failed, serving cached rules", zap.Error(err))
		return rules, cat, nil
	}
	l := v.(loaded)
	return l.rules, l.catalog, nil
}

// Snapshot reads deal levels from the inventory store.
func (s *Source) Snapshot(ctx context.Context, ruleIDs ...string) (promotion.InventorySnapshot, error) {
	return s.store.Snapshot(ctx, ruleIDs...)
}

// Ping reports whether rules can be served.
func (s *Source) Ping(ctx context.Context) error {
	_, _, err := s.Load(ctx)
	return err
}

func (s *Source) fresh() bool {
	if s.rules == nil {
		return false
	}
	return s.ttl == 0 || s.now().Sub(s.loadedAt) < s.ttl
}

func (s *Source) refresh(ctx context.Context) (loaded, error) {
	rules, cat, err := s.load(ctx)
	if err != nil {
		return loaded{}, err
	}
	if err := inventory.Sync(ctx, s.store, rules); err != nil {
		return loaded{}, errors.Wrap(err, "register deal caps")
	}

	s.mu.Lock()
	s.rules, s.catalog, s.loadedAt = rules, cat, s.now()
	s.mu.Unlock()

	zctx.From(ctx).Debug("Rules loaded", zap.Int("rules", rules.Len()), zap.Int("products", len(cat)))
	return loaded{rules: rules, catalog: cat}, nil
}
