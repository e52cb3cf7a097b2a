package promotion

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

// LineItem is a cart line as supplied by the cart service.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice money.Money
}

// Product is the catalog view the engine needs for scope matching.
type Product struct {
	ID       string
	Name     string
	Category string
	Price    money.Money
}

// Catalog is a read-only product lookup.
type Catalog interface {
	Product(id string) (Product, bool)
}

// MapCatalog is a Catalog backed by a map keyed by product id.
type MapCatalog map[string]Product

// Product implements Catalog.
func (c MapCatalog) Product(id string) (Product, bool) {
	p, ok := c[id]
	return p, ok
}

// NewMapCatalog indexes products by id.
func NewMapCatalog(products ...Product) MapCatalog {
	c := make(MapCatalog, len(products))
	for _, p := range products {
		c[p.ID] = p
	}
	return c
}

// Level is the capacity state of one limited deal.
type Level struct {
	Cap      int
	Consumed int
}

// Remaining returns the units still available.
func (l Level) Remaining() int {
	return max(l.Cap-l.Consumed, 0)
}

// SoldOut reports whether the deal is exhausted.
func (l Level) SoldOut() bool {
	return l.Consumed >= l.Cap
}

// InventorySnapshot is a read-only view of deal capacity keyed by rule id.
type InventorySnapshot map[string]Level

// Context is the immutable input of one evaluation.
type Context struct {
	CustomerID string
	Currency   string
	// Now is the authoritative evaluation instant. Rules never read a clock.
	Now       time.Time
	Items     []LineItem
	Rules     *RuleSet
	Catalog   Catalog
	Inventory InventorySnapshot
}

// NewContext validates line items and merges duplicate product lines that
// share a unit price. Lines keep first-occurrence order.
func NewContext(
	customerID, currency string,
	now time.Time,
	items []LineItem,
	rules *RuleSet,
	catalog Catalog,
	inventory InventorySnapshot,
) (*Context, error) {
	if currency == "" {
		return nil, errors.New("currency is required")
	}
	merged := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &LineError{ProductID: item.ProductID, Err: ErrInvalidQuantity}
		}
		if item.UnitPrice.IsNegative() {
			return nil, &LineError{ProductID: item.ProductID, Err: errors.New("negative unit price")}
		}
		if i, ok := index[item.ProductID]; ok {
			if !merged[i].UnitPrice.Equal(item.UnitPrice) {
				return nil, &LineError{ProductID: item.ProductID, Err: errors.New("conflicting unit prices")}
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	if catalog == nil {
		catalog = MapCatalog{}
	}
	if inventory == nil {
		inventory = InventorySnapshot{}
	}
	return &Context{
		CustomerID: customerID,
		Currency:   currency,
		Now:        now,
		Items:      merged,
		Rules:      rules,
		Catalog:    catalog,
		Inventory:  inventory,
	}, nil
}

// LimitedRuleIDs returns the ids of capacity-limited rules in the set, for
// building an inventory snapshot.
func (s *RuleSet) LimitedRuleIDs() []string {
	var ids []string
	for _, r := range s.Rules() {
		if r.Kind() == KindLimitedQuantityDeal {
			ids = append(ids, r.Info().ID)
		}
	}
	return ids
}

// product resolves a line's catalog entry, falling back to a bare product.
func (c *Context) product(id string) Product {
	if p, ok := c.Catalog.Product(id); ok {
		return p
	}
	return Product{ID: id}
}

// checkCurrencies rejects a context whose lines or rules are priced in a
// different currency.
func (c *Context) checkCurrencies() error {
	for _, item := range c.Items {
		if item.UnitPrice.Currency() != c.Currency {
			return errors.Wrapf(&money.MismatchError{Left: c.Currency, Right: item.UnitPrice.Currency()},
				"line %s", item.ProductID)
		}
	}
	for _, r := range c.Rules.Rules() {
		for _, m := range r.amounts() {
			if m.Currency() != c.Currency {
				return errors.Wrapf(&money.MismatchError{Left: c.Currency, Right: m.Currency()},
					"rule %s", r.Info().ID)
			}
		}
	}
	return nil
}
