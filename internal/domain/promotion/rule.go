// Package promotion implements the promotion and pricing rule engine: rule
// definitions, evaluation of a cart snapshot into a priced cart, and the
// inventory-consuming commit of capacity-limited deals.
package promotion

import (
	"slices"
	"sort"
	"time"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

// Kind identifies a rule variant.
type Kind string

const (
	KindFlashSale               Kind = "flash_sale"
	KindAddOnPurchase           Kind = "add_on_purchase"
	KindGiftWithPurchase        Kind = "gift_with_purchase"
	KindBuyNGetN                Kind = "buy_n_get_n"
	KindSpendThresholdDiscount  Kind = "spend_threshold_discount"
	KindTieredSpendDiscount     Kind = "tiered_spend_discount"
	KindSecondItemHalfPrice     Kind = "second_item_half_price"
	KindLimitedQuantityDeal     Kind = "limited_quantity_deal"
	KindConvenienceStoreVoucher Kind = "convenience_store_voucher"
)

// Stage is the evaluation phase a rule kind belongs to. Stages run in
// ascending order.
type Stage int

const (
	// StageItem rules reprice individual line items; at most one wins per line.
	StageItem Stage = iota
	// StageCart rules discount the post-item total; at most one wins per cart.
	StageCart
	// StageAdditive rules add gifts or vouchers and never change prices.
	StageAdditive
)

// Stage returns the evaluation stage of the kind.
func (k Kind) Stage() Stage {
	switch k {
	case KindSpendThresholdDiscount, KindTieredSpendDiscount:
		return StageCart
	case KindGiftWithPurchase, KindConvenienceStoreVoucher:
		return StageAdditive
	default:
		return StageItem
	}
}

// Window is an activation period. Zero Start or End means unbounded on that
// side. Bounds are inclusive and compared in Location.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// Contains reports whether now falls within the window.
func (w Window) Contains(now time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	if !w.Start.IsZero() && t.Before(w.Start.In(loc)) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End.In(loc)) {
		return false
	}
	return true
}

// Scope restricts a rule to products or a category. The zero Scope matches
// every product.
type Scope struct {
	ProductIDs []string
	Category   string
}

// IsZero reports whether the scope is unrestricted.
func (s Scope) IsZero() bool {
	return len(s.ProductIDs) == 0 && s.Category == ""
}

// Matches reports whether the product falls within the scope.
func (s Scope) Matches(p Product) bool {
	if s.IsZero() {
		return true
	}
	if slices.Contains(s.ProductIDs, p.ID) {
		return true
	}
	return s.Category != "" && p.Category == s.Category
}

// Base holds the attributes every rule carries.
type Base struct {
	ID       string
	Name     string
	Priority int
	Window   Window
	Scope    Scope
}

// Info returns the common attributes.
func (b Base) Info() Base { return b }

func (b Base) validate() error {
	if b.ID == "" {
		return invalid(b.ID, "empty rule id")
	}
	if !b.Window.Start.IsZero() && !b.Window.End.IsZero() && b.Window.End.Before(b.Window.Start) {
		return invalid(b.ID, "window ends before it starts")
	}
	return nil
}

// Rule is a closed sum type over the promotion variants declared in this
// package.
type Rule interface {
	Info() Base
	Kind() Kind
	// Validate rejects malformed configuration with an *InvalidRuleError.
	Validate() error

	amounts() []money.Money
	isRule()
}

// RuleSet is a validated, immutable collection of rules.
type RuleSet struct {
	rules []Rule
	byID  map[string]Rule
}

// NewRuleSet validates every rule and rejects duplicate ids.
func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	s := &RuleSet{
		rules: make([]Rule, 0, len(rules)),
		byID:  make(map[string]Rule, len(rules)),
	}
	for _, r := range rules {
		if r == nil {
			return nil, invalid("", "nil rule")
		}
		switch r.(type) {
		case FlashSale, AddOnPurchase, GiftWithPurchase, BuyNGetN, SpendThresholdDiscount,
			TieredSpendDiscount, SecondItemHalfPrice, LimitedQuantityDeal, ConvenienceStoreVoucher:
		default:
			return nil, invalid(r.Info().ID, "unsupported rule type %T", r)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		id := r.Info().ID
		if _, dup := s.byID[id]; dup {
			return nil, invalid(id, "duplicate rule id")
		}
		s.byID[id] = r
		s.rules = append(s.rules, r)
	}
	return s, nil
}

// Rules returns the rules in load order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return slices.Clone(s.rules)
}

// Get returns the rule with the given id.
func (s *RuleSet) Get(id string) (Rule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.byID[id]
	return r, ok
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// byPrecedence orders rules by descending priority, then ascending id.
func byPrecedence(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i].Info(), rules[j].Info()
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
}
