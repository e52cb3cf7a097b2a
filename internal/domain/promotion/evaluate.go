package promotion

import (
	"fmt"
	"maps"
	"sort"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

// evalOptions adjusts a single evaluation pass.
type evalOptions struct {
	// allowed restricts the rule set; nil admits every rule.
	allowed map[string]struct{}
	// inventory overrides the context snapshot; nil uses the context's.
	inventory InventorySnapshot
}

// outcome is a priced cart plus the deal units it assumes are reservable.
type outcome struct {
	cart *PricedCart
	// dealUnits maps limited-deal rule ids to units priced at the sale price.
	dealUnits map[string]int
}

type line struct {
	item     LineItem
	product  Product
	ruleID   string
	segments []Segment
	notice   string
}

func (l *line) price(ruleID string, segments ...Segment) {
	l.ruleID = ruleID
	l.segments = l.segments[:0]
	for _, s := range segments {
		if s.Quantity > 0 {
			l.segments = append(l.segments, s)
		}
	}
}

type evaluation struct {
	pc        *Context
	inventory InventorySnapshot
	lines     []*line
	byProduct map[string]*line
	dealUnits map[string]int
}

// evaluate runs CollectApplicable, ResolveConflicts, ComputeAdjustments and
// AssembleResult over the context. It never mutates inventory.
func evaluate(pc *Context, opts evalOptions) (*outcome, error) {
	if err := pc.checkCurrencies(); err != nil {
		return nil, err
	}

	ev := &evaluation{
		pc:        pc,
		inventory: pc.Inventory,
		lines:     make([]*line, len(pc.Items)),
		byProduct: make(map[string]*line, len(pc.Items)),
		dealUnits: make(map[string]int),
	}
	if opts.inventory != nil {
		ev.inventory = opts.inventory
	}
	for i, item := range pc.Items {
		l := &line{
			item:     item,
			product:  pc.product(item.ProductID),
			segments: []Segment{{Quantity: item.Quantity, UnitPrice: item.UnitPrice}},
		}
		ev.lines[i] = l
		ev.byProduct[item.ProductID] = l
	}

	// CollectApplicable: window and selection filter, grouped by stage.
	var itemRules, cartRules, additiveRules []Rule
	for _, r := range pc.Rules.Rules() {
		info := r.Info()
		if opts.allowed != nil {
			if _, ok := opts.allowed[info.ID]; !ok {
				continue
			}
		}
		if !info.Window.Contains(pc.Now) {
			continue
		}
		switch r.Kind().Stage() {
		case StageItem:
			itemRules = append(itemRules, r)
		case StageCart:
			cartRules = append(cartRules, r)
		case StageAdditive:
			additiveRules = append(additiveRules, r)
		}
	}

	// ResolveConflicts: precedence order, first rule to claim a line wins it.
	byPrecedence(itemRules)
	byPrecedence(cartRules)
	byPrecedence(additiveRules)

	// ComputeAdjustments.
	var applied []string
	for _, r := range itemRules {
		if ev.applyItemRule(r) {
			applied = append(applied, r.Info().ID)
		}
	}

	cart, err := ev.assemble()
	if err != nil {
		return nil, err
	}

	if err := ev.applyCartRules(cart, cartRules); err != nil {
		return nil, err
	}
	if cart.CartDiscount != nil {
		applied = append(applied, cart.CartDiscount.RuleID)
	}

	for _, r := range additiveRules {
		if ev.applyAdditiveRule(cart, r) {
			applied = append(applied, r.Info().ID)
		}
	}
	cart.AppliedRules = applied

	return &outcome{cart: cart, dealUnits: ev.dealUnits}, nil
}

// unclaimed returns the line for productID if no rule has priced it yet.
func (ev *evaluation) unclaimed(productID string) *line {
	l, ok := ev.byProduct[productID]
	if !ok || l.ruleID != "" {
		return nil
	}
	return l
}

func (ev *evaluation) applyItemRule(r Rule) bool {
	switch r := r.(type) {
	case FlashSale:
		return ev.flashSale(r)
	case AddOnPurchase:
		return ev.addOnPurchase(r)
	case BuyNGetN:
		return ev.buyNGetN(r)
	case LimitedQuantityDeal:
		return ev.limitedQuantityDeal(r)
	case SecondItemHalfPrice:
		return ev.secondItemHalfPrice(r)
	default:
		return false
	}
}

func (ev *evaluation) flashSale(r FlashSale) bool {
	l := ev.unclaimed(r.ProductID)
	if l == nil {
		return false
	}
	l.price(r.ID, Segment{Quantity: l.item.Quantity, UnitPrice: lower(r.SalePrice, l.item.UnitPrice)})
	return true
}

func (ev *evaluation) addOnPurchase(r AddOnPurchase) bool {
	main, ok := ev.byProduct[r.MainProductID]
	if !ok {
		return false
	}
	l := ev.unclaimed(r.AddOnProductID)
	if l == nil {
		return false
	}
	special := min(l.item.Quantity, main.item.Quantity)
	l.price(r.ID,
		Segment{Quantity: special, UnitPrice: lower(r.SpecialPrice, l.item.UnitPrice)},
		Segment{Quantity: l.item.Quantity - special, UnitPrice: l.item.UnitPrice},
	)
	return true
}

func (ev *evaluation) buyNGetN(r BuyNGetN) bool {
	l := ev.unclaimed(r.ProductID)
	if l == nil || l.item.Quantity < r.Buy {
		return false
	}
	chargeable, free := r.Split(l.item.Quantity)
	if free == 0 {
		return false
	}
	l.price(r.ID,
		Segment{Quantity: chargeable, UnitPrice: l.item.UnitPrice},
		Segment{Quantity: free, UnitPrice: money.Zero(ev.pc.Currency), Gift: true},
	)
	return true
}

func (ev *evaluation) limitedQuantityDeal(r LimitedQuantityDeal) bool {
	l := ev.unclaimed(r.ProductID)
	if l == nil {
		return false
	}
	level, ok := ev.inventory[r.ID]
	if !ok {
		return false
	}
	if level.SoldOut() {
		if l.notice == "" {
			l.notice = NoticeDealSoldOut
		}
		return false
	}
	units := min(l.item.Quantity, level.Remaining())
	l.price(r.ID,
		Segment{Quantity: units, UnitPrice: lower(r.SalePrice, l.item.UnitPrice)},
		Segment{Quantity: l.item.Quantity - units, UnitPrice: l.item.UnitPrice},
	)
	if units < l.item.Quantity {
		l.notice = NoticeDealPartialFill
	}
	ev.dealUnits[r.ID] += units
	return true
}

// secondItemHalfPrice halves the unit ranked second by price among the
// unclaimed in-scope units. Equal prices keep cart order.
func (ev *evaluation) secondItemHalfPrice(r SecondItemHalfPrice) bool {
	var candidates []*line
	units := 0
	for _, l := range ev.lines {
		if l.ruleID != "" || !r.Scope.Matches(l.product) {
			continue
		}
		candidates = append(candidates, l)
		units += l.item.Quantity
	}
	if units < 2 {
		return false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].item.UnitPrice.Amount().GreaterThan(candidates[j].item.UnitPrice.Amount())
	})

	target := candidates[0]
	if target.item.Quantity < 2 {
		target = candidates[1]
	}
	unit := target.item.UnitPrice
	target.price(r.ID,
		Segment{Quantity: 1, UnitPrice: unit.Half()},
		Segment{Quantity: target.item.Quantity - 1, UnitPrice: unit},
	)
	return true
}

// assemble builds priced lines and totals from the item stage.
func (ev *evaluation) assemble() (*PricedCart, error) {
	currency := ev.pc.Currency
	cart := &PricedCart{
		CustomerID:  ev.pc.CustomerID,
		Currency:    currency,
		EvaluatedAt: ev.pc.Now,
		Lines:       make([]PricedLine, 0, len(ev.lines)),
	}

	subtotal, itemTotal := money.Zero(currency), money.Zero(currency)
	for _, l := range ev.lines {
		pl := PricedLine{
			ProductID: l.item.ProductID,
			Quantity:  l.item.Quantity,
			UnitPrice: l.item.UnitPrice,
			Segments:  append([]Segment(nil), l.segments...),
			Subtotal:  l.item.UnitPrice.Mul(l.item.Quantity),
			RuleID:    l.ruleID,
			Notice:    l.notice,
		}
		total := money.Zero(currency)
		for _, s := range pl.Segments {
			var err error
			if total, err = total.Add(s.Total()); err != nil {
				return nil, err
			}
		}
		pl.Total = total.Round()
		discount, err := pl.Subtotal.Sub(pl.Total)
		if err != nil {
			return nil, err
		}
		pl.Discount = discount

		if subtotal, err = subtotal.Add(pl.Subtotal); err != nil {
			return nil, err
		}
		if itemTotal, err = itemTotal.Add(pl.Total); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, pl)
	}

	cart.Subtotal = subtotal
	cart.ItemTotal = itemTotal
	cart.Total = itemTotal
	cart.Discount = money.Zero(currency)
	if d, err := subtotal.Sub(itemTotal); err == nil {
		cart.Discount = d
	}
	return cart, nil
}

// scopedTotal sums post-item line totals within scope.
func (ev *evaluation) scopedTotal(cart *PricedCart, scope Scope) money.Money {
	if scope.IsZero() {
		return cart.ItemTotal
	}
	total := money.Zero(cart.Currency)
	for i, pl := range cart.Lines {
		if scope.Matches(ev.lines[i].product) {
			if t, err := total.Add(pl.Total); err == nil {
				total = t
			}
		}
	}
	return total
}

// applyCartRules selects at most one cart-level discount: highest priority
// first, then the larger discount, then the lower rule id.
func (ev *evaluation) applyCartRules(cart *PricedCart, rules []Rule) error {
	var (
		best     *CartDiscount
		bestPrio int
	)
	for _, r := range rules {
		var d money.Money
		switch r := r.(type) {
		case SpendThresholdDiscount:
			d = r.discount(ev.scopedTotal(cart, r.Scope))
		case TieredSpendDiscount:
			base := ev.scopedTotal(cart, r.Scope)
			d = r.discount(base)
			if h, ok := tierHint(r, base); ok {
				cart.Hints = append(cart.Hints, h)
			}
		default:
			continue
		}
		if !d.IsPositive() {
			continue
		}
		prio := r.Info().Priority
		switch {
		case best == nil:
		case prio == bestPrio && d.Amount().GreaterThan(best.Amount.Amount()):
		default:
			continue
		}
		best, bestPrio = &CartDiscount{RuleID: r.Info().ID, Amount: d}, prio
	}
	if best == nil {
		return nil
	}

	amount, err := best.Amount.Min(cart.ItemTotal)
	if err != nil {
		return err
	}
	best.Amount = amount
	total, err := cart.ItemTotal.Sub(amount)
	if err != nil {
		return err
	}
	cart.CartDiscount = best
	cart.Total = total.FloorAtZero()
	discount, err := cart.Subtotal.Sub(cart.Total)
	if err != nil {
		return err
	}
	cart.Discount = discount
	return nil
}

// tierHint reports the amount needed to reach the next tier, if any.
func tierHint(r TieredSpendDiscount, base money.Money) (Hint, bool) {
	next := r.tierFor(base) + 1
	if next >= len(r.Tiers) {
		return Hint{}, false
	}
	tier := r.Tiers[next]
	needed, err := tier.Min.Sub(base)
	if err != nil {
		return Hint{}, false
	}
	return Hint{
		RuleID:       r.ID,
		AmountNeeded: needed,
		NextDiscount: tier.Discount,
		Message:      fmt.Sprintf("spend %s more to save %s", needed, tier.Discount),
	}, true
}

func (ev *evaluation) applyAdditiveRule(cart *PricedCart, r Rule) bool {
	switch r := r.(type) {
	case GiftWithPurchase:
		n := r.giftCount(ev.scopedTotal(cart, r.Scope))
		if n == 0 {
			return false
		}
		cart.Gifts = append(cart.Gifts, GiftLine{
			RuleID:       r.ID,
			ProductID:    r.GiftProductID,
			Quantity:     n,
			DisplayValue: r.GiftValue,
			Price:        money.Zero(cart.Currency),
		})
		return true
	case ConvenienceStoreVoucher:
		if !ev.inScope(r.Scope) {
			return false
		}
		cart.Vouchers = append(cart.Vouchers, VoucherGrant{
			RuleID:    r.ID,
			Quantity:  r.QuantityPerPurchase,
			FaceValue: r.FaceValue,
		})
		return true
	default:
		return false
	}
}

func (ev *evaluation) inScope(scope Scope) bool {
	if scope.IsZero() {
		return len(ev.lines) > 0
	}
	for _, l := range ev.lines {
		if scope.Matches(l.product) {
			return true
		}
	}
	return false
}

// lower returns the smaller amount; currencies are checked up front.
func lower(a, b money.Money) money.Money {
	if a.Amount().LessThan(b.Amount()) {
		return a
	}
	return b
}

func cloneSnapshot(s InventorySnapshot) InventorySnapshot {
	if s == nil {
		return InventorySnapshot{}
	}
	return maps.Clone(s)
}
