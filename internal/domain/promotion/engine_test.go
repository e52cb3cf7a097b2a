package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

// --- Mock implementations ---

type mockInventory struct {
	mu        sync.Mutex
	remaining map[string]int
	released  map[string]int
	err       error
}

func newMockInventory(remaining map[string]int) *mockInventory {
	return &mockInventory{remaining: remaining, released: make(map[string]int)}
}

func (m *mockInventory) Consume(_ context.Context, ruleID string, units int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	left := m.remaining[ruleID]
	if left == 0 {
		return 0, &SoldOutError{RuleID: ruleID}
	}
	n := min(units, left)
	m.remaining[ruleID] -= n
	return n, nil
}

func (m *mockInventory) Release(_ context.Context, ruleID string, units int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining[ruleID] += units
	m.released[ruleID] += units
	return nil
}

// --- Helpers ---

var (
	saleStart = time.Date(2026, 5, 1, 10, 0, 0, 0, gmt8)
	saleEnd   = time.Date(2026, 5, 1, 12, 0, 0, 0, gmt8)
)

func newEngine(t *testing.T, inv Inventory) *Engine {
	t.Helper()
	if inv == nil {
		inv = newMockInventory(map[string]int{})
	}
	e, err := NewEngine(inv, Options{})
	require.NoError(t, err)
	return e
}

func newContext(t *testing.T, now time.Time, items []LineItem, inventory InventorySnapshot, rules ...Rule) *Context {
	t.Helper()
	set, err := NewRuleSet(rules...)
	require.NoError(t, err)
	catalog := NewMapCatalog(
		Product{ID: "speaker", Category: "audio"},
		Product{ID: "iphone", Category: "phones"},
		Product{ID: "airpods", Category: "audio"},
		Product{ID: "runner", Category: "shoes"},
		Product{ID: "loafer", Category: "shoes"},
		Product{ID: "sandal", Category: "shoes"},
	)
	pc, err := NewContext("cust-1", "USD", now, items, set, catalog, inventory)
	require.NoError(t, err)
	return pc
}

func speakerFlashSale() FlashSale {
	return FlashSale{
		Base: Base{
			ID:     "speaker-flash",
			Name:   "Bluetooth Speaker flash sale",
			Window: Window{Start: saleStart, End: saleEnd, Location: gmt8},
		},
		ProductID:    "speaker",
		SalePrice:    usd("79"),
		RegularPrice: usd("129"),
	}
}

func limitedDeal(cap int) LimitedQuantityDeal {
	return LimitedQuantityDeal{
		Base:         Base{ID: "speaker-limited", Priority: 10},
		ProductID:    "speaker",
		SalePrice:    usd("59"),
		RegularPrice: usd("129"),
		Cap:          cap,
	}
}

// --- Tests ---

func TestQuote_FlashSaleWindow(t *testing.T) {
	e := newEngine(t, nil)
	items := []LineItem{{ProductID: "speaker", Quantity: 1, UnitPrice: usd("129")}}

	inWindow := newContext(t, time.Date(2026, 5, 1, 10, 0, 0, 0, gmt8), items, nil, speakerFlashSale())
	cart, err := e.Quote(context.Background(), inWindow)
	require.NoError(t, err)
	assert.True(t, cart.Total.Equal(usd("79")), "got %s", cart.Total)
	assert.Equal(t, []string{"speaker-flash"}, cart.AppliedRules)

	afterWindow := newContext(t, time.Date(2026, 5, 1, 13, 0, 0, 0, gmt8), items, nil, speakerFlashSale())
	cart, err = e.Quote(context.Background(), afterWindow)
	require.NoError(t, err)
	assert.True(t, cart.Total.Equal(usd("129")), "got %s", cart.Total)
	assert.Empty(t, cart.AppliedRules)
}

func TestQuote_AddOnPurchase(t *testing.T) {
	rule := AddOnPurchase{
		Base:           Base{ID: "airpods-addon"},
		MainProductID:  "iphone",
		AddOnProductID: "airpods",
		SpecialPrice:   usd("49"),
		RegularPrice:   usd("249"),
	}
	e := newEngine(t, nil)

	tests := []struct {
		name    string
		items   []LineItem
		airpods string
	}{
		{
			name: "with main product",
			items: []LineItem{
				{ProductID: "iphone", Quantity: 1, UnitPrice: usd("999")},
				{ProductID: "airpods", Quantity: 1, UnitPrice: usd("249")},
			},
			airpods: "49",
		},
		{
			name: "add-on first in cart",
			items: []LineItem{
				{ProductID: "airpods", Quantity: 1, UnitPrice: usd("249")},
				{ProductID: "iphone", Quantity: 1, UnitPrice: usd("999")},
			},
			airpods: "49",
		},
		{
			name:    "without main product",
			items:   []LineItem{{ProductID: "airpods", Quantity: 1, UnitPrice: usd("249")}},
			airpods: "249",
		},
		{
			name: "more add-ons than main units",
			items: []LineItem{
				{ProductID: "iphone", Quantity: 1, UnitPrice: usd("999")},
				{ProductID: "airpods", Quantity: 2, UnitPrice: usd("249")},
			},
			airpods: "298",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart, err := e.Quote(context.Background(), newContext(t, saleStart, tt.items, nil, rule))
			require.NoError(t, err)
			line, ok := cart.Line("airpods")
			require.True(t, ok)
			assert.True(t, line.Total.Equal(usd(tt.airpods)), "got %s", line.Total)
		})
	}
}

func TestQuote_BuyTwoGetOne(t *testing.T) {
	rule := BuyNGetN{Base: Base{ID: "b2g1"}, ProductID: "runner", Buy: 2, Get: 1}
	items := []LineItem{{ProductID: "runner", Quantity: 7, UnitPrice: usd("10")}}

	cart, err := newEngine(t, nil).Quote(context.Background(), newContext(t, saleStart, items, nil, rule))
	require.NoError(t, err)

	line, ok := cart.Line("runner")
	require.True(t, ok)
	assert.Equal(t, 7, line.Quantity)
	assert.Equal(t, 2, line.FreeQuantity())
	assert.True(t, line.Total.Equal(usd("50")))
	assert.True(t, line.Discount.Equal(usd("20")))
}

func TestQuote_BuyNGetN_BelowThreshold(t *testing.T) {
	rule := BuyNGetN{Base: Base{ID: "b2g1"}, ProductID: "runner", Buy: 2, Get: 1}
	items := []LineItem{{ProductID: "runner", Quantity: 2, UnitPrice: usd("10")}}

	cart, err := newEngine(t, nil).Quote(context.Background(), newContext(t, saleStart, items, nil, rule))
	require.NoError(t, err)
	assert.True(t, cart.Total.Equal(usd("20")))
	assert.Empty(t, cart.AppliedRules)
}

func TestQuote_LimitedQuantityDeal(t *testing.T) {
	e := newEngine(t, nil)
	items := []LineItem{{ProductID: "speaker", Quantity: 30, UnitPrice: usd("129")}}

	t.Run("partial fill", func(t *testing.T) {
		snapshot := InventorySnapshot{"speaker-limited": {Cap: 100, Consumed: 75}}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, snapshot, limitedDeal(100)))
		require.NoError(t, err)

		line, _ := cart.Line("speaker")
		require.Len(t, line.Segments, 2)
		assert.Equal(t, 25, line.Segments[0].Quantity)
		assert.True(t, line.Segments[0].UnitPrice.Equal(usd("59")))
		assert.Equal(t, 5, line.Segments[1].Quantity)
		assert.Equal(t, NoticeDealPartialFill, line.Notice)
		// 25*59 + 5*129
		assert.True(t, line.Total.Equal(usd("2120")), "got %s", line.Total)
	})

	t.Run("sold out", func(t *testing.T) {
		snapshot := InventorySnapshot{"speaker-limited": {Cap: 100, Consumed: 100}}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, snapshot, limitedDeal(100)))
		require.NoError(t, err)

		line, _ := cart.Line("speaker")
		assert.Empty(t, line.RuleID)
		assert.Equal(t, NoticeDealSoldOut, line.Notice)
		assert.True(t, line.Total.Equal(usd("3870")))
	})

	t.Run("sold out falls back to flash sale", func(t *testing.T) {
		snapshot := InventorySnapshot{"speaker-limited": {Cap: 100, Consumed: 100}}
		pc := newContext(t, saleStart, items, snapshot, limitedDeal(100), speakerFlashSale())
		cart, err := e.Quote(context.Background(), pc)
		require.NoError(t, err)

		line, _ := cart.Line("speaker")
		assert.Equal(t, "speaker-flash", line.RuleID)
		assert.Equal(t, NoticeDealSoldOut, line.Notice)
		assert.True(t, line.Total.Equal(usd("2370")))
	})
}

func TestQuote_SecondItemHalfPrice(t *testing.T) {
	rule := SecondItemHalfPrice{Base: Base{ID: "shoes-half", Scope: Scope{Category: "shoes"}}}
	e := newEngine(t, nil)

	t.Run("second most expensive unit", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "sandal", Quantity: 1, UnitPrice: usd("60")},
			{ProductID: "runner", Quantity: 1, UnitPrice: usd("100")},
			{ProductID: "loafer", Quantity: 1, UnitPrice: usd("80")},
		}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, rule))
		require.NoError(t, err)

		loafer, _ := cart.Line("loafer")
		assert.True(t, loafer.Total.Equal(usd("40")))
		assert.True(t, cart.Discount.Equal(usd("40")))
	})

	t.Run("single line with two units", func(t *testing.T) {
		items := []LineItem{{ProductID: "runner", Quantity: 2, UnitPrice: usd("49.99")}}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, rule))
		require.NoError(t, err)
		assert.True(t, cart.Total.Equal(usd("74.99")), "got %s", cart.Total)
	})

	t.Run("out of scope", func(t *testing.T) {
		items := []LineItem{{ProductID: "speaker", Quantity: 2, UnitPrice: usd("100")}}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, rule))
		require.NoError(t, err)
		assert.True(t, cart.Discount.IsZero())
	})
}

func TestQuote_CartStage(t *testing.T) {
	tiered := TieredSpendDiscount{
		Base: Base{ID: "tiered"},
		Tiers: []Tier{
			{Min: usd("100"), Discount: usd("10")},
			{Min: usd("200"), Discount: usd("25")},
		},
	}
	pct := SpendThresholdDiscount{
		Base:         Base{ID: "pct"},
		MinAmount:    usd("100"),
		DiscountType: DiscountPercentage,
		Percent:      decimal.NewFromInt(10),
	}
	items := []LineItem{{ProductID: "speaker", Quantity: 1, UnitPrice: usd("150")}}
	e := newEngine(t, nil)

	t.Run("tier with hint", func(t *testing.T) {
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, tiered))
		require.NoError(t, err)

		require.NotNil(t, cart.CartDiscount)
		assert.True(t, cart.CartDiscount.Amount.Equal(usd("10")))
		assert.True(t, cart.Total.Equal(usd("140")))
		require.Len(t, cart.Hints, 1)
		assert.True(t, cart.Hints[0].AmountNeeded.Equal(usd("50")))
		assert.True(t, cart.Hints[0].NextDiscount.Equal(usd("25")))
	})

	t.Run("single winner by amount at equal priority", func(t *testing.T) {
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, tiered, pct))
		require.NoError(t, err)

		require.NotNil(t, cart.CartDiscount)
		assert.Equal(t, "pct", cart.CartDiscount.RuleID)
		assert.True(t, cart.Total.Equal(usd("135")))
		assert.NotContains(t, cart.AppliedRules, "tiered")
	})

	t.Run("priority beats amount", func(t *testing.T) {
		tiered := tiered
		tiered.Priority = 1
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, tiered, pct))
		require.NoError(t, err)
		assert.Equal(t, "tiered", cart.CartDiscount.RuleID)
	})

	t.Run("fixed discount never drives total negative", func(t *testing.T) {
		fixed := SpendThresholdDiscount{
			Base:         Base{ID: "fixed"},
			MinAmount:    usd("0"),
			DiscountType: DiscountFixed,
			Fixed:        usd("500"),
		}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, items, nil, fixed))
		require.NoError(t, err)
		assert.True(t, cart.Total.IsZero())
		assert.False(t, cart.Total.IsNegative())
	})

	t.Run("applies after item stage", func(t *testing.T) {
		speaker := []LineItem{{ProductID: "speaker", Quantity: 2, UnitPrice: usd("129")}}
		cart, err := e.Quote(context.Background(), newContext(t, saleStart, speaker, nil, speakerFlashSale(), tiered))
		require.NoError(t, err)
		// 2*79 = 158 reaches the first tier only.
		assert.True(t, cart.ItemTotal.Equal(usd("158")))
		assert.True(t, cart.Total.Equal(usd("148")))
		assert.Equal(t, []string{"speaker-flash", "tiered"}, cart.AppliedRules)
	})
}

func TestQuote_AdditiveStage(t *testing.T) {
	gift := GiftWithPurchase{
		Base:          Base{ID: "tote"},
		MinSpend:      usd("100"),
		GiftProductID: "tote-bag",
		GiftValue:     usd("15"),
		MaxGifts:      3,
		Repeatable:    true,
	}
	voucher := ConvenienceStoreVoucher{
		Base:                Base{ID: "coffee", Name: "Coffee voucher", Scope: Scope{Category: "audio"}},
		FaceValue:           usd("5"),
		Validity:            30 * 24 * time.Hour,
		RedemptionLocation:  "store-42",
		QuantityPerPurchase: 2,
	}
	items := []LineItem{{ProductID: "speaker", Quantity: 2, UnitPrice: usd("129")}}

	cart, err := newEngine(t, nil).Quote(context.Background(), newContext(t, saleStart, items, nil, gift, voucher))
	require.NoError(t, err)

	require.Len(t, cart.Gifts, 1)
	assert.Equal(t, 2, cart.Gifts[0].Quantity)
	assert.True(t, cart.Gifts[0].Price.IsZero())
	require.Len(t, cart.Vouchers, 1)
	assert.Equal(t, 2, cart.Vouchers[0].Quantity)
	assert.True(t, cart.Total.Equal(usd("258")), "additive rules never change the total")
}

func TestQuote_CurrencyMismatch(t *testing.T) {
	rule := FlashSale{
		Base:         Base{ID: "eur-flash", Window: Window{Start: saleStart, End: saleEnd}},
		ProductID:    "speaker",
		SalePrice:    money.MustParse("70", "EUR"),
		RegularPrice: money.MustParse("120", "EUR"),
	}
	items := []LineItem{{ProductID: "speaker", Quantity: 1, UnitPrice: usd("129")}}

	_, err := newEngine(t, nil).Quote(context.Background(), newContext(t, saleStart, items, nil, rule))
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestNewContext_Lines(t *testing.T) {
	set, err := NewRuleSet()
	require.NoError(t, err)

	pc, err := NewContext("c", "USD", saleStart, []LineItem{
		{ProductID: "a", Quantity: 1, UnitPrice: usd("10")},
		{ProductID: "b", Quantity: 1, UnitPrice: usd("5")},
		{ProductID: "a", Quantity: 2, UnitPrice: usd("10")},
	}, set, nil, nil)
	require.NoError(t, err)
	require.Len(t, pc.Items, 2)
	assert.Equal(t, 3, pc.Items[0].Quantity)

	_, err = NewContext("c", "USD", saleStart, []LineItem{{ProductID: "a", Quantity: 0, UnitPrice: usd("10")}}, set, nil, nil)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = NewContext("c", "USD", saleStart, []LineItem{
		{ProductID: "a", Quantity: 1, UnitPrice: usd("10")},
		{ProductID: "a", Quantity: 1, UnitPrice: usd("11")},
	}, set, nil, nil)
	var le *LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "a", le.ProductID)
}

func TestCommit_ConsumesInventory(t *testing.T) {
	inv := newMockInventory(map[string]int{"speaker-limited": 25})
	e := newEngine(t, inv)
	items := []LineItem{{ProductID: "speaker", Quantity: 3, UnitPrice: usd("129")}}
	snapshot := InventorySnapshot{"speaker-limited": {Cap: 100, Consumed: 75}}

	receipt, err := e.Commit(context.Background(), newContext(t, saleStart, items, snapshot, limitedDeal(100)), nil)
	require.NoError(t, err)

	assert.Equal(t, []Reservation{{RuleID: "speaker-limited", Units: 3}}, receipt.Reservations)
	assert.Empty(t, receipt.SoldOut)
	assert.True(t, receipt.Cart.Total.Equal(usd("177")))
	assert.Equal(t, 22, inv.remaining["speaker-limited"])
}

func TestCommit_SoldOutSinceQuote(t *testing.T) {
	inv := newMockInventory(map[string]int{"speaker-limited": 0})
	e := newEngine(t, inv)
	items := []LineItem{{ProductID: "speaker", Quantity: 2, UnitPrice: usd("129")}}
	snapshot := InventorySnapshot{"speaker-limited": {Cap: 100, Consumed: 99}}
	pc := newContext(t, saleStart, items, snapshot, limitedDeal(100), speakerFlashSale())

	quote, err := e.Quote(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, []string{"speaker-limited"}, quote.AppliedRules)

	receipt, err := e.Commit(context.Background(), pc, nil)
	require.NoError(t, err)

	line, _ := receipt.Cart.Line("speaker")
	assert.Equal(t, "speaker-flash", line.RuleID)
	assert.Equal(t, NoticeDealSoldOut, line.Notice)
	assert.True(t, receipt.Cart.Total.Equal(usd("158")))
	assert.Equal(t, []string{"speaker-limited"}, receipt.SoldOut)
	assert.Empty(t, receipt.Reservations)
}

func TestCommit_PartialGrant(t *testing.T) {
	inv := newMockInventory(map[string]int{"speaker-limited": 1})
	e := newEngine(t, inv)
	items := []LineItem{{ProductID: "speaker", Quantity: 3, UnitPrice: usd("129")}}
	snapshot := InventorySnapshot{"speaker-limited": {Cap: 100, Consumed: 0}}

	receipt, err := e.Commit(context.Background(), newContext(t, saleStart, items, snapshot, limitedDeal(100)), nil)
	require.NoError(t, err)

	line, _ := receipt.Cart.Line("speaker")
	assert.Equal(t, NoticeDealPartialFill, line.Notice)
	// 59 + 2*129
	assert.True(t, line.Total.Equal(usd("317")), "got %s", line.Total)
	assert.Equal(t, []Reservation{{RuleID: "speaker-limited", Units: 1}}, receipt.Reservations)
	assert.Equal(t, []string{"speaker-limited"}, receipt.SoldOut)
}

func TestCommit_SelectedRules(t *testing.T) {
	e := newEngine(t, nil)
	items := []LineItem{{ProductID: "speaker", Quantity: 1, UnitPrice: usd("129")}}
	pc := newContext(t, saleStart, items, nil, speakerFlashSale())

	_, err := e.Commit(context.Background(), pc, []string{"missing"})
	require.ErrorIs(t, err, ErrUnknownRule)

	receipt, err := e.Commit(context.Background(), pc, []string{})
	require.NoError(t, err)
	assert.True(t, receipt.Cart.Total.Equal(usd("129")), "empty selection applies nothing")

	receipt, err = e.Commit(context.Background(), pc, []string{"speaker-flash"})
	require.NoError(t, err)
	assert.True(t, receipt.Cart.Total.Equal(usd("79")))
}

func TestCommit_ReleasesOnError(t *testing.T) {
	inv := newMockInventory(map[string]int{"speaker-limited": 10, "runner-limited": 10})
	e := newEngine(t, &failingInventory{mockInventory: inv, failFor: "runner-limited"})

	runnerDeal := LimitedQuantityDeal{
		Base:         Base{ID: "runner-limited"},
		ProductID:    "runner",
		SalePrice:    usd("20"),
		RegularPrice: usd("40"),
		Cap:          10,
	}
	items := []LineItem{
		{ProductID: "speaker", Quantity: 2, UnitPrice: usd("129")},
		{ProductID: "runner", Quantity: 1, UnitPrice: usd("40")},
	}
	snapshot := InventorySnapshot{
		"speaker-limited": {Cap: 10},
		"runner-limited":  {Cap: 10},
	}

	_, err := e.Commit(context.Background(), newContext(t, saleStart, items, snapshot, limitedDeal(10), runnerDeal), nil)
	require.Error(t, err)
	assert.Equal(t, 10, inv.remaining["speaker-limited"])
	assert.Equal(t, 2, inv.released["speaker-limited"])
}

type failingInventory struct {
	*mockInventory
	failFor string
}

func (f *failingInventory) Consume(ctx context.Context, ruleID string, units int) (int, error) {
	if ruleID == f.failFor {
		return 0, errors.New("connection reset")
	}
	return f.mockInventory.Consume(ctx, ruleID, units)
}
