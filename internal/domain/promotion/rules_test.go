package promotion

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

func usd(amount string) money.Money {
	return money.MustParse(amount, "USD")
}

var gmt8 = time.FixedZone("GMT+8", 8*60*60)

func TestWindow_Contains(t *testing.T) {
	w := Window{
		Start:    time.Date(2026, 5, 1, 10, 0, 0, 0, gmt8),
		End:      time.Date(2026, 5, 1, 12, 0, 0, 0, gmt8),
		Location: gmt8,
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", time.Date(2026, 5, 1, 9, 59, 59, 0, gmt8), false},
		{"at start", w.Start, true},
		{"inside", time.Date(2026, 5, 1, 11, 0, 0, 0, gmt8), true},
		{"at end", w.End, true},
		{"after end", time.Date(2026, 5, 1, 13, 0, 0, 0, gmt8), false},
		{"same instant in UTC", time.Date(2026, 5, 1, 2, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.now))
		})
	}

	assert.True(t, Window{}.Contains(time.Now()), "zero window is unbounded")
}

func TestScope_Matches(t *testing.T) {
	shoe := Product{ID: "sneaker", Category: "shoes"}
	hat := Product{ID: "cap", Category: "hats"}

	assert.True(t, Scope{}.Matches(shoe))
	assert.True(t, Scope{Category: "shoes"}.Matches(shoe))
	assert.False(t, Scope{Category: "shoes"}.Matches(hat))
	assert.True(t, Scope{ProductIDs: []string{"cap"}}.Matches(hat))
	assert.False(t, Scope{ProductIDs: []string{"cap"}}.Matches(shoe))
}

func TestBuyNGetN_Split(t *testing.T) {
	r := BuyNGetN{Buy: 2, Get: 1}

	chargeable, free := r.Split(7)
	assert.Equal(t, 5, chargeable)
	assert.Equal(t, 2, free)

	for _, rule := range []BuyNGetN{{Buy: 1, Get: 1}, {Buy: 2, Get: 1}, {Buy: 3, Get: 2}, {Buy: 5, Get: 5}} {
		for q := 0; q <= 40; q++ {
			c, f := rule.Split(q)
			assert.Equal(t, q, c+f, "buy %d get %d q=%d", rule.Buy, rule.Get, q)
			set := rule.Buy + rule.Get
			assert.Equal(t, (q/set)*rule.Buy+min(q%set, rule.Buy), c)
		}
	}
}

func TestTieredSpendDiscount_Monotonic(t *testing.T) {
	r := TieredSpendDiscount{
		Base: Base{ID: "tiered"},
		Tiers: []Tier{
			{Min: usd("100"), Discount: usd("10")},
			{Min: usd("200"), Discount: usd("25")},
			{Min: usd("500"), Discount: usd("80")},
		},
	}
	require.NoError(t, r.Validate())

	assert.True(t, r.discount(usd("99.99")).IsZero())
	assert.True(t, r.discount(usd("100")).Equal(usd("10")))
	assert.True(t, r.discount(usd("499.99")).Equal(usd("25")))
	assert.True(t, r.discount(usd("10000")).Equal(usd("80")))

	prev := money.Zero("USD")
	for cents := int64(0); cents <= 60000; cents += 137 {
		d := r.discount(money.New(decimal.New(cents, -2), "USD"))
		assert.False(t, d.Amount().LessThan(prev.Amount()), "discount decreased at %d cents", cents)
		prev = d
	}
}

func TestGiftWithPurchase_GiftCount(t *testing.T) {
	r := GiftWithPurchase{MinSpend: usd("100"), MaxGifts: 3, Repeatable: true}

	assert.Equal(t, 0, r.giftCount(usd("99.99")))
	assert.Equal(t, 1, r.giftCount(usd("100")))
	assert.Equal(t, 2, r.giftCount(usd("250")))
	assert.Equal(t, 3, r.giftCount(usd("1000")))

	r.Repeatable = false
	assert.Equal(t, 1, r.giftCount(usd("1000")))
}

func TestSpendThresholdDiscount_Discount(t *testing.T) {
	pct := SpendThresholdDiscount{
		MinAmount:    usd("100"),
		DiscountType: DiscountPercentage,
		Percent:      decimal.NewFromInt(15),
	}
	assert.True(t, pct.discount(usd("99")).IsZero())
	assert.True(t, pct.discount(usd("200")).Equal(usd("30")))

	fixed := SpendThresholdDiscount{
		MinAmount:    usd("0"),
		DiscountType: DiscountFixed,
		Fixed:        usd("50"),
	}
	assert.True(t, fixed.discount(usd("30")).Equal(usd("30")), "fixed discount is capped at the base")
}

func TestRule_Validate(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, gmt8)
	window := Window{Start: start, End: start.Add(2 * time.Hour), Location: gmt8}

	tests := []struct {
		name string
		rule Rule
	}{
		{"empty id", FlashSale{ProductID: "p", SalePrice: usd("1"), RegularPrice: usd("2"), Base: Base{Window: window}}},
		{"window reversed", FlashSale{
			Base:      Base{ID: "fs", Window: Window{Start: window.End, End: window.Start}},
			ProductID: "p", SalePrice: usd("1"), RegularPrice: usd("2"),
		}},
		{"flash sale without end", FlashSale{
			Base:      Base{ID: "fs", Window: Window{Start: start}},
			ProductID: "p", SalePrice: usd("1"), RegularPrice: usd("2"),
		}},
		{"sale above regular", FlashSale{
			Base:      Base{ID: "fs", Window: window},
			ProductID: "p", SalePrice: usd("3"), RegularPrice: usd("2"),
		}},
		{"add-on on itself", AddOnPurchase{
			Base:          Base{ID: "ao"},
			MainProductID: "p", AddOnProductID: "p", SpecialPrice: usd("1"), RegularPrice: usd("2"),
		}},
		{"zero buy", BuyNGetN{Base: Base{ID: "b"}, ProductID: "p", Buy: 0, Get: 1}},
		{"percentage above 100", SpendThresholdDiscount{
			Base: Base{ID: "s"}, MinAmount: usd("10"), DiscountType: DiscountPercentage, Percent: decimal.NewFromInt(101),
		}},
		{"unknown discount type", SpendThresholdDiscount{Base: Base{ID: "s"}, MinAmount: usd("10"), DiscountType: "bogus"}},
		{"tiers not increasing", TieredSpendDiscount{Base: Base{ID: "t"}, Tiers: []Tier{
			{Min: usd("200"), Discount: usd("20")},
			{Min: usd("100"), Discount: usd("30")},
		}}},
		{"tier discount decreasing", TieredSpendDiscount{Base: Base{ID: "t"}, Tiers: []Tier{
			{Min: usd("100"), Discount: usd("30")},
			{Min: usd("200"), Discount: usd("20")},
		}}},
		{"no tiers", TieredSpendDiscount{Base: Base{ID: "t"}}},
		{"half price without scope", SecondItemHalfPrice{Base: Base{ID: "h"}}},
		{"zero cap", LimitedQuantityDeal{
			Base: Base{ID: "l"}, ProductID: "p", SalePrice: usd("1"), RegularPrice: usd("2"),
		}},
		{"voucher without validity", ConvenienceStoreVoucher{
			Base: Base{ID: "v", Name: "Coffee"}, FaceValue: usd("5"), QuantityPerPurchase: 1,
		}},
		{"gift without max", GiftWithPurchase{Base: Base{ID: "g"}, MinSpend: usd("10"), GiftProductID: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			require.ErrorIs(t, err, ErrInvalidRuleConfiguration)
			var ire *InvalidRuleError
			require.True(t, errors.As(err, &ire))
			assert.NotEmpty(t, ire.Reason)
		})
	}
}

func TestNewRuleSet(t *testing.T) {
	a := BuyNGetN{Base: Base{ID: "a"}, ProductID: "p", Buy: 2, Get: 1}

	_, err := NewRuleSet(a, a)
	require.ErrorIs(t, err, ErrInvalidRuleConfiguration)

	_, err = NewRuleSet(&a)
	require.ErrorIs(t, err, ErrInvalidRuleConfiguration)

	_, err = NewRuleSet(nil)
	require.ErrorIs(t, err, ErrInvalidRuleConfiguration)

	set, err := NewRuleSet(a, LimitedQuantityDeal{
		Base: Base{ID: "l"}, ProductID: "p", SalePrice: usd("1"), RegularPrice: usd("2"), Cap: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"l"}, set.LimitedRuleIDs())

	got, ok := set.Get("a")
	require.True(t, ok)
	assert.Equal(t, KindBuyNGetN, got.Kind())
}

func TestByPrecedence(t *testing.T) {
	rules := []Rule{
		BuyNGetN{Base: Base{ID: "c", Priority: 1}},
		BuyNGetN{Base: Base{ID: "b", Priority: 5}},
		BuyNGetN{Base: Base{ID: "a", Priority: 1}},
	}
	byPrecedence(rules)

	var ids []string
	for _, r := range rules {
		ids = append(ids, r.Info().ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}
