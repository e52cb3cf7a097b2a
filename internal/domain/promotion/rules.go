package promotion

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

var hundred = decimal.NewFromInt(100)

// DiscountType enumerates spend-threshold discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the qualifying total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the qualifying total.
	DiscountFixed DiscountType = "fixed"
)

// FlashSale replaces the unit price of a product with SalePrice while the
// window is open.
type FlashSale struct {
	Base
	ProductID    string
	SalePrice    money.Money
	RegularPrice money.Money
}

func (FlashSale) Kind() Kind { return KindFlashSale }
func (FlashSale) isRule()    {}

func (r FlashSale) amounts() []money.Money {
	return []money.Money{r.SalePrice, r.RegularPrice}
}

func (r FlashSale) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.ProductID == "" {
		return invalid(r.ID, "empty product id")
	}
	if r.Window.Start.IsZero() || r.Window.End.IsZero() {
		return invalid(r.ID, "flash sale requires start and end")
	}
	return validatePricePair(r.ID, r.SalePrice, r.RegularPrice)
}

// AddOnPurchase prices the add-on product at SpecialPrice, one unit per unit
// of the main product present in the same cart.
type AddOnPurchase struct {
	Base
	MainProductID  string
	AddOnProductID string
	SpecialPrice   money.Money
	RegularPrice   money.Money
}

func (AddOnPurchase) Kind() Kind { return KindAddOnPurchase }
func (AddOnPurchase) isRule()    {}

func (r AddOnPurchase) amounts() []money.Money {
	return []money.Money{r.SpecialPrice, r.RegularPrice}
}

func (r AddOnPurchase) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.MainProductID == "" || r.AddOnProductID == "" {
		return invalid(r.ID, "main and add-on product ids are required")
	}
	if r.MainProductID == r.AddOnProductID {
		return invalid(r.ID, "add-on product must differ from main product")
	}
	return validatePricePair(r.ID, r.SpecialPrice, r.RegularPrice)
}

// GiftWithPurchase appends zero-priced gift units once the cart reaches
// MinSpend. Repeatable rules grant one gift per multiple of MinSpend.
type GiftWithPurchase struct {
	Base
	MinSpend      money.Money
	GiftProductID string
	// GiftValue is shown to the customer; the gift is never charged.
	GiftValue  money.Money
	MaxGifts   int
	Repeatable bool
}

func (GiftWithPurchase) Kind() Kind { return KindGiftWithPurchase }
func (GiftWithPurchase) isRule()    {}

func (r GiftWithPurchase) amounts() []money.Money {
	return []money.Money{r.MinSpend, r.GiftValue}
}

func (r GiftWithPurchase) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.GiftProductID == "" {
		return invalid(r.ID, "empty gift product id")
	}
	if !r.MinSpend.IsPositive() {
		return invalid(r.ID, "minimum spend must be positive")
	}
	if r.GiftValue.IsNegative() {
		return invalid(r.ID, "gift value must not be negative")
	}
	if r.MaxGifts < 1 {
		return invalid(r.ID, "max gifts must be at least 1")
	}
	return nil
}

// giftCount returns how many gifts a qualifying total earns.
func (r GiftWithPurchase) giftCount(total money.Money) int {
	if total.Amount().LessThan(r.MinSpend.Amount()) {
		return 0
	}
	if !r.Repeatable {
		return 1
	}
	multiples := total.Amount().Div(r.MinSpend.Amount()).Floor().IntPart()
	return int(min(multiples, int64(r.MaxGifts)))
}

// BuyNGetN makes Get units free for every Buy units of a product.
type BuyNGetN struct {
	Base
	ProductID string
	Buy       int
	Get       int
}

func (BuyNGetN) Kind() Kind             { return KindBuyNGetN }
func (BuyNGetN) isRule()                {}
func (BuyNGetN) amounts() []money.Money { return nil }

func (r BuyNGetN) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.ProductID == "" {
		return invalid(r.ID, "empty product id")
	}
	if r.Buy < 1 || r.Get < 1 {
		return invalid(r.ID, "buy and get quantities must be at least 1")
	}
	return nil
}

// Split returns the chargeable and free units for a purchased quantity.
// chargeable = floor(q/(buy+get))*buy + min(q mod (buy+get), buy).
func (r BuyNGetN) Split(quantity int) (chargeable, free int) {
	if quantity <= 0 {
		return 0, 0
	}
	set := r.Buy + r.Get
	chargeable = (quantity/set)*r.Buy + min(quantity%set, r.Buy)
	return chargeable, quantity - chargeable
}

// SpendThresholdDiscount discounts the cart (or a category of it) once the
// qualifying total reaches MinAmount.
type SpendThresholdDiscount struct {
	Base
	MinAmount    money.Money
	DiscountType DiscountType
	// Percent is used with DiscountPercentage, in (0, 100].
	Percent decimal.Decimal
	// Fixed is used with DiscountFixed.
	Fixed money.Money
}

func (SpendThresholdDiscount) Kind() Kind { return KindSpendThresholdDiscount }
func (SpendThresholdDiscount) isRule()    {}

func (r SpendThresholdDiscount) amounts() []money.Money {
	if r.DiscountType == DiscountFixed {
		return []money.Money{r.MinAmount, r.Fixed}
	}
	return []money.Money{r.MinAmount}
}

func (r SpendThresholdDiscount) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.MinAmount.IsNegative() {
		return invalid(r.ID, "minimum amount must not be negative")
	}
	switch r.DiscountType {
	case DiscountPercentage:
		if !r.Percent.IsPositive() || r.Percent.GreaterThan(hundred) {
			return invalid(r.ID, "percentage must be within (0, 100]")
		}
	case DiscountFixed:
		if !r.Fixed.IsPositive() {
			return invalid(r.ID, "fixed discount must be positive")
		}
		if r.Fixed.Currency() != r.MinAmount.Currency() {
			return invalid(r.ID, "fixed discount currency differs from minimum amount")
		}
	default:
		return invalid(r.ID, "unsupported discount type %q", r.DiscountType)
	}
	return nil
}

// discount returns the payout for a qualifying base total, never above it.
func (r SpendThresholdDiscount) discount(base money.Money) money.Money {
	if base.Amount().LessThan(r.MinAmount.Amount()) {
		return money.Zero(base.Currency())
	}
	var d money.Money
	switch r.DiscountType {
	case DiscountPercentage:
		d = base.Percent(r.Percent)
	default:
		d = r.Fixed
	}
	if d.Amount().GreaterThan(base.Amount()) {
		d = base
	}
	return d.FloorAtZero().Round()
}

// Tier is a single threshold of a TieredSpendDiscount.
type Tier struct {
	Min      money.Money
	Discount money.Money
}

// TieredSpendDiscount grants the discount of the highest tier whose Min does
// not exceed the cart total. Tiers are strictly increasing by Min.
type TieredSpendDiscount struct {
	Base
	Tiers []Tier
}

func (TieredSpendDiscount) Kind() Kind { return KindTieredSpendDiscount }
func (TieredSpendDiscount) isRule()    {}

func (r TieredSpendDiscount) amounts() []money.Money {
	out := make([]money.Money, 0, 2*len(r.Tiers))
	for _, t := range r.Tiers {
		out = append(out, t.Min, t.Discount)
	}
	return out
}

func (r TieredSpendDiscount) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if len(r.Tiers) == 0 {
		return invalid(r.ID, "at least one tier is required")
	}
	currency := r.Tiers[0].Min.Currency()
	for i, t := range r.Tiers {
		if t.Min.Currency() != currency || t.Discount.Currency() != currency {
			return invalid(r.ID, "tier %d uses a different currency", i)
		}
		if t.Min.IsNegative() || !t.Discount.IsPositive() {
			return invalid(r.ID, "tier %d must have a non-negative minimum and a positive discount", i)
		}
		if i == 0 {
			continue
		}
		prev := r.Tiers[i-1]
		if !t.Min.Amount().GreaterThan(prev.Min.Amount()) {
			return invalid(r.ID, "tier minimums must be strictly increasing (tier %d)", i)
		}
		if t.Discount.Amount().LessThan(prev.Discount.Amount()) {
			return invalid(r.ID, "tier discounts must not decrease (tier %d)", i)
		}
	}
	return nil
}

// tierFor returns the index of the reached tier, or -1 below every tier.
func (r TieredSpendDiscount) tierFor(total money.Money) int {
	idx := -1
	for i, t := range r.Tiers {
		if total.Amount().LessThan(t.Min.Amount()) {
			break
		}
		idx = i
	}
	return idx
}

// discount returns the reached tier's discount, capped at total.
func (r TieredSpendDiscount) discount(total money.Money) money.Money {
	idx := r.tierFor(total)
	if idx < 0 {
		return money.Zero(total.Currency())
	}
	d := r.Tiers[idx].Discount
	if d.Amount().GreaterThan(total.Amount()) {
		return total.FloorAtZero()
	}
	return d
}

// SecondItemHalfPrice halves exactly one unit among the qualifying units in
// scope: the unit ranked second by unit price, descending.
type SecondItemHalfPrice struct {
	Base
}

func (SecondItemHalfPrice) Kind() Kind             { return KindSecondItemHalfPrice }
func (SecondItemHalfPrice) isRule()                {}
func (SecondItemHalfPrice) amounts() []money.Money { return nil }

func (r SecondItemHalfPrice) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.Scope.IsZero() {
		return invalid(r.ID, "second item half price requires a category or product scope")
	}
	return nil
}

// LimitedQuantityDeal sells a product at SalePrice until Cap units have been
// committed. Consumption is tracked by the Inventory, keyed by rule id.
type LimitedQuantityDeal struct {
	Base
	ProductID    string
	SalePrice    money.Money
	RegularPrice money.Money
	Cap          int
}

func (LimitedQuantityDeal) Kind() Kind { return KindLimitedQuantityDeal }
func (LimitedQuantityDeal) isRule()    {}

func (r LimitedQuantityDeal) amounts() []money.Money {
	return []money.Money{r.SalePrice, r.RegularPrice}
}

func (r LimitedQuantityDeal) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.ProductID == "" {
		return invalid(r.ID, "empty product id")
	}
	if r.Cap < 1 {
		return invalid(r.ID, "quantity cap must be at least 1")
	}
	return validatePricePair(r.ID, r.SalePrice, r.RegularPrice)
}

// ConvenienceStoreVoucher issues redeemable vouchers on purchase.
type ConvenienceStoreVoucher struct {
	Base
	FaceValue           money.Money
	Validity            time.Duration
	RedemptionLocation  string
	Contents            string
	QuantityPerPurchase int
}

func (ConvenienceStoreVoucher) Kind() Kind { return KindConvenienceStoreVoucher }
func (ConvenienceStoreVoucher) isRule()    {}

func (r ConvenienceStoreVoucher) amounts() []money.Money {
	return []money.Money{r.FaceValue}
}

func (r ConvenienceStoreVoucher) Validate() error {
	if err := r.Base.validate(); err != nil {
		return err
	}
	if r.Name == "" {
		return invalid(r.ID, "voucher name is required")
	}
	if !r.FaceValue.IsPositive() {
		return invalid(r.ID, "face value must be positive")
	}
	if r.Validity <= 0 {
		return invalid(r.ID, "validity period must be positive")
	}
	if r.QuantityPerPurchase < 1 {
		return invalid(r.ID, "quantity per purchase must be at least 1")
	}
	return nil
}

func validatePricePair(id string, sale, regular money.Money) error {
	if sale.IsNegative() {
		return invalid(id, "sale price must not be negative")
	}
	if !regular.IsPositive() {
		return invalid(id, "regular price must be positive")
	}
	c, err := sale.Cmp(regular)
	if err != nil {
		return invalid(id, "%s", err)
	}
	if c > 0 {
		return invalid(id, "sale price %s exceeds regular price %s", sale, regular)
	}
	return nil
}
