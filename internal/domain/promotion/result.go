package promotion

import (
	"time"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

// Notices attached to priced lines.
const (
	NoticeDealSoldOut     = "deal no longer available"
	NoticeDealPartialFill = "deal quantity limited, remaining units at regular price"
)

// Segment is a run of units on a line sharing one effective unit price.
type Segment struct {
	Quantity  int
	UnitPrice money.Money
	// Gift marks units freed by a promotion; they stay on the order at zero.
	Gift bool
}

// Total returns Quantity * UnitPrice.
func (s Segment) Total() money.Money {
	return s.UnitPrice.Mul(s.Quantity)
}

// PricedLine is a cart line after item-level promotions.
type PricedLine struct {
	ProductID string
	Quantity  int
	// UnitPrice is the price supplied by the cart before promotions.
	UnitPrice money.Money
	Segments  []Segment
	Subtotal  money.Money
	Total     money.Money
	Discount  money.Money
	// RuleID is the item-level rule that priced this line, empty if none.
	RuleID string
	Notice string
}

// FreeQuantity returns the number of gift units on the line.
func (l PricedLine) FreeQuantity() int {
	n := 0
	for _, s := range l.Segments {
		if s.Gift {
			n += s.Quantity
		}
	}
	return n
}

// GiftLine is a zero-priced item appended by a gift-with-purchase rule.
type GiftLine struct {
	RuleID       string
	ProductID    string
	Quantity     int
	DisplayValue money.Money
	Price        money.Money
}

// VoucherGrant announces vouchers a rule will issue when the purchase commits.
type VoucherGrant struct {
	RuleID    string
	Quantity  int
	FaceValue money.Money
}

// CartDiscount is the winning cart-level payout.
type CartDiscount struct {
	RuleID string
	Amount money.Money
}

// Hint tells the customer how far the cart is from the next tier.
type Hint struct {
	RuleID       string
	AmountNeeded money.Money
	NextDiscount money.Money
	Message      string
}

// PricedCart is the result of an evaluation.
type PricedCart struct {
	CustomerID  string
	Currency    string
	EvaluatedAt time.Time

	Lines        []PricedLine
	Gifts        []GiftLine
	Vouchers     []VoucherGrant
	CartDiscount *CartDiscount
	Hints        []Hint

	// Subtotal is the undiscounted total.
	Subtotal money.Money
	// ItemTotal is the total after item-level rules.
	ItemTotal money.Money
	// Total is the payable amount after cart-level rules, never negative.
	Total    money.Money
	Discount money.Money

	// AppliedRules lists rule ids in application order.
	AppliedRules []string
}

// Line returns the priced line of a product.
func (c *PricedCart) Line(productID string) (PricedLine, bool) {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return PricedLine{}, false
}
