// Package catalog decodes promotion catalogs: products and rule definitions
// in JSON, optionally gzip-compressed.
package catalog

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/money"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// Defaults apply to rules that do not declare their own currency or timezone.
type Defaults struct {
	Currency string
	Location *time.Location
}

// Catalog is a decoded catalog document.
type Catalog struct {
	Defaults
	Products []promotion.Product
	Rules    []Entry
}

// Entry is one rule with the JSON it was decoded from.
type Entry struct {
	Rule promotion.Rule
	// Definition is the rule object as read, suitable for storage and
	// decoding again with DecodeRule.
	Definition []byte
}

// RuleSet validates the catalog's rules into a RuleSet.
func (c *Catalog) RuleSet() (*promotion.RuleSet, error) {
	rules := make([]promotion.Rule, len(c.Rules))
	for i, e := range c.Rules {
		rules[i] = e.Rule
	}
	return promotion.NewRuleSet(rules...)
}

// Decode parses a catalog document:
//
//	{"currency": "USD", "timezone": "Asia/Taipei", "products": [...], "rules": [...]}
func Decode(data []byte) (*Catalog, error) {
	c := &Catalog{Defaults: Defaults{Location: time.UTC}}
	var rawRules []jx.Raw
	var rawProducts []jx.Raw

	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "currency":
			v, err := d.Str()
			c.Currency = v
			return err
		case "timezone":
			v, err := d.Str()
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(v)
			if err != nil {
				return errors.Wrapf(err, "timezone %q", v)
			}
			c.Location = loc
			return nil
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				raw, err := d.Raw()
				rawProducts = append(rawProducts, raw)
				return err
			})
		case "rules":
			return d.Arr(func(d *jx.Decoder) error {
				raw, err := d.Raw()
				rawRules = append(rawRules, raw)
				return err
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if c.Currency == "" {
		return nil, errors.New("catalog currency is required")
	}

	for i, raw := range rawProducts {
		p, err := decodeProduct(raw, c.Currency)
		if err != nil {
			return nil, errors.Wrapf(err, "product %d", i)
		}
		c.Products = append(c.Products, p)
	}
	for i, raw := range rawRules {
		r, err := DecodeRule(raw, c.Defaults)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d", i)
		}
		c.Rules = append(c.Rules, Entry{Rule: r, Definition: append([]byte(nil), raw...)})
	}
	return c, nil
}

func decodeProduct(data []byte, currency string) (promotion.Product, error) {
	var (
		p     promotion.Product
		price decimal.Decimal
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "price":
			price, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.ID == "" {
		return p, errors.New("product id is required")
	}
	p.Price = money.New(price, currency)
	return p, nil
}

// ruleDoc is the union of every rule kind's fields.
type ruleDoc struct {
	ID       string
	Kind     string
	Name     string
	Priority int
	Start    string
	End      string
	Timezone string
	Currency string

	ScopeProducts []string
	ScopeCategory string

	ProductID      string
	MainProductID  string
	AddOnProductID string
	GiftProductID  string

	SalePrice    decimal.Decimal
	RegularPrice decimal.Decimal
	SpecialPrice decimal.Decimal
	MinSpend     decimal.Decimal
	GiftValue    decimal.Decimal
	MinAmount    decimal.Decimal
	Fixed        decimal.Decimal
	Percent      decimal.Decimal
	FaceValue    decimal.Decimal
	DiscountType string
	Tiers        [][2]decimal.Decimal

	MaxGifts            int
	Repeatable          bool
	Buy                 int
	Get                 int
	Cap                 int
	Validity            string
	RedemptionLocation  string
	Contents            string
	QuantityPerPurchase int
}

func (doc *ruleDoc) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			doc.ID, err = d.Str()
		case "kind":
			doc.Kind, err = d.Str()
		case "name":
			doc.Name, err = d.Str()
		case "priority":
			doc.Priority, err = d.Int()
		case "currency":
			doc.Currency, err = d.Str()
		case "window":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "start":
					doc.Start, err = d.Str()
				case "end":
					doc.End, err = d.Str()
				case "timezone":
					doc.Timezone, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		case "scope":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "products":
					return d.Arr(func(d *jx.Decoder) error {
						id, err := d.Str()
						doc.ScopeProducts = append(doc.ScopeProducts, id)
						return err
					})
				case "category":
					var err error
					doc.ScopeCategory, err = d.Str()
					return err
				default:
					return d.Skip()
				}
			})
		case "product_id":
			doc.ProductID, err = d.Str()
		case "main_product_id":
			doc.MainProductID, err = d.Str()
		case "add_on_product_id":
			doc.AddOnProductID, err = d.Str()
		case "gift_product_id":
			doc.GiftProductID, err = d.Str()
		case "sale_price":
			doc.SalePrice, err = decodeDecimal(d)
		case "regular_price":
			doc.RegularPrice, err = decodeDecimal(d)
		case "special_price":
			doc.SpecialPrice, err = decodeDecimal(d)
		case "min_spend":
			doc.MinSpend, err = decodeDecimal(d)
		case "gift_value":
			doc.GiftValue, err = decodeDecimal(d)
		case "min_amount":
			doc.MinAmount, err = decodeDecimal(d)
		case "fixed":
			doc.Fixed, err = decodeDecimal(d)
		case "percent":
			doc.Percent, err = decodeDecimal(d)
		case "face_value":
			doc.FaceValue, err = decodeDecimal(d)
		case "discount_type":
			doc.DiscountType, err = d.Str()
		case "tiers":
			err = d.Arr(func(d *jx.Decoder) error {
				var tier [2]decimal.Decimal
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "min":
						tier[0], err = decodeDecimal(d)
					case "discount":
						tier[1], err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				})
				doc.Tiers = append(doc.Tiers, tier)
				return err
			})
		case "max_gifts":
			doc.MaxGifts, err = d.Int()
		case "repeatable":
			doc.Repeatable, err = d.Bool()
		case "buy":
			doc.Buy, err = d.Int()
		case "get":
			doc.Get, err = d.Int()
		case "cap":
			doc.Cap, err = d.Int()
		case "validity":
			doc.Validity, err = d.Str()
		case "redemption_location":
			doc.RedemptionLocation, err = d.Str()
		case "contents":
			doc.Contents, err = d.Str()
		case "quantity_per_purchase":
			doc.QuantityPerPurchase, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

// DecodeRule decodes and validates a single rule object.
func DecodeRule(data []byte, defaults Defaults) (promotion.Rule, error) {
	var doc ruleDoc
	if err := doc.decode(jx.DecodeBytes(data)); err != nil {
		return nil, errors.Wrap(err, "decode rule")
	}
	r, err := doc.build(defaults)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (doc *ruleDoc) build(defaults Defaults) (promotion.Rule, error) {
	currency := doc.Currency
	if currency == "" {
		currency = defaults.Currency
	}
	if currency == "" {
		return nil, &promotion.InvalidRuleError{RuleID: doc.ID, Reason: "currency is required"}
	}
	loc := defaults.Location
	if doc.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(doc.Timezone); err != nil {
			return nil, errors.Wrapf(err, "rule %q timezone", doc.ID)
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	window := promotion.Window{Location: loc}
	for _, f := range []struct {
		src string
		dst *time.Time
	}{{doc.Start, &window.Start}, {doc.End, &window.End}} {
		if f.src == "" {
			continue
		}
		t, err := parseTime(f.src, loc)
		if err != nil {
			return nil, &promotion.InvalidRuleError{RuleID: doc.ID, Reason: err.Error()}
		}
		*f.dst = t
	}

	base := promotion.Base{
		ID:       doc.ID,
		Name:     doc.Name,
		Priority: doc.Priority,
		Window:   window,
		Scope:    promotion.Scope{ProductIDs: doc.ScopeProducts, Category: doc.ScopeCategory},
	}
	m := func(d decimal.Decimal) money.Money { return money.New(d, currency) }

	switch promotion.Kind(doc.Kind) {
	case promotion.KindFlashSale:
		return promotion.FlashSale{
			Base:         base,
			ProductID:    doc.ProductID,
			SalePrice:    m(doc.SalePrice),
			RegularPrice: m(doc.RegularPrice),
		}, nil
	case promotion.KindAddOnPurchase:
		return promotion.AddOnPurchase{
			Base:           base,
			MainProductID:  doc.MainProductID,
			AddOnProductID: doc.AddOnProductID,
			SpecialPrice:   m(doc.SpecialPrice),
			RegularPrice:   m(doc.RegularPrice),
		}, nil
	case promotion.KindGiftWithPurchase:
		return promotion.GiftWithPurchase{
			Base:          base,
			MinSpend:      m(doc.MinSpend),
			GiftProductID: doc.GiftProductID,
			GiftValue:     m(doc.GiftValue),
			MaxGifts:      max(doc.MaxGifts, 1),
			Repeatable:    doc.Repeatable,
		}, nil
	case promotion.KindBuyNGetN:
		return promotion.BuyNGetN{Base: base, ProductID: doc.ProductID, Buy: doc.Buy, Get: doc.Get}, nil
	case promotion.KindSpendThresholdDiscount:
		return promotion.SpendThresholdDiscount{
			Base:         base,
			MinAmount:    m(doc.MinAmount),
			DiscountType: promotion.DiscountType(doc.DiscountType),
			Percent:      doc.Percent,
			Fixed:        m(doc.Fixed),
		}, nil
	case promotion.KindTieredSpendDiscount:
		tiers := make([]promotion.Tier, len(doc.Tiers))
		for i, t := range doc.Tiers {
			tiers[i] = promotion.Tier{Min: m(t[0]), Discount: m(t[1])}
		}
		return promotion.TieredSpendDiscount{Base: base, Tiers: tiers}, nil
	case promotion.KindSecondItemHalfPrice:
		return promotion.SecondItemHalfPrice{Base: base}, nil
	case promotion.KindLimitedQuantityDeal:
		return promotion.LimitedQuantityDeal{
			Base:         base,
			ProductID:    doc.ProductID,
			SalePrice:    m(doc.SalePrice),
			RegularPrice: m(doc.RegularPrice),
			Cap:          doc.Cap,
		}, nil
	case promotion.KindConvenienceStoreVoucher:
		validity, err := parseValidity(doc.Validity)
		if err != nil {
			return nil, &promotion.InvalidRuleError{RuleID: doc.ID, Reason: err.Error()}
		}
		return promotion.ConvenienceStoreVoucher{
			Base:                base,
			FaceValue:           m(doc.FaceValue),
			Validity:            validity,
			RedemptionLocation:  doc.RedemptionLocation,
			Contents:            doc.Contents,
			QuantityPerPurchase: doc.QuantityPerPurchase,
		}, nil
	default:
		return nil, &promotion.InvalidRuleError{RuleID: doc.ID, Reason: "unknown kind " + doc.Kind}
	}
}

// decodeDecimal accepts amounts as JSON strings or numbers.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = n.String()
	default:
		return decimal.Decimal{}, errors.Errorf("expected amount, got %s", d.Next())
	}
	return decimal.NewFromString(s)
}

// parseTime accepts RFC 3339 or a local "2006-01-02 15:04" in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q", s)
	}
	return t, nil
}

// parseValidity accepts Go durations and whole days such as "30d".
func parseValidity(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("validity is required")
	}
	if n := len(s); s[n-1] == 'd' {
		days, err := decimal.NewFromString(s[:n-1])
		if err != nil || !days.IsInteger() {
			return 0, errors.Errorf("invalid validity %q", s)
		}
		return time.Duration(days.IntPart()) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Errorf("invalid validity %q", s)
	}
	return d, nil
}
