package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-promotions/internal/domain/money"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/voucher"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, m money.Money) {
	e.Str(m.Amount().StringFixed(2))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeCart(e *jx.Encoder, c *promotion.PricedCart) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(c.CustomerID) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(c.Currency) })
		e.Field("evaluated_at", func(e *jx.Encoder) { encodeTime(e, c.EvaluatedAt) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines {
					encodeLine(e, l)
				}
			})
		})
		e.Field("gifts", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, g := range c.Gifts {
					e.Obj(func(e *jx.Encoder) {
						e.Field("rule_id", func(e *jx.Encoder) { e.Str(g.RuleID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(g.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(g.Quantity) })
						e.Field("display_value", func(e *jx.Encoder) { encodeMoney(e, g.DisplayValue) })
						e.Field("price", func(e *jx.Encoder) { encodeMoney(e, g.Price) })
					})
				}
			})
		})
		e.Field("vouchers", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, v := range c.Vouchers {
					e.Obj(func(e *jx.Encoder) {
						e.Field("rule_id", func(e *jx.Encoder) { e.Str(v.RuleID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(v.Quantity) })
						e.Field("face_value", func(e *jx.Encoder) { encodeMoney(e, v.FaceValue) })
					})
				}
			})
		})
		e.Field("cart_discount", func(e *jx.Encoder) {
			if c.CartDiscount == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("rule_id", func(e *jx.Encoder) { e.Str(c.CartDiscount.RuleID) })
				e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, c.CartDiscount.Amount) })
			})
		})
		e.Field("hints", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, h := range c.Hints {
					e.Obj(func(e *jx.Encoder) {
						e.Field("rule_id", func(e *jx.Encoder) { e.Str(h.RuleID) })
						e.Field("amount_needed", func(e *jx.Encoder) { encodeMoney(e, h.AmountNeeded) })
						e.Field("next_discount", func(e *jx.Encoder) { encodeMoney(e, h.NextDiscount) })
						e.Field("message", func(e *jx.Encoder) { e.Str(h.Message) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, c.Subtotal) })
		e.Field("item_total", func(e *jx.Encoder) { encodeMoney(e, c.ItemTotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, c.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, c.Total) })
		e.Field("applied_rules", func(e *jx.Encoder) { encodeStrings(e, c.AppliedRules) })
	})
}

func encodeLine(e *jx.Encoder, l promotion.PricedLine) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
		e.Field("segments", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range l.Segments {
					e.Obj(func(e *jx.Encoder) {
						e.Field("quantity", func(e *jx.Encoder) { e.Int(s.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, s.UnitPrice) })
						e.Field("gift", func(e *jx.Encoder) { e.Bool(s.Gift) })
					})
				}
			})
		})
		e.Field("free_quantity", func(e *jx.Encoder) { e.Int(l.FreeQuantity()) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, l.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, l.Total) })
		if l.RuleID != "" {
			e.Field("rule_id", func(e *jx.Encoder) { e.Str(l.RuleID) })
		}
		if l.Notice != "" {
			e.Field("notice", func(e *jx.Encoder) { e.Str(l.Notice) })
		}
	})
}

func encodeReceipt(e *jx.Encoder, r *promotion.Receipt, issued []*voucher.Voucher, now time.Time) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("cart", func(e *jx.Encoder) { encodeCart(e, r.Cart) })
		e.Field("reservations", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, res := range r.Reservations {
					e.Obj(func(e *jx.Encoder) {
						e.Field("rule_id", func(e *jx.Encoder) { e.Str(res.RuleID) })
						e.Field("units", func(e *jx.Encoder) { e.Int(res.Units) })
					})
				}
			})
		})
		e.Field("sold_out", func(e *jx.Encoder) { encodeStrings(e, r.SoldOut) })
		e.Field("vouchers", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, v := range issued {
					encodeVoucher(e, v, now)
				}
			})
		})
	})
}

func encodeVoucher(e *jx.Encoder, v *voucher.Voucher, now time.Time) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(v.ID.String()) })
		e.Field("rule_id", func(e *jx.Encoder) { e.Str(v.RuleID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(v.CustomerID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(v.Code) })
		e.Field("face_value", func(e *jx.Encoder) { encodeMoney(e, v.FaceValue) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(v.FaceValue.Currency()) })
		e.Field("contents", func(e *jx.Encoder) { e.Str(v.Contents) })
		e.Field("location", func(e *jx.Encoder) { e.Str(v.Location) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(v.State(now))) })
		e.Field("issued_at", func(e *jx.Encoder) { encodeTime(e, v.IssuedAt) })
		e.Field("expires_at", func(e *jx.Encoder) { encodeTime(e, v.ExpiresAt) })
		if !v.LostAt.IsZero() {
			e.Field("lost_at", func(e *jx.Encoder) { encodeTime(e, v.LostAt) })
		}
		if !v.RedeemedAt.IsZero() {
			e.Field("redeemed_at", func(e *jx.Encoder) { encodeTime(e, v.RedeemedAt) })
		}
		if v.ReplacementOf != uuid.Nil {
			e.Field("replacement_of", func(e *jx.Encoder) { e.Str(v.ReplacementOf.String()) })
		}
	})
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, s := range values {
			e.Str(s)
		}
	})
}

func encodeError(e *jx.Encoder, status int, msg string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
}
