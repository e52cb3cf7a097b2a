package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/money"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

var errUnknownProduct = errors.New("unknown product")

// Quote prices a cart without touching inventory.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeCart(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pc, err := h.context(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.engine.Quote(ctx, pc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, cart) })
}

// Commit prices a cart, consumes limited-deal units and issues vouchers.
// Reservations are released when voucher issuance fails.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeCart(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pc, err := h.context(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.engine.Commit(ctx, pc, req.Rules)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	issued, err := h.vouchers.IssueForCart(ctx, pc, receipt.Cart)
	if err != nil {
		h.release(ctx, receipt.Reservations)
		h.writeError(w, r, errors.Wrap(err, "issue vouchers"))
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeReceipt(e, receipt, issued, pc.Now) })
}

// context resolves unit prices from the catalog when the cart omits them.
func (h *Handler) context(ctx context.Context, req *cartRequest) (*promotion.Context, error) {
	set, catalog, err := h.source.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	currency := req.Currency
	if currency == "" {
		currency = h.currency
	}

	items := make([]promotion.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = promotion.LineItem{ProductID: item.ProductID, Quantity: item.Quantity}
		if item.UnitPrice != nil {
			items[i].UnitPrice = money.New(*item.UnitPrice, currency)
			continue
		}
		p, ok := catalog.Product(item.ProductID)
		if !ok {
			return nil, &promotion.LineError{ProductID: item.ProductID, Err: errUnknownProduct}
		}
		items[i].UnitPrice = p.Price
	}

	snapshot, err := h.source.Snapshot(ctx, set.LimitedRuleIDs()...)
	if err != nil {
		return nil, errors.Wrap(err, "inventory snapshot")
	}
	return promotion.NewContext(req.CustomerID, currency, h.now(), items, set, catalog, snapshot)
}

func (h *Handler) release(ctx context.Context, reservations []promotion.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, res := range reservations {
		if err := h.deals.Release(ctx, res.RuleID, res.Units); err != nil {
			zctx.From(ctx).Error("Release reservation",
				zap.String("rule_id", res.RuleID),
				zap.Int("units", res.Units),
				zap.Error(err),
			)
		}
	}
}

// ResetDeal zeroes consumption of a limited deal.
func (h *Handler) ResetDeal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deals.Reset(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	zctx.From(r.Context()).Info("Deal reset", zap.String("rule_id", id))
	w.WriteHeader(http.StatusNoContent)
}
