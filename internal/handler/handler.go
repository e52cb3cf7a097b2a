// Package handler exposes quoting, order commit and voucher operations over
// HTTP with JSON bodies.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/voucher"
)

// Engine prices carts and commits limited-deal consumption.
type Engine interface {
	Quote(ctx context.Context, pc *promotion.Context) (*promotion.PricedCart, error)
	Commit(ctx context.Context, pc *promotion.Context, selected []string) (*promotion.Receipt, error)
}

// Source supplies the rules, catalog and inventory levels one request is
// evaluated against.
type Source interface {
	Load(ctx context.Context) (*promotion.RuleSet, promotion.MapCatalog, error)
	Snapshot(ctx context.Context, ruleIDs ...string) (promotion.InventorySnapshot, error)
}

// Deals administers limited-deal counters.
type Deals interface {
	Release(ctx context.Context, ruleID string, units int) error
	Reset(ctx context.Context, ruleID string) error
}

// Vouchers is the voucher lifecycle.
type Vouchers interface {
	IssueForCart(ctx context.Context, pc *promotion.Context, cart *promotion.PricedCart) ([]*voucher.Voucher, error)
	Redeem(ctx context.Context, code, location string) (*voucher.Voucher, error)
	ReportLost(ctx context.Context, id uuid.UUID) (*voucher.Voucher, error)
	Replace(ctx context.Context, id uuid.UUID) (*voucher.Voucher, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Currency is used when a request does not name one.
	Currency string
	// Now overrides the clock; evaluation time is always taken server-side.
	Now func() time.Time
}

// Handler serves the promotion API.
type Handler struct {
	engine   Engine
	source   Source
	deals    Deals
	vouchers Vouchers
	currency string
	now      func() time.Time
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, engine Engine, source Source, deals Deals, vouchers Vouchers) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		engine:   engine,
		source:   source,
		deals:    deals,
		vouchers: vouchers,
		currency: cfg.Currency,
		now:      now,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/quote", h.Quote)
	mux.HandleFunc("POST /v1/orders", h.Commit)
	mux.HandleFunc("POST /v1/vouchers/redeem", h.RedeemVoucher)
	mux.HandleFunc("POST /v1/vouchers/{id}/lost", h.ReportLost)
	mux.HandleFunc("POST /v1/vouchers/{id}/replace", h.ReplaceVoucher)
	mux.HandleFunc("POST /v1/admin/deals/{id}/reset", h.ResetDeal)
}
