package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/money"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/voucher"
	"github.com/xenking/kart-promotions/internal/inventory"
)

// statusOf maps domain errors to HTTP status codes: 400 for malformed input,
// 404 for missing entities, 409 for state conflicts, 422 for refusals.
func statusOf(err error) int {
	var (
		bad  *badRequestError
		line *promotion.LineError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, voucher.ErrNotFound),
		errors.Is(err, voucher.ErrReplacementNotFound),
		errors.Is(err, inventory.ErrUnknownDeal):
		return http.StatusNotFound
	case errors.Is(err, voucher.ErrExpired),
		errors.Is(err, voucher.ErrRedeemed),
		errors.Is(err, voucher.ErrInvalidated),
		errors.Is(err, voucher.ErrLost),
		errors.Is(err, voucher.ErrNotLost),
		errors.Is(err, voucher.ErrStateChanged),
		errors.Is(err, promotion.ErrDealSoldOut):
		return http.StatusConflict
	case errors.As(err, &line),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, promotion.ErrUnknownRule),
		errors.Is(err, promotion.ErrInvalidQuantity),
		errors.Is(err, voucher.ErrWrongLocation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeError(e, status, msg) })
}
