package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-promotions/internal/domain/voucher"
)

// RedeemVoucher redeems a voucher by code at a location.
func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRedeem(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.vouchers.Redeem(r.Context(), req.Code, req.Location)
	h.writeVoucher(w, r, http.StatusOK, v, err)
}

// ReportLost marks a voucher lost so it can be replaced.
func (h *Handler) ReportLost(w http.ResponseWriter, r *http.Request) {
	id, err := voucherID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.vouchers.ReportLost(r.Context(), id)
	h.writeVoucher(w, r, http.StatusOK, v, err)
}

// ReplaceVoucher issues a replacement for a lost voucher.
func (h *Handler) ReplaceVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := voucherID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.vouchers.Replace(r.Context(), id)
	h.writeVoucher(w, r, http.StatusCreated, v, err)
}

func (h *Handler) writeVoucher(w http.ResponseWriter, r *http.Request, status int, v *voucher.Voucher, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.now()
	writeJSON(w, status, func(e *jx.Encoder) { encodeVoucher(e, v, now) })
}

func voucherID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, badRequest(errors.Wrap(err, "voucher id"))
	}
	return id, nil
}
