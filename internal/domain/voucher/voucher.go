// Package voucher manages convenience-store vouchers issued by promotions:
// issuance, redemption, loss reporting and replacement.
package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-promotions/internal/domain/money"
)

// Status is the stored lifecycle state. Expiry is derived from ExpiresAt and
// never stored.
type Status string

const (
	StatusIssued      Status = "issued"
	StatusRedeemed    Status = "redeemed"
	StatusLost        Status = "lost"
	StatusInvalidated Status = "invalidated"
	// StatusExpired is reported by State for issued vouchers past ExpiresAt.
	StatusExpired Status = "expired"
)

var (
	ErrNotFound            = errors.New("voucher not found")
	ErrReplacementNotFound = errors.New("voucher replacement not found")
	ErrExpired             = errors.New("voucher expired")
	ErrRedeemed            = errors.New("voucher already redeemed")
	ErrInvalidated         = errors.New("voucher invalidated")
	ErrWrongLocation       = errors.New("voucher not redeemable at this location")
	ErrNotLost             = errors.New("voucher is not reported lost")
	ErrLost                = errors.New("voucher reported lost")
	// ErrStateChanged is returned by repositories when a conditional update
	// finds the voucher in a different state than expected.
	ErrStateChanged = errors.New("voucher state changed concurrently")
)

// Voucher is a redeemable credential issued by a promotion.
type Voucher struct {
	ID         uuid.UUID
	RuleID     string
	CustomerID string
	Code       string
	FaceValue  money.Money
	Contents   string
	Location   string
	Status     Status

	IssuedAt   time.Time
	ExpiresAt  time.Time
	LostAt     time.Time
	RedeemedAt time.Time

	// ReplacementOf links a replacement to the voucher it superseded.
	ReplacementOf uuid.UUID
	// ReplacedBy links an invalidated voucher to its replacement.
	ReplacedBy uuid.UUID
}

// State returns the effective status at now.
func (v *Voucher) State(now time.Time) Status {
	if v.Status == StatusIssued && now.After(v.ExpiresAt) {
		return StatusExpired
	}
	return v.Status
}

// Validity is the period the voucher was issued with.
func (v *Voucher) Validity() time.Duration {
	return v.ExpiresAt.Sub(v.IssuedAt)
}

// Repository persists vouchers.
type Repository interface {
	Create(ctx context.Context, vouchers ...*Voucher) error
	Get(ctx context.Context, id uuid.UUID) (*Voucher, error)
	GetByCode(ctx context.Context, code string) (*Voucher, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// Update stores v if the persisted status still equals from, otherwise
	// it returns ErrStateChanged.
	Update(ctx context.Context, v *Voucher, from Status) error
	// Replace atomically stores the invalidated original and inserts its
	// replacement. The original must still be lost.
	Replace(ctx context.Context, original, replacement *Voucher) error
}
