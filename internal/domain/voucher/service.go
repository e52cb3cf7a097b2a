package voucher

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// Config tunes the voucher lifecycle.
type Config struct {
	// ReplacementGrace extends a replacement by up to the time the original
	// spent lost. Zero keeps the original's expiry.
	ReplacementGrace time.Duration
	// Now overrides the clock used for redemption and loss.
	Now func() time.Time
}

// Service implements the voucher lifecycle on top of a Repository.
type Service struct {
	repo  Repository
	codes *CodeGenerator
	cfg   Config
	now   func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository, codes *CodeGenerator, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, codes: codes, cfg: cfg, now: now}
}

// Issue creates QuantityPerPurchase vouchers for a purchase evaluated in pc.
// Issue time is the context's evaluation instant.
func (s *Service) Issue(ctx context.Context, rule promotion.ConvenienceStoreVoucher, pc *promotion.Context) ([]*Voucher, error) {
	issuedAt := pc.Now
	vouchers := make([]*Voucher, 0, rule.QuantityPerPurchase)
	for range rule.QuantityPerPurchase {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "generate code")
		}
		vouchers = append(vouchers, &Voucher{
			ID:         uuid.New(),
			RuleID:     rule.ID,
			CustomerID: pc.CustomerID,
			Code:       code,
			FaceValue:  rule.FaceValue,
			Contents:   rule.Contents,
			Location:   rule.RedemptionLocation,
			Status:     StatusIssued,
			IssuedAt:   issuedAt,
			ExpiresAt:  issuedAt.Add(rule.Validity),
		})
	}
	if err := s.repo.Create(ctx, vouchers...); err != nil {
		return nil, errors.Wrap(err, "create vouchers")
	}
	zctx.From(ctx).Info("Vouchers issued",
		zap.String("rule_id", rule.ID),
		zap.String("customer_id", pc.CustomerID),
		zap.Int("count", len(vouchers)),
	)
	return vouchers, nil
}

// IssueForCart issues the vouchers granted in a committed cart.
func (s *Service) IssueForCart(ctx context.Context, pc *promotion.Context, cart *promotion.PricedCart) ([]*Voucher, error) {
	var out []*Voucher
	for _, grant := range cart.Vouchers {
		r, ok := pc.Rules.Get(grant.RuleID)
		if !ok {
			return nil, errors.Wrapf(promotion.ErrUnknownRule, "rule %q", grant.RuleID)
		}
		rule, ok := r.(promotion.ConvenienceStoreVoucher)
		if !ok {
			return nil, errors.Errorf("rule %q is not a voucher rule", grant.RuleID)
		}
		vs, err := s.Issue(ctx, rule, pc)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

// Redeem marks the voucher with code as redeemed at location.
func (s *Service) Redeem(ctx context.Context, code, location string) (*Voucher, error) {
	v, err := s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch v.State(now) {
	case StatusIssued:
	case StatusExpired:
		return nil, ErrExpired
	case StatusRedeemed:
		return nil, ErrRedeemed
	case StatusLost:
		return nil, ErrLost
	default:
		return nil, ErrInvalidated
	}
	if v.Location != "" && v.Location != location {
		return nil, ErrWrongLocation
	}

	v.Status = StatusRedeemed
	v.RedeemedAt = now
	if err := s.repo.Update(ctx, v, StatusIssued); err != nil {
		return nil, errors.Wrap(err, "update voucher")
	}
	return v, nil
}

// ReportLost moves an issued voucher to lost.
func (s *Service) ReportLost(ctx context.Context, id uuid.UUID) (*Voucher, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch v.State(now) {
	case StatusIssued:
	case StatusLost:
		return v, nil
	case StatusExpired:
		return nil, ErrExpired
	case StatusRedeemed:
		return nil, ErrRedeemed
	default:
		return nil, ErrInvalidated
	}

	v.Status = StatusLost
	v.LostAt = now
	if err := s.repo.Update(ctx, v, StatusIssued); err != nil {
		return nil, errors.Wrap(err, "update voucher")
	}
	return v, nil
}

// Replace invalidates a lost voucher and issues a replacement with a new code
// that inherits the original's expiry. Unknown or already replaced vouchers
// yield ErrReplacementNotFound.
func (s *Service) Replace(ctx context.Context, id uuid.UUID) (*Voucher, error) {
	original, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrReplacementNotFound
		}
		return nil, err
	}
	switch original.Status {
	case StatusLost:
	case StatusInvalidated:
		return nil, ErrReplacementNotFound
	default:
		return nil, ErrNotLost
	}
	now := s.now()
	if now.After(original.ExpiresAt) {
		return nil, ErrExpired
	}

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "generate code")
	}
	replacement := &Voucher{
		ID:            uuid.New(),
		RuleID:        original.RuleID,
		CustomerID:    original.CustomerID,
		Code:          code,
		FaceValue:     original.FaceValue,
		Contents:      original.Contents,
		Location:      original.Location,
		Status:        StatusIssued,
		IssuedAt:      now,
		ExpiresAt:     s.replacementExpiry(original, now),
		ReplacementOf: original.ID,
	}
	original.Status = StatusInvalidated
	original.ReplacedBy = replacement.ID

	if err := s.repo.Replace(ctx, original, replacement); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil, ErrReplacementNotFound
		}
		return nil, errors.Wrap(err, "replace voucher")
	}
	zctx.From(ctx).Info("Voucher replaced",
		zap.Stringer("original_id", original.ID),
		zap.Stringer("replacement_id", replacement.ID),
		zap.Time("expires_at", replacement.ExpiresAt),
	)
	return replacement, nil
}

// replacementExpiry keeps the original expiry, extended by the configured
// grace for time spent lost. The extension never lets the replacement outlive
// a voucher freshly issued now.
func (s *Service) replacementExpiry(original *Voucher, now time.Time) time.Time {
	expiry := original.ExpiresAt
	if s.cfg.ReplacementGrace <= 0 || original.LostAt.IsZero() {
		return expiry
	}
	extended := expiry.Add(min(s.cfg.ReplacementGrace, now.Sub(original.LostAt)))
	if fresh := now.Add(original.Validity()); extended.After(fresh) {
		extended = fresh
	}
	if extended.Before(expiry) {
		return expiry
	}
	return extended
}
