package promotion

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidRuleConfiguration is returned at load time for malformed rules.
	ErrInvalidRuleConfiguration = errors.New("invalid rule configuration")
	// ErrDealSoldOut is returned when a capacity-limited deal has no units left.
	ErrDealSoldOut = errors.New("deal no longer available")
	// ErrUnknownRule is returned when a commit selects a rule id that is not
	// part of the context's rule set.
	ErrUnknownRule = errors.New("unknown promotion rule")
	// ErrInvalidQuantity is returned when a line item has a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InvalidRuleError describes why a rule was rejected.
type InvalidRuleError struct {
	RuleID string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %q: %s", e.RuleID, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidRuleConfiguration).
func (e *InvalidRuleError) Unwrap() error {
	return ErrInvalidRuleConfiguration
}

func invalid(id, format string, args ...any) error {
	return &InvalidRuleError{RuleID: id, Reason: fmt.Sprintf(format, args...)}
}

// SoldOutError reports the exhausted deal.
type SoldOutError struct {
	RuleID string
}

func (e *SoldOutError) Error() string {
	return fmt.Sprintf("deal %q no longer available", e.RuleID)
}

// Unwrap allows errors.Is(err, ErrDealSoldOut).
func (e *SoldOutError) Unwrap() error {
	return ErrDealSoldOut
}

// LineError describes a malformed cart line.
type LineError struct {
	ProductID string
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %s: %s", e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
