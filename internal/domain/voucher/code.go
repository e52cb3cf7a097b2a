package voucher

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	// codeAlphabet omits look-alike characters; 32 symbols keep b&31 unbiased.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultCodeLength = 12
	maxCodeAttempts   = 16
	bloomFPR          = 0.001
)

// ErrCodeSpaceExhausted is returned when no unused code was found.
var ErrCodeSpaceExhausted = errors.New("could not generate a unique voucher code")

// CodeChecker reports whether a code is already taken.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator produces unique redemption codes. A bloom filter of issued
// codes answers "definitely new" without a lookup; only filter hits are
// confirmed against the checker.
type CodeGenerator struct {
	mu      sync.Mutex
	filter  *bloom.BloomFilter
	length  int
	checker CodeChecker
	rand    io.Reader
}

// NewCodeGenerator sizes the filter for expected codes.
func NewCodeGenerator(length int, expected uint, checker CodeChecker) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if expected == 0 {
		expected = 1 << 16
	}
	return &CodeGenerator{
		filter:  bloom.NewWithEstimates(expected, bloomFPR),
		length:  length,
		checker: checker,
		rand:    rand.Reader,
	}
}

// Seed records existing codes, e.g. loaded at startup.
func (g *CodeGenerator) Seed(codes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range codes {
		g.filter.AddString(c)
	}
}

// Generate returns a code not previously generated or seeded and not known to
// the checker.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code, err := g.random()
		if err != nil {
			return "", errors.Wrap(err, "read random")
		}

		g.mu.Lock()
		seen := g.filter.TestString(code)
		g.mu.Unlock()

		if seen {
			if g.checker == nil {
				continue
			}
			exists, err := g.checker.CodeExists(ctx, code)
			if err != nil {
				return "", errors.Wrap(err, "check code")
			}
			if exists {
				continue
			}
		}

		g.mu.Lock()
		// Another goroutine may have produced the same code meanwhile.
		if g.filter.TestAndAddString(code) && !seen {
			g.mu.Unlock()
			continue
		}
		g.mu.Unlock()
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (g *CodeGenerator) random() (string, error) {
	buf := make([]byte, g.length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[b&31]
	}
	return string(buf), nil
}
