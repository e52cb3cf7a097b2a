package promotion

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/xenking/kart-promotions/internal/domain/promotion"

// Inventory is the authoritative counter of limited-deal consumption.
// Implementations must make Consume atomic per rule id.
type Inventory interface {
	// Consume reserves up to units for ruleID and returns the number granted.
	// A fully exhausted deal returns 0 and a *SoldOutError.
	Consume(ctx context.Context, ruleID string, units int) (int, error)
	// Release returns previously consumed units.
	Release(ctx context.Context, ruleID string, units int) error
}

// Options configures an Engine.
type Options struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
}

// Engine evaluates carts and commits limited-deal consumption.
type Engine struct {
	inventory Inventory
	tracer    trace.Tracer

	quotes  metric.Int64Counter
	commits metric.Int64Counter
	soldOut metric.Int64Counter
}

// NewEngine creates an Engine backed by inventory.
func NewEngine(inventory Inventory, opts Options) (*Engine, error) {
	if inventory == nil {
		return nil, errors.New("inventory is required")
	}
	opts.setDefaults()
	meter := opts.MeterProvider.Meter(instrumentationName)

	e := &Engine{
		inventory: inventory,
		tracer:    opts.TracerProvider.Tracer(instrumentationName),
	}
	var err error
	if e.quotes, err = meter.Int64Counter("promotion.quotes",
		metric.WithDescription("Carts evaluated without consuming inventory"),
	); err != nil {
		return nil, errors.Wrap(err, "quotes counter")
	}
	if e.commits, err = meter.Int64Counter("promotion.commits",
		metric.WithDescription("Carts committed"),
	); err != nil {
		return nil, errors.Wrap(err, "commits counter")
	}
	if e.soldOut, err = meter.Int64Counter("promotion.deal_sold_out",
		metric.WithDescription("Limited deals that could not be fully granted at commit"),
	); err != nil {
		return nil, errors.Wrap(err, "sold out counter")
	}
	return e, nil
}

// Quote evaluates the cart against the context's inventory snapshot. It has no
// side effects.
func (e *Engine) Quote(ctx context.Context, pc *Context) (_ *PricedCart, rerr error) {
	ctx, span := e.tracer.Start(ctx, "promotion.Quote",
		trace.WithAttributes(attribute.Int("promotion.lines", len(pc.Items))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	out, err := evaluate(pc, evalOptions{})
	if err != nil {
		return nil, err
	}
	e.quotes.Add(ctx, 1)
	return out.cart, nil
}

// Reservation is the number of units consumed from one limited deal.
type Reservation struct {
	RuleID string
	Units  int
}

// Receipt is the outcome of a commit.
type Receipt struct {
	Cart         *PricedCart
	Reservations []Reservation
	// SoldOut lists limited deals granted fewer units than quoted.
	SoldOut []string
}

// Commit evaluates the cart and consumes limited-deal inventory for the
// result. selected restricts evaluation to the given rule ids; nil admits
// every rule. Deals that run out between quote and commit are re-priced with
// the next applicable rule or the regular price, never failing the commit.
// On error every reservation made so far is released.
func (e *Engine) Commit(ctx context.Context, pc *Context, selected []string) (_ *Receipt, rerr error) {
	ctx, span := e.tracer.Start(ctx, "promotion.Commit",
		trace.WithAttributes(
			attribute.Int("promotion.lines", len(pc.Items)),
			attribute.Int("promotion.selected", len(selected)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx)

	opts := evalOptions{inventory: cloneSnapshot(pc.Inventory)}
	if selected != nil {
		opts.allowed = make(map[string]struct{}, len(selected))
		for _, id := range selected {
			if _, ok := pc.Rules.Get(id); !ok {
				return nil, errors.Wrapf(ErrUnknownRule, "rule %q", id)
			}
			opts.allowed[id] = struct{}{}
		}
	}

	reserved := make(map[string]int)
	defer func() {
		if rerr != nil {
			e.releaseAll(ctx, reserved)
		}
	}()

	var soldOut []string
	// Each round either converges or pins at least one more deal to its
	// reservation, so the number of limited rules bounds the loop.
	for range pc.Rules.Len() + 1 {
		out, err := evaluate(pc, opts)
		if err != nil {
			return nil, err
		}

		wants := make(map[string]int)
		for id, units := range out.dealUnits {
			if _, pinned := reserved[id]; !pinned && units > 0 {
				wants[id] = units
			}
		}
		if len(wants) == 0 {
			e.releaseUnused(ctx, reserved, out.dealUnits)
			e.commits.Add(ctx, 1)
			slices.Sort(soldOut)
			lg.Debug("Cart committed",
				zap.String("customer_id", pc.CustomerID),
				zap.Strings("applied_rules", out.cart.AppliedRules),
				zap.Stringer("total", out.cart.Total),
			)
			return &Receipt{
				Cart:         out.cart,
				Reservations: reservations(reserved),
				SoldOut:      soldOut,
			}, nil
		}

		granted, err := e.reserve(ctx, wants)
		for id, n := range granted {
			reserved[id] += n
		}
		if err != nil {
			return nil, err
		}
		for id, want := range wants {
			got := granted[id]
			if got < want {
				soldOut = append(soldOut, id)
				e.soldOut.Add(ctx, 1, metric.WithAttributes(attribute.String("promotion.rule_id", id)))
				lg.Info("Limited deal short at commit",
					zap.String("rule_id", id),
					zap.Int("wanted", want),
					zap.Int("granted", got),
				)
			}
			// Re-evaluate as if the deal had exactly the reserved units left.
			opts.inventory[id] = Level{Cap: reserved[id]}
		}
	}
	return nil, errors.New("commit did not converge")
}

// reserve consumes inventory for every wanted deal concurrently. Granted
// counts are returned even when some deal fails so the caller can release
// them.
func (e *Engine) reserve(ctx context.Context, wants map[string]int) (map[string]int, error) {
	ids := make([]string, 0, len(wants))
	for id := range wants {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	granted := make([]int, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			n, err := e.inventory.Consume(gctx, id, wants[id])
			if err != nil && !errors.Is(err, ErrDealSoldOut) {
				return errors.Wrapf(err, "consume %s", id)
			}
			granted[i] = n
			return nil
		})
	}
	err := g.Wait()

	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = granted[i]
	}
	return out, err
}

// releaseUnused returns reserved units the final evaluation did not price at
// the deal price.
func (e *Engine) releaseUnused(ctx context.Context, reserved, used map[string]int) {
	for id, n := range reserved {
		extra := n - used[id]
		if extra <= 0 {
			continue
		}
		if err := e.inventory.Release(ctx, id, extra); err != nil {
			zctx.From(ctx).Warn("Release unused units", zap.String("rule_id", id), zap.Error(err))
			continue
		}
		reserved[id] = used[id]
	}
}

func (e *Engine) releaseAll(ctx context.Context, reserved map[string]int) {
	ctx = context.WithoutCancel(ctx)
	for id, n := range reserved {
		if n <= 0 {
			continue
		}
		if err := e.inventory.Release(ctx, id, n); err != nil {
			zctx.From(ctx).Error("Release reservation", zap.String("rule_id", id), zap.Error(err))
		}
	}
}

func reservations(reserved map[string]int) []Reservation {
	var out []Reservation
	for id, n := range reserved {
		if n > 0 {
			out = append(out, Reservation{RuleID: id, Units: n})
		}
	}
	slices.SortFunc(out, func(a, b Reservation) int {
		return strings.Compare(a.RuleID, b.RuleID)
	})
	return out
}
