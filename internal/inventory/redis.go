package inventory

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const keyPrefix = "promo:inventory:"

// consumeScript grants min(units, cap-consumed) atomically. Returns -1 for an
// unregistered deal.
var consumeScript = redis.NewScript(`
local cap = redis.call("HGET", KEYS[1], "cap")
if not cap then
	return -1
end
local consumed = tonumber(redis.call("HGET", KEYS[1], "consumed") or "0")
local left = tonumber(cap) - consumed
if left <= 0 then
	return 0
end
local n = tonumber(ARGV[1])
if n > left then
	n = left
end
redis.call("HINCRBY", KEYS[1], "consumed", n)
return n
`)

var releaseScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local consumed = tonumber(redis.call("HGET", KEYS[1], "consumed") or "0")
local n = tonumber(ARGV[1])
if n > consumed then
	n = consumed
end
redis.call("HINCRBY", KEYS[1], "consumed", -n)
return n
`)

// Redis keeps deal counters in hashes so several engine instances share them.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps a connected client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func key(ruleID string) string {
	return keyPrefix + ruleID
}

// Register sets the cap of a deal, keeping consumption of an existing record.
func (r *Redis) Register(ctx context.Context, ruleID string, capacity int) error {
	if capacity < 0 {
		return errors.Errorf("negative capacity %d", capacity)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key(ruleID), "cap", capacity)
		p.HSetNX(ctx, key(ruleID), "consumed", 0)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "register %s", ruleID)
	}
	return nil
}

// Reset zeroes consumption of a deal.
func (r *Redis) Reset(ctx context.Context, ruleID string) error {
	n, err := r.client.Exists(ctx, key(ruleID)).Result()
	if err != nil {
		return errors.Wrapf(err, "reset %s", ruleID)
	}
	if n == 0 {
		return errors.Wrapf(ErrUnknownDeal, "rule %q", ruleID)
	}
	if err := r.client.HSet(ctx, key(ruleID), "consumed", 0).Err(); err != nil {
		return errors.Wrapf(err, "reset %s", ruleID)
	}
	return nil
}

func (r *Redis) Consume(ctx context.Context, ruleID string, units int) (int, error) {
	if units <= 0 {
		return 0, promotion.ErrInvalidQuantity
	}
	n, err := consumeScript.Run(ctx, r.client, []string{key(ruleID)}, units).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "consume %s", ruleID)
	}
	switch {
	case n < 0:
		return 0, errors.Wrapf(ErrUnknownDeal, "rule %q", ruleID)
	case n == 0:
		return 0, &promotion.SoldOutError{RuleID: ruleID}
	}
	return n, nil
}

func (r *Redis) Release(ctx context.Context, ruleID string, units int) error {
	if units <= 0 {
		return promotion.ErrInvalidQuantity
	}
	n, err := releaseScript.Run(ctx, r.client, []string{key(ruleID)}, units).Int()
	if err != nil {
		return errors.Wrapf(err, "release %s", ruleID)
	}
	if n < 0 {
		return errors.Wrapf(ErrUnknownDeal, "rule %q", ruleID)
	}
	return nil
}

// Snapshot reads the levels of the given deals in one round trip. Unknown ids
// are omitted.
func (r *Redis) Snapshot(ctx context.Context, ruleIDs ...string) (promotion.InventorySnapshot, error) {
	if len(ruleIDs) == 0 {
		return promotion.InventorySnapshot{}, nil
	}
	cmds := make([]*redis.SliceCmd, len(ruleIDs))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ruleIDs {
			cmds[i] = p.HMGet(ctx, key(id), "cap", "consumed")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "snapshot")
	}

	out := make(promotion.InventorySnapshot, len(ruleIDs))
	for i, id := range ruleIDs {
		vals := cmds[i].Val()
		if len(vals) != 2 || vals[0] == nil {
			continue
		}
		capacity, err := parseField(vals[0])
		if err != nil {
			return nil, errors.Wrapf(err, "parse cap of %s", id)
		}
		consumed, err := parseField(vals[1])
		if err != nil {
			return nil, errors.Wrapf(err, "parse consumed of %s", id)
		}
		out[id] = promotion.Level{Cap: capacity, Consumed: consumed}
	}
	return out, nil
}

func parseField(v any) (int, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, errors.Errorf("unexpected type %T", v)
	}
}

// Ping checks connectivity for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
