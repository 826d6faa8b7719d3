package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window gate shared across replicas. Each check runs
// INCR and PEXPIRE on "ratelimit:<identity>:<slot>" in one MULTI/EXEC
// block, so concurrent checks from one identity are counted exactly once
// each.
type Redis struct {
	client redis.UniversalClient
	policy Policy
	prefix string
	now    func() time.Time
}

// NewRedis constructs a Redis gate for p.
func NewRedis(client redis.UniversalClient, p Policy) *Redis {
	return &Redis{client: client, policy: p.normalized(), prefix: "ratelimit:", now: time.Now}
}

func (g *Redis) Check(ctx context.Context, identity string) Decision {
	id := normalizeIdentity(identity)
	now := g.now()
	win := g.policy.Window.Milliseconds()
	slot := now.UnixMilli() / win
	key := g.prefix + id + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.PExpire(ctx, key, g.policy.Window)
		return nil
	})
	if err != nil {
		return failOpen(id, err)
	}
	if incr.Val() <= int64(g.policy.Limit) {
		return Decision{Allowed: true}
	}
	reset := time.UnixMilli((slot + 1) * win)
	retry := reset.Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
