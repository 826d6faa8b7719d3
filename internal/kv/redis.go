package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	// URL is a redis:// URL, or a comma-separated list of URLs / host:port
	// addresses for a cluster.
	URL string
	// Tx submits batches with MULTI/EXEC instead of a plain pipeline.
	Tx bool
	// DialTimeout bounds the startup ping. Defaults to 5s.
	DialTimeout time.Duration
}

// Redis is a Store backed by Redis hashes and sorted sets.
//
// Every sorted set "<key>" carries companions in the same cluster slot:
// "{<key>}:rank" mirrors the set with members prefixed by a zero-padded
// write sequence, "{<key>}:seq" maps each member to its rank member, and
// "{<key>}:next" is the sequence counter. Ranges are read from the rank set,
// so equal scores come back most recently written first, as on the SQL
// backend.
type Redis struct {
	client redis.UniversalClient
	tx     bool
}

// OpenRedis connects to Redis and verifies the connection with a ping.
func OpenRedis(ctx context.Context, o RedisOptions) (*Redis, error) {
	if strings.TrimSpace(o.URL) == "" {
		return nil, errors.New("redis url must be provided")
	}
	opts, err := buildUniversalOptions(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if len(opts.Addrs) > 1 && opts.DB != 0 {
		opts.DB = 0
	}

	client := redis.NewUniversalClient(opts)

	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %v", ErrUnavailable, err)
	}
	return NewRedis(client, o.Tx), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, tx bool) *Redis {
	return &Redis{client: client, tx: tx}
}

// Client exposes the underlying client for components that need raw
// commands (e.g. the distributed rate gate).
func (r *Redis) Client() redis.UniversalClient { return r.client }

// Companion key suffixes of a sorted set.
const (
	rankSuffix = ":rank"
	seqSuffix  = ":seq"
	nextSuffix = ":next"
	// seqWidth pads sequences so lexicographic order matches numeric order.
	seqWidth = 20
)

func zsetKeys(key string) []string {
	tag := "{" + key + "}"
	return []string{key, tag + rankSuffix, tag + seqSuffix, tag + nextSuffix}
}

// zaddScript adds or moves ARGV[2] with score ARGV[1] and stamps it with the
// next write sequence.
var zaddScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[3], ARGV[2])
if old then redis.call('ZREM', KEYS[2], old) end
local seq = tostring(redis.call('INCR', KEYS[4]))
local ranked = string.rep('0', 20 - string.len(seq)) .. seq .. '|' .. ARGV[2]
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[1], ranked)
redis.call('HSET', KEYS[3], ARGV[2], ranked)
return 1
`)

// zremScript removes every ARGV member from the set and its companions.
var zremScript = redis.NewScript(`
for _, m in ipairs(ARGV) do
  local old = redis.call('HGET', KEYS[3], m)
  if old then redis.call('ZREM', KEYS[2], old) end
  redis.call('HDEL', KEYS[3], m)
  redis.call('ZREM', KEYS[1], m)
end
return 1
`)

// rankedMember strips the sequence prefix from a rank set member.
func rankedMember(s string) string {
	if len(s) > seqWidth && s[seqWidth] == '|' {
		return s[seqWidth+1:]
	}
	return s
}

// HGetAll returns every field of the hash at key.
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	return m, nil
}

// HGetAllMany pipelines one HGETALL per key.
func (r *Redis) HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, wrapRedis(err)
	}
	out := make([]map[string]string, len(keys))
	for i, c := range cmds {
		m, err := c.Result()
		if err != nil {
			return nil, wrapRedis(err)
		}
		out[i] = m
	}
	return out, nil
}

// HGet returns one field of the hash at key.
func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedis(err)
	}
	return v, true, nil
}

// ZRevRange reads the rank set of key, score descending and latest write
// first among equal scores.
func (r *Redis) ZRevRange(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := r.client.ZRevRangeWithScores(ctx, zsetKeys(key)[1], start, stop).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		out = append(out, Member{Member: rankedMember(m), Score: z.Score})
	}
	return out, nil
}

// ZCard returns the number of members of the sorted set at key.
func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapRedis(err)
	}
	return n, nil
}

// Batch replays the recorded operations into one pipeline (or MULTI/EXEC
// block when transactions are enabled). Deletes are issued per key so a
// batch never spans cluster slots within one command.
func (r *Redis) Batch(ctx context.Context, fn func(b Batch)) error {
	ops := record(fn)
	if len(ops) == 0 {
		return nil
	}
	apply := func(p redis.Pipeliner) error {
		for _, o := range ops {
			switch o.kind {
			case opHSet:
				vals := make(map[string]interface{}, len(o.fields))
				for k, v := range o.fields {
					vals[k] = v
				}
				p.HSet(ctx, o.key, vals)
			case opDel:
				for _, k := range o.keys {
					p.Del(ctx, zsetKeys(k)...)
				}
			case opZAdd:
				zaddScript.Eval(ctx, p, zsetKeys(o.key), o.score, o.member)
			case opZRem:
				members := make([]interface{}, len(o.members))
				for i, m := range o.members {
					members[i] = m
				}
				zremScript.Eval(ctx, p, zsetKeys(o.key), members...)
			}
		}
		return nil
	}
	var err error
	if r.tx {
		_, err = r.client.TxPipelined(ctx, apply)
	} else {
		_, err = r.client.Pipelined(ctx, apply)
	}
	return wrapRedis(err)
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error { return wrapRedis(r.client.Ping(ctx).Err()) }

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }

// wrapRedis marks connectivity failures with ErrUnavailable.
func wrapRedis(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// buildUniversalOptions accepts a single URL or a comma-separated list of
// URLs/addresses (cluster). Connection settings are taken from the first URL.
func buildUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}
		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
		if opts.DialTimeout == 0 {
			opts.DialTimeout = parsed.DialTimeout
		}
		if opts.ReadTimeout == 0 {
			opts.ReadTimeout = parsed.ReadTimeout
		}
		if opts.WriteTimeout == 0 {
			opts.WriteTimeout = parsed.WriteTimeout
		}
		if opts.PoolSize == 0 {
			opts.PoolSize = parsed.PoolSize
		}
	}

	if len(opts.Addrs) == 0 {
		return nil, errors.New("no redis addresses provided")
	}
	return opts, nil
}
