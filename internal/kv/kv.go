// Package kv is the key-value boundary of the chat engine. It exposes the two
// primitive shapes the persistence layer is built on: hash-like records
// addressed by a string key, and ordered sets of members with numeric scores.
//
// Multi-key writes are expressed as a Batch that is submitted as one unit.
// Whether a batch commits atomically depends on the backend:
//
//   - Redis (default pipeline): best effort. Commands are sent together, but a
//     failure part-way can leave some applied and others not.
//   - Redis with transactions enabled: MULTI/EXEC. Commands are applied
//     together, but Redis does not roll back a command that failed at runtime.
//   - SQL: every batch runs in one database transaction.
//
// Callers that need strict consistency must re-verify after a failed batch.
package kv

import (
	"context"
	"errors"
)

// ErrUnavailable wraps backend connectivity errors so callers can choose a
// degradation policy without depending on driver types.
var ErrUnavailable = errors.New("kv store unavailable")

// Member is a sorted-set member with its score.
type Member struct {
	Member string
	Score  float64
}

// Batch collects writes that are submitted together.
type Batch interface {
	// HSet writes fields into the hash at key.
	HSet(key string, fields map[string]string)
	// Del removes keys of any shape.
	Del(keys ...string)
	// ZAdd adds member to the sorted set at key, or updates its score.
	ZAdd(key, member string, score float64)
	// ZRem removes members from the sorted set at key.
	ZRem(key string, members ...string)
}

// Store is implemented by every backend.
//
// Absent keys are never an error: HGetAll returns an empty map and range
// queries return empty slices.
type Store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HGetAllMany reads several hashes in one round-trip. The result is
	// aligned with keys; absent hashes are empty maps.
	HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error)
	HGet(ctx context.Context, key, field string) (string, bool, error)

	// ZRevRange returns members by score descending for the inclusive rank
	// range [start, stop]; a negative stop counts from the end (-1 is the
	// last member). Equal scores come back most recently written first.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Batch runs fn to collect writes and submits them as one unit.
	Batch(ctx context.Context, fn func(b Batch)) error

	Ping(ctx context.Context) error
	Close() error
}

// op is a recorded batch operation.
type op struct {
	kind    opKind
	key     string
	fields  map[string]string
	keys    []string
	member  string
	members []string
	score   float64
}

type opKind int

const (
	opHSet opKind = iota
	opDel
	opZAdd
	opZRem
)

// recorder is a Batch that records operations for later replay.
type recorder struct {
	ops []op
}

func (r *recorder) HSet(key string, fields map[string]string) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	r.ops = append(r.ops, op{kind: opHSet, key: key, fields: cp})
}

func (r *recorder) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	r.ops = append(r.ops, op{kind: opDel, keys: append([]string(nil), keys...)})
}

func (r *recorder) ZAdd(key, member string, score float64) {
	r.ops = append(r.ops, op{kind: opZAdd, key: key, member: member, score: score})
}

func (r *recorder) ZRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	r.ops = append(r.ops, op{kind: opZRem, key: key, members: append([]string(nil), members...)})
}

// record runs fn against a fresh recorder.
func record(fn func(b Batch)) []op {
	r := &recorder{}
	fn(r)
	return r.ops
}
