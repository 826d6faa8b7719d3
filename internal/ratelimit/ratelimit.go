// Package ratelimit implements the admission gate applied before any model
// invocation.
//
// A Gate answers Check(identity) with Allowed or Denied(retryAfter) and
// counts exactly one request per call. Two backends are provided:
//
//   - Local: per-identity token buckets (golang.org/x/time/rate) held in
//     process memory with opportunistic eviction of idle buckets.
//   - Redis: a fixed-window counter shared by every replica.
//
// Identities are usually client IPs taken from proxy headers, which callers
// can spoof. An empty identity is not bypassed: all such callers share the
// "anonymous" bucket.
//
// When the counter store is unavailable the gate fails open: the request is
// allowed, a warning is logged and ratelimit_store_errors_total is
// incremented.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-stream/internal/observability"
)

// MinWindow is the smallest window a Policy can express.
const MinWindow = time.Millisecond

// AnonymousIdentity keys the bucket shared by callers without an identity.
const AnonymousIdentity = "anonymous"

// Decision is the outcome of one gate check.
type Decision struct {
	Allowed bool
	// RetryAfter is set when Allowed is false.
	RetryAfter time.Duration
}

// Gate is the admission contract.
type Gate interface {
	Check(ctx context.Context, identity string) Decision
}

// Policy is the shared limit: Limit requests per Window. Windows are
// counted in whole milliseconds; shorter ones are raised to MinWindow.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.Window < MinWindow {
		p.Window = MinWindow
	}
	return p
}

// normalizeIdentity trims the identity and maps empty to AnonymousIdentity.
func normalizeIdentity(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return AnonymousIdentity
	}
	return id
}

// failOpen records a store failure and admits the request.
func failOpen(identity string, err error) Decision {
	observability.RateStoreErrors.Inc()
	log.Warn().Err(err).Str("identity", identity).Msg("rate gate store unavailable; allowing request")
	return Decision{Allowed: true}
}

// Instrumented wraps a gate with the admission counter.
func Instrumented(g Gate) Gate { return instrumented{g} }

type instrumented struct{ next Gate }

func (i instrumented) Check(ctx context.Context, identity string) Decision {
	d := i.next.Check(ctx, identity)
	if d.Allowed {
		observability.Admissions.WithLabelValues("allowed").Inc()
	} else {
		observability.Admissions.WithLabelValues("denied").Inc()
	}
	return d
}

// AllowAll admits every request.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string) Decision { return Decision{Allowed: true} }
