// Package ratelimit implements sliding-window request admission over the
// keyed store's sorted sets. Each admitted event is a millisecond
// timestamp in a per-identifier set; the window slides by evicting scores
// older than now-window before counting.
package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/store"
)

// keyedMutexSlots sizes the lock pool. Keys hash onto slots, so memory
// stays constant no matter how many distinct identifiers the process
// sees; unrelated keys sharing a slot only contend, never misbehave.
const keyedMutexSlots = 512

// keyedMutex serializes callers per key over a fixed pool of mutexes.
type keyedMutex struct {
	slots [keyedMutexSlots]sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.slots[h.Sum32()%keyedMutexSlots]
	m.Lock()
	return m.Unlock
}

// Rule names recognized by the limiter.
const (
	RuleMessageUser  = "messageUser"
	RuleMessageIP    = "messageIP"
	RuleWebsocketIP  = "websocketIP"
	RuleAPIUser      = "apiUser"
	RuleRoomJoinUser = "roomJoinUser"
)

// Rule is a named limit over a sliding window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Canonical rule set.
var rules = map[string]Rule{
	RuleMessageUser:  {RuleMessageUser, 60, 60 * time.Second},
	RuleMessageIP:    {RuleMessageIP, 100, 60 * time.Second},
	RuleWebsocketIP:  {RuleWebsocketIP, 10, 300 * time.Second},
	RuleAPIUser:      {RuleAPIUser, 1000, 3600 * time.Second},
	RuleRoomJoinUser: {RuleRoomJoinUser, 20, 300 * time.Second},
}

// RuleByName returns the canonical rule with the given name.
func RuleByName(name string) (Rule, bool) {
	r, ok := rules[name]
	return r, ok
}

// Result is the admission verdict for one request.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  int64 // unix ms when the oldest entry leaves the window
	RetryAfter int   // seconds until a retry can succeed; 0 when allowed
}

// Limiter admits requests per (rule, identifier) pair.
type Limiter struct {
	store  store.Store
	logger zerolog.Logger

	// keys serializes the evict-count-add sequence per bucket within
	// this process. The store is not transactional across operations;
	// without this, concurrent callers on one identifier could both read
	// a sub-limit count and both record.
	keys keyedMutex

	// now is swappable so tests can drive the clock.
	now func() time.Time
}

// New creates a limiter over the given store.
func New(st store.Store, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:  st,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the limiter clock. Test helper.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow admits or denies one event for id under the named rule.
//
// Store errors fail open: the event is admitted and a warning logged,
// so a degraded Redis never blocks the chat write path.
func (l *Limiter) Allow(ctx context.Context, ruleName, id string) Result {
	rule, ok := rules[ruleName]
	if !ok {
		l.logger.Warn().Str("rule", ruleName).Msg("Unknown rate limit rule, allowing")
		return Result{Allowed: true, Remaining: 1}
	}

	res, err := l.admit(ctx, rule, id)
	if err != nil {
		metrics.RateLimitFailOpen.Inc()
		l.logger.Warn().
			Err(err).
			Str("rule", rule.Name).
			Str("id", id).
			Msg("Rate limit store error, failing open")
		return Result{Allowed: true, Remaining: rule.Limit}
	}
	if !res.Allowed {
		metrics.RateLimitDenied.WithLabelValues(rule.Name).Inc()
	}
	return res
}

func (l *Limiter) admit(ctx context.Context, rule Rule, id string) (Result, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rule.Name, id)
	unlock := l.keys.lock(key)
	defer unlock()
	nowMs := l.now().UnixMilli()
	windowMs := rule.Window.Milliseconds()

	// 1. Evict everything that has slid out of the window.
	cutoff := strconv.FormatInt(nowMs-windowMs, 10)
	if _, err := l.store.ZRemRangeByScore(ctx, key, "-inf", cutoff); err != nil {
		return Result{}, err
	}

	// 2. Count what remains.
	card, err := l.store.ZCard(ctx, key)
	if err != nil {
		return Result{}, err
	}

	// 3. Full window: deny with the time the oldest entry slides out.
	if card >= int64(rule.Limit) {
		resetTime := nowMs + windowMs
		oldest, err := l.store.ZRangeWithScores(ctx, key, 0, 0)
		if err != nil {
			return Result{}, err
		}
		if len(oldest) > 0 {
			resetTime = int64(oldest[0].Score) + windowMs
		}
		retryAfter := int((resetTime - nowMs + 999) / 1000)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  resetTime,
			RetryAfter: retryAfter,
		}, nil
	}

	// 4. Admit: record the event and refresh the bucket TTL.
	member := strconv.FormatInt(nowMs, 10)
	if err := l.store.ZAdd(ctx, key, float64(nowMs), member); err != nil {
		return Result{}, err
	}
	if err := l.store.Expire(ctx, key, rule.Window); err != nil {
		return Result{}, err
	}

	return Result{
		Allowed:   true,
		Remaining: rule.Limit - int(card) - 1,
		ResetTime: nowMs + windowMs,
	}, nil
}
