package store

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and as a single-node dev
// fallback when no Redis is configured. Semantics mirror the Redis
// implementation, including TTL expiry and millisecond-precision sorted
// set scores. Expired keys are reaped lazily on access.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	expiry  map[string]time.Time

	// now is swappable so tests can drive the clock.
	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store clock. Test helper.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// expired reports and reaps a dead key. Caller must hold the write lock.
func (m *Memory) expired(key string) bool {
	deadline, ok := m.expiry[key]
	if !ok || m.now().Before(deadline) {
		return false
	}
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.zsets, key)
	delete(m.expiry, key)
	return true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", ErrNil
	}
	val, ok := m.strings[key]
	if !ok {
		return "", ErrNil
	}
	return val, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.zsets, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return false, nil
	}
	if _, ok := m.strings[key]; ok {
		return true, nil
	}
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.zsets[key]; ok {
		return true, nil
	}
	return false, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	m.expiry[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		// fresh counter
	}
	n, _ := strconv.ParseInt(m.strings[key], 10, 64)
	n++
	m.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", ErrNil
	}
	val, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNil
	}
	return val, nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	if len(m.hashes[key]) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]string, len(m.hashes[key]))
	if m.expired(key) {
		return result, nil
	}
	for f, v := range m.hashes[key] {
		result[f] = v
	}
	return result, nil
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

// sortedMembers returns the set ordered by (score, member) ascending.
// Caller must hold the lock.
func (m *Memory) sortedMembers(key string) []Z {
	z := m.zsets[key]
	result := make([]Z, 0, len(z))
	for member, score := range z {
		result = append(result, Z{Score: score, Member: member})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score < result[j].Score
		}
		return result[i].Member < result[j].Member
	})
	return result
}

// rangeBounds normalizes redis-style start/stop indexes.
func rangeBounds(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func (m *Memory) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	members := m.sortedMembers(key)
	start, stop = rangeBounds(start, stop, int64(len(members)))
	if start > stop {
		return nil, nil
	}
	result := make([]string, 0, stop-start+1)
	for _, z := range members[start : stop+1] {
		result = append(result, z.Member)
	}
	return result, nil
}

func (m *Memory) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]Z, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	members := m.sortedMembers(key)
	start, stop = rangeBounds(start, stop, int64(len(members)))
	if start > stop {
		return nil, nil
	}
	return members[start : stop+1], nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	for _, member := range members {
		delete(m.zsets[key], member)
	}
	if len(m.zsets[key]) == 0 {
		delete(m.zsets, key)
	}
	return nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return 0, nil
	}
	return int64(len(m.zsets[key])), nil
}

// parseScoreBound parses a redis score bound: a float, "-inf", "+inf" or
// the exclusive form "(x". toward is the direction an exclusive bound is
// nudged in.
func parseScoreBound(bound string, toward float64) float64 {
	switch bound {
	case "-inf":
		return math.Inf(-1)
	case "+inf", "inf":
		return math.Inf(1)
	}
	if strings.HasPrefix(bound, "(") {
		f, _ := strconv.ParseFloat(bound[1:], 64)
		return math.Nextafter(f, toward)
	}
	f, _ := strconv.ParseFloat(bound, 64)
	return f
}

func (m *Memory) ZRemRangeByScore(_ context.Context, key, min, max string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return 0, nil
	}
	lo := parseScoreBound(min, math.Inf(1))
	hi := parseScoreBound(max, math.Inf(-1))
	var removed int64
	for member, score := range m.zsets[key] {
		if score >= lo && score <= hi {
			delete(m.zsets[key], member)
			removed++
		}
	}
	if len(m.zsets[key]) == 0 {
		delete(m.zsets, key)
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }
