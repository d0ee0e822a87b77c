// Package kvtest provides an in-process kv.Store fake for tests. It models
// just enough Redis semantics (expiry, sorted sets) for the stores built on
// top of it.
package kvtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type value struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

type zset map[string]float64

// Fake is a map-backed kv.Store.
type Fake struct {
	mu     sync.Mutex
	values map[string]value
	zsets  map[string]zset
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		values: make(map[string]value),
		zsets:  make(map[string]zset),
	}
}

func toBytes(v interface{}) []byte {
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...)
	case string:
		return []byte(t)
	default:
		return []byte(nil)
	}
}

func (f *Fake) expired(v value) bool {
	return !v.expiresAt.IsZero() && time.Now().After(v.expiresAt)
}

// Set stores a byte or string value with optional expiry.
func (f *Fake) Set(ctx context.Context, key string, v interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val := value{data: toBytes(v)}
	if expiration > 0 {
		val.expiresAt = time.Now().Add(expiration)
	}
	f.values[key] = val
	return redis.NewStatusResult("OK", nil)
}

// Get returns the stored value or redis.Nil.
func (f *Fake) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok || f.expired(v) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v.data), nil)
}

// Del removes keys and zsets.
func (f *Fake) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			removed++
		}
		if _, ok := f.zsets[key]; ok {
			delete(f.zsets, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

// Expire sets a fresh TTL on an existing key.
func (f *Fake) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[key]; ok && !f.expired(v) {
		v.expiresAt = time.Now().Add(expiration)
		f.values[key] = v
		return redis.NewBoolResult(true, nil)
	}
	if _, ok := f.zsets[key]; ok {
		return redis.NewBoolResult(true, nil)
	}
	return redis.NewBoolResult(false, nil)
}

// TTL reports the remaining lifetime of a key.
func (f *Fake) TTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok || f.expired(v) {
		return redis.NewDurationResult(-2*time.Second, nil)
	}
	if v.expiresAt.IsZero() {
		return redis.NewDurationResult(-1*time.Second, nil)
	}
	return redis.NewDurationResult(time.Until(v.expiresAt), nil)
}

// ZAdd inserts members into a sorted set.
func (f *Fake) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.zsets[key]
	if !ok {
		set = make(zset)
		f.zsets[key] = set
	}
	var added int64
	for _, m := range members {
		member, _ := m.Member.(string)
		if _, exists := set[member]; !exists {
			added++
		}
		set[member] = m.Score
	}
	return redis.NewIntResult(added, nil)
}

// ZRem removes members from a sorted set.
func (f *Fake) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.zsets[key]
	var removed int64
	for _, m := range members {
		member, _ := m.(string)
		if _, ok := set[member]; ok {
			delete(set, member)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *Fake) sorted(key string) []redis.Z {
	set := f.zsets[key]
	out := make([]redis.Z, 0, len(set))
	for member, score := range set {
		out = append(out, redis.Z{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member.(string) < out[j].Member.(string)
	})
	return out
}

func sliceRange(n int, start, stop int64) (int, int) {
	if stop < 0 {
		stop = int64(n) + stop
	}
	if start < 0 {
		start = int64(n) + start
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(n) {
		stop = int64(n) - 1
	}
	if start > stop {
		return 0, 0
	}
	return int(start), int(stop + 1)
}

// ZRevRange lists members by descending score.
func (f *Fake) ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	asc := f.sorted(key)
	desc := make([]string, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		desc = append(desc, asc[i].Member.(string))
	}
	lo, hi := sliceRange(len(desc), start, stop)
	return redis.NewStringSliceResult(desc[lo:hi], nil)
}

// ZRangeWithScores lists members by ascending score.
func (f *Fake) ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	asc := f.sorted(key)
	lo, hi := sliceRange(len(asc), start, stop)
	return redis.NewZSliceCmdResult(asc[lo:hi], nil)
}

// ZCard returns the sorted set's size.
func (f *Fake) ZCard(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.zsets[key])), nil)
}

// Ping always succeeds.
func (f *Fake) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}
