package tools

import (
	"fmt"
	"sync"
	"time"
)

// breakerState is the circuit breaker's lifecycle.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// guard wraps one tool's execution with a rate limit and a circuit
// breaker. One guard per tool name, created lazily by the dispatcher.
type guard struct {
	mu sync.Mutex

	// rate limiting: simple sliding window
	windowStart time.Time
	windowCount int
	maxPerMin   int

	// circuit breaker
	state        breakerState
	failures     int
	maxFailures  int
	openedAt     time.Time
	cooldown     time.Duration

	// result cache: last successful result per argument string
	cache    map[string]cachedResult
	cacheTTL time.Duration
}

type cachedResult struct {
	output  string
	savedAt time.Time
}

func newGuard(maxPerMin, maxFailures int, cooldown, cacheTTL time.Duration) *guard {
	return &guard{
		maxPerMin:   maxPerMin,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		cache:       make(map[string]cachedResult),
		cacheTTL:    cacheTTL,
	}
}

// allow checks the rate limit and breaker before an execution.
func (g *guard) allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()

	switch g.state {
	case breakerOpen:
		if now.Sub(g.openedAt) < g.cooldown {
			return fmt.Errorf("circuit breaker open")
		}
		g.state = breakerHalfOpen
	case breakerHalfOpen:
		// one probe at a time; additional calls wait for the outcome
	}

	if now.Sub(g.windowStart) >= time.Minute {
		g.windowStart = now
		g.windowCount = 0
	}
	if g.windowCount >= g.maxPerMin {
		return fmt.Errorf("rate limit exceeded (%d/min)", g.maxPerMin)
	}
	g.windowCount++
	return nil
}

// recordSuccess closes the breaker and resets failures.
func (g *guard) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.state = breakerClosed
}

// recordFailure counts a failure, opening the breaker at the threshold.
func (g *guard) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.state == breakerHalfOpen || g.failures >= g.maxFailures {
		g.state = breakerOpen
		g.openedAt = time.Now()
	}
}

// cachedOutput returns a fresh cached result for args, if any.
func (g *guard) cachedOutput(args string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[args]
	if !ok || time.Since(entry.savedAt) > g.cacheTTL {
		return "", false
	}
	return entry.output, true
}

// storeOutput caches a successful result for args.
func (g *guard) storeOutput(args, output string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[args] = cachedResult{output: output, savedAt: time.Now()}
}
