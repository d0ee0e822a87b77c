package admission

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindwell-ai/conductor/internal/logger"
)

const (
	// recentCompletionWindow is how many completion durations feed the
	// estimated-wait median.
	recentCompletionWindow = 20

	minEstimatedWaitSec = 1
	maxEstimatedWaitSec = 60

	// defaultWaiterTTL is how long a queued waiter survives without its
	// holder retrying. Retry-After never advises more than 60s, so a
	// waiter idle for two minutes has been abandoned; dropping it keeps a
	// dead head from blocking the token match for everyone behind it.
	defaultWaiterTTL = 2 * time.Minute
)

// Grant represents an admitted request. Release must be called exactly once
// on every terminal path; a missed release leaks the identity's slot.
type Grant struct {
	controller *Controller
	identity   string
	acquiredAt time.Time
	once       sync.Once
}

// Release frees the slot and records the completion time. Idempotent.
func (g *Grant) Release() {
	g.once.Do(func() {
		g.controller.release(g.identity, time.Since(g.acquiredAt))
	})
}

// QueueInfo describes a rejected (queued) acquire attempt.
type QueueInfo struct {
	QueueToken       string
	QueuePosition    int // 1-indexed
	RetryAfterSec    int
	EstimatedWaitSec int
}

// waiter is one queued request for an identity.
type waiter struct {
	token       string
	submittedAt time.Time
}

// identityState tracks per-identity concurrency.
type identityState struct {
	active int
	cap    int
	queue  []*waiter
}

// Controller enforces per-identity concurrency with a FIFO token queue.
//
// This is the single shared mutable structure in the request path; all
// state is guarded by one mutex. Queue tokens are one-time UUIDs, so a
// token re-presented after its waiter was popped never matches stale state.
type Controller struct {
	mu         sync.Mutex
	identities map[string]*identityState
	defaultCap int
	waiterTTL  time.Duration

	// ring of recent completion durations for the wait estimate
	completions []time.Duration

	// onQueueDepth is invoked under the mutex whenever an identity's
	// queue length changes; may be nil.
	onQueueDepth func(identity string, depth int)

	log *logger.Logger
}

// NewController creates an admission controller with the given per-identity
// concurrency cap.
func NewController(defaultCap int, log *logger.Logger) *Controller {
	if defaultCap < 1 {
		defaultCap = 1
	}
	return &Controller{
		identities: make(map[string]*identityState),
		defaultCap: defaultCap,
		waiterTTL:  defaultWaiterTTL,
		log:        log.WithComponent("admission"),
	}
}

// SetQueueDepthCallback registers a gauge hook for per-identity queue depth.
func (c *Controller) SetQueueDepthCallback(fn func(identity string, depth int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onQueueDepth = fn
}

// reportQueueDepthLocked publishes the current queue length for identity.
// Caller holds c.mu.
func (c *Controller) reportQueueDepthLocked(identity string, state *identityState) {
	if c.onQueueDepth != nil {
		c.onQueueDepth(identity, len(state.queue))
	}
}

// Acquire attempts to claim a slot for identity.
//
// Resolution order:
//  1. queueToken matches the head waiter and a slot is free: admit, pop.
//  2. No token and a slot is free: admit directly.
//  3. Otherwise queue the request (mismatched or absent tokens join the
//     tail with a fresh token) and return QueueInfo.
//
// A token that no longer matches the head never rides a free slot past the
// waiters in front of it; FIFO holds even across releases.
func (c *Controller) Acquire(identity, queueToken string) (*Grant, *QueueInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.identities[identity]
	if state == nil {
		state = &identityState{cap: c.defaultCap}
		c.identities[identity] = state
	}
	c.pruneStaleLocked(identity, state)

	if queueToken != "" && len(state.queue) > 0 && state.queue[0].token == queueToken {
		if state.active < state.cap {
			state.queue = state.queue[1:]
			state.active++
			c.reportQueueDepthLocked(identity, state)
			c.log.Debug("admitted queued request",
				slog.String("identity", identity),
				slog.Int("active", state.active))
			return c.newGrant(identity), nil
		}
		// Head token but still no slot: keep the waiter at the head so the
		// token stays valid for the next retry.
		return nil, c.queueInfoLocked(state, 1)
	}

	if queueToken == "" && state.active < state.cap {
		state.active++
		return c.newGrant(identity), nil
	}

	// Queue at the tail. One-time tokens: a mismatched token is discarded
	// and the request receives a fresh one.
	w := &waiter{token: uuid.New().String(), submittedAt: time.Now()}
	state.queue = append(state.queue, w)
	position := len(state.queue)
	c.reportQueueDepthLocked(identity, state)

	c.log.Info("request queued",
		slog.String("identity", identity),
		slog.Int("position", position),
		slog.Int("active", state.active))

	return nil, c.queueInfoLocked(state, position)
}

// pruneStaleLocked drops waiters whose holders stopped retrying. Without
// this an abandoned head waiter would block the token match for every
// waiter behind it. Caller holds c.mu.
func (c *Controller) pruneStaleLocked(identity string, state *identityState) {
	if c.waiterTTL <= 0 || len(state.queue) == 0 {
		return
	}
	cutoff := time.Now().Add(-c.waiterTTL)
	kept := state.queue[:0]
	for _, w := range state.queue {
		if w.submittedAt.After(cutoff) {
			kept = append(kept, w)
		}
	}
	if len(kept) != len(state.queue) {
		c.log.Debug("dropped stale queue waiters",
			slog.String("identity", identity),
			slog.Int("dropped", len(state.queue)-len(kept)))
		state.queue = kept
		c.reportQueueDepthLocked(identity, state)
	}
}

func (c *Controller) newGrant(identity string) *Grant {
	return &Grant{controller: c, identity: identity, acquiredAt: time.Now()}
}

// queueInfoLocked builds the 429 metadata for a waiter at position.
// Caller holds c.mu.
func (c *Controller) queueInfoLocked(state *identityState, position int) *QueueInfo {
	estimate := c.estimateWaitLocked(position)
	token := ""
	if position >= 1 && position <= len(state.queue) {
		token = state.queue[position-1].token
	}
	return &QueueInfo{
		QueueToken:       token,
		QueuePosition:    position,
		RetryAfterSec:    estimate,
		EstimatedWaitSec: estimate,
	}
}

// estimateWaitLocked returns position x median recent completion seconds,
// clamped to [1, 60]. Caller holds c.mu.
func (c *Controller) estimateWaitLocked(position int) int {
	median := 5 * time.Second // assumption before any completions observed
	if len(c.completions) > 0 {
		sorted := make([]time.Duration, len(c.completions))
		copy(sorted, c.completions)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		median = sorted[len(sorted)/2]
	}

	est := int(float64(position) * median.Seconds())
	if est < minEstimatedWaitSec {
		est = minEstimatedWaitSec
	}
	if est > maxEstimatedWaitSec {
		est = maxEstimatedWaitSec
	}
	return est
}

// release frees one slot for identity and records the completion duration.
func (c *Controller) release(identity string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.identities[identity]
	if state == nil || state.active == 0 {
		c.log.Warn("release without matching acquire", slog.String("identity", identity))
		return
	}
	state.active--

	c.completions = append(c.completions, elapsed)
	if len(c.completions) > recentCompletionWindow {
		c.completions = c.completions[len(c.completions)-recentCompletionWindow:]
	}

	// Drop empty identity entries so the map doesn't grow unbounded.
	if state.active == 0 && len(state.queue) == 0 {
		delete(c.identities, identity)
	}
}

// Active returns the number of in-flight requests for identity.
func (c *Controller) Active(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state := c.identities[identity]; state != nil {
		return state.active
	}
	return 0
}

// QueueDepth returns the number of queued waiters for identity.
func (c *Controller) QueueDepth(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state := c.identities[identity]; state != nil {
		return len(state.queue)
	}
	return 0
}
