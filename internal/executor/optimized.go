package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/autoflow/internal/workflow"
)

// DefaultCacheTTL is how long cached step outputs stay valid.
const DefaultCacheTTL = 15 * time.Minute

// Optimized caches outputs of cacheable steps keyed by step kind and a
// hash of the step input. Concurrent identical calls share one execution.
// Only successful outputs are cached.
type Optimized struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// NewOptimized creates the caching strategy. A non-positive ttl uses
// DefaultCacheTTL.
func NewOptimized(ttl time.Duration) *Optimized {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Optimized{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (o *Optimized) Name() string { return StrategyOptimized }

func (o *Optimized) Plan(stages []workflow.Stage, _ *workflow.Context) []PlanStage {
	return defaultPlan(stages)
}

func (o *Optimized) Wrap(next StepFunc) StepFunc {
	return func(ctx context.Context, step workflow.Step, wctx *workflow.Context) (Outcome, error) {
		c, ok := step.(workflow.Cacheable)
		if !ok {
			return next(ctx, step, wctx)
		}
		input, ok := c.CacheInput(wctx)
		if !ok {
			return next(ctx, step, wctx)
		}
		key, err := cacheKey(step.Kind(), input)
		if err != nil {
			return next(ctx, step, wctx)
		}
		if v, ok := o.get(key); ok {
			o.hits.Add(1)
			return Outcome{Payload: v, Cached: true}, nil
		}

		v, err, shared := o.group.Do(key, func() (any, error) {
			o.misses.Add(1)
			out, err := next(ctx, step, wctx)
			if err != nil {
				return nil, err
			}
			o.put(key, out.Payload)
			return out.Payload, nil
		})
		if shared && err == nil {
			o.hits.Add(1)
		}
		return Outcome{Payload: v, Cached: shared && err == nil}, err
	}
}

func (o *Optimized) get(key string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	if !ok {
		return nil, false
	}
	if o.now().After(e.expires) {
		delete(o.entries, key)
		return nil, false
	}
	return e.value, true
}

func (o *Optimized) put(key string, v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[key] = cacheEntry{value: v, expires: o.now().Add(o.ttl)}
}

// Invalidate drops every cached output.
func (o *Optimized) Invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	clear(o.entries)
}

// Stats returns cache hits and misses.
func (o *Optimized) Stats() (hits, misses int64) {
	return o.hits.Load(), o.misses.Load()
}

func cacheKey(kind workflow.Kind, input any) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return string(kind) + ":" + hex.EncodeToString(sum[:]), nil
}
