package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrent is the global step cap when none is configured.
const DefaultMaxConcurrent = 4

// ResourceManager caps the number of simultaneously executing steps and
// paces dispatches to external services. One ResourceManager is shared by
// every engine in the process, so the cap holds across workflows.
type ResourceManager struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	limit   int

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewResourceManager creates a ResourceManager. A non-positive
// maxConcurrent uses DefaultMaxConcurrent; a non-positive perSecond
// disables rate limiting.
func NewResourceManager(maxConcurrent int, perSecond float64, burst int) *ResourceManager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	rm := &ResourceManager{
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		limit: maxConcurrent,
	}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		rm.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return rm
}

// Acquire blocks until a slot is free and the rate limit allows a
// dispatch. The returned release is idempotent.
func (r *ResourceManager) Acquire(ctx context.Context) (func(), error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.sem.Release(1)
			return nil, err
		}
	}
	n := r.inFlight.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.inFlight.Add(-1)
			r.sem.Release(1)
		})
	}, nil
}

// Limit returns the concurrency cap.
func (r *ResourceManager) Limit() int { return r.limit }

// InFlight returns the number of held slots.
func (r *ResourceManager) InFlight() int { return int(r.inFlight.Load()) }

// Peak returns the highest number of simultaneously held slots.
func (r *ResourceManager) Peak() int { return int(r.peak.Load()) }
