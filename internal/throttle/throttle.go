// Package throttle bounds work per key, typically per user.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Keyed limits how many holders a key may have at once and, optionally, how
// often a key may be acquired. Keys are created on first use. A key without
// holders is dropped once its rate limiter would have refilled completely.
type Keyed struct {
	concurrency int64
	every       rate.Limit
	burst       int
	idleTTL     time.Duration
	now         func() time.Time

	mu        sync.Mutex
	keys      map[string]*entry
	lastSweep time.Time
}

type entry struct {
	sem       *semaphore.Weighted
	lim       *rate.Limiter
	refs      int
	idleSince time.Time
}

// New returns a limiter allowing concurrency holders per key and perMinute
// acquisitions per key per minute. perMinute <= 0 disables the rate limit.
func New(concurrency int64, perMinute int) *Keyed {
	if concurrency <= 0 {
		concurrency = 1
	}
	k := &Keyed{
		concurrency: concurrency,
		keys:        make(map[string]*entry),
		now:         time.Now,
	}
	if perMinute > 0 {
		k.every = rate.Every(time.Minute / time.Duration(perMinute))
		k.burst = perMinute
		k.idleTTL = time.Minute
	}
	return k
}

// Acquire blocks until key has a free slot or ctx is done. The returned func
// must be called exactly once to free the slot.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	e := k.ref(key)

	if e.lim != nil {
		if err := e.lim.Wait(ctx); err != nil {
			k.unref(key)
			return nil, fmt.Errorf("waiting for rate limit on %s: %w", key, err)
		}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.unref(key)
		return nil, fmt.Errorf("waiting for slot on %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.unref(key)
		})
	}, nil
}

// Active returns the number of keys currently tracked.
func (k *Keyed) Active() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.sweepLocked()
	e, ok := k.keys[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(k.concurrency)}
		if k.every > 0 {
			e.lim = rate.NewLimiter(k.every, k.burst)
		}
		k.keys[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.sweepLocked()
	e, ok := k.keys[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	if e.lim == nil {
		delete(k.keys, key)
		return
	}
	e.idleSince = k.now()
}

// sweepLocked drops idle keys at most once per idleTTL.
func (k *Keyed) sweepLocked() {
	if k.idleTTL == 0 {
		return
	}
	now := k.now()
	if now.Sub(k.lastSweep) < k.idleTTL {
		return
	}
	k.lastSweep = now
	for key, e := range k.keys {
		if e.refs == 0 && now.Sub(e.idleSince) >= k.idleTTL {
			delete(k.keys, key)
		}
	}
}
