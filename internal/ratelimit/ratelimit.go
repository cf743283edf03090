package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the context-aware SleepFunc used outside tests.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Jitter waits a uniformly random delay in [min, max] on every call so that
// requests never go out on a regular cadence.
type Jitter struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	rnd      *rand.Rand
	sleep    SleepFunc
}

// NewJitter creates a limiter waiting a uniform random delay in [minDelay, maxDelay].
func NewJitter(minDelay, maxDelay time.Duration) *Jitter {
	return &Jitter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    Sleep,
	}
}

func (j *Jitter) WithSleep(s SleepFunc) *Jitter {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sleep = s
	return j
}

func (j *Jitter) WithRand(r *rand.Rand) *Jitter {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rnd = r
	return j
}

func (j *Jitter) Wait(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return ctx.Err()
	}
	j.mu.Lock()
	sleep := j.sleep
	j.mu.Unlock()
	return sleep(ctx, d)
}

// Next draws the next delay without sleeping.
func (j *Jitter) Next() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uniform(j.minDelay, j.maxDelay)
}

// Uniform draws from [lo, hi] using the jitter's random source.
func (j *Jitter) Uniform(lo, hi time.Duration) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uniform(lo, hi)
}

func (j *Jitter) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(j.rnd.Int63n(int64(hi-lo)+1))
}

func (j *Jitter) SetDelay(min, max time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.minDelay = min
	j.maxDelay = max
}

func (j *Jitter) Delays() (time.Duration, time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.minDelay, j.maxDelay
}

// Adaptive widens the jitter window after a run of throttled responses and
// narrows it again slowly while requests succeed.
type Adaptive struct {
	*Jitter
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	floor         time.Duration
	ceiling       time.Duration
}

// NewAdaptive creates a jitter limiter that slows down after errors.
func NewAdaptive(minDelay, maxDelay time.Duration) *Adaptive {
	return &Adaptive{
		Jitter:        NewJitter(minDelay, maxDelay),
		maxErrorCount: 3,
		backoffFactor: 1.5,
		floor:         minDelay,
		ceiling:       maxDelay,
	}
}

// RecordSuccess narrows both bounds by 10% after every six successes, never
// below the window the limiter was created with.
func (a *Adaptive) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMax := max(time.Duration(float64(a.maxDelay)*0.9), a.ceiling)
		newMin := max(time.Duration(float64(a.minDelay)*0.9), a.floor)
		a.minDelay = min(newMin, newMax)
		a.maxDelay = newMax
		a.successCount = 0
	}
}

// RecordError widens both bounds by half after three consecutive errors.
func (a *Adaptive) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

// TokenBucket paces requests shared across goroutines.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows rps requests per second with the given burst. A
// non-positive rps means no limit.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, burst)}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SetDelay sets the minimum spacing between requests; max is ignored.
func (t *TokenBucket) SetDelay(min, _ time.Duration) {
	if min <= 0 {
		t.limiter.SetLimit(rate.Inf)
		return
	}
	t.limiter.SetLimit(rate.Every(min))
}
