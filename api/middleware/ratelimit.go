package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/lnfetch/config"
	"github.com/use-agent/lnfetch/models"
)

const (
	idleAfter  = time.Hour
	sweepEvery = 5 * time.Minute
)

// Budget is a named token bucket handed to every caller separately.
type Budget struct {
	Name  string
	Limit rate.Limit
	Burst int
}

// NewBudget normalizes a budget: a non-positive limit means unlimited and the
// burst is at least one request.
func NewBudget(name string, limit rate.Limit, burst int) Budget {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return Budget{Name: name, Limit: limit, Burst: burst}
}

// Budgets returns the general request budget and the novel submission
// budget configured by cfg.
func Budgets(cfg config.RateLimitConfig) (general, novel Budget) {
	general = NewBudget("requests", rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	novel = NewBudget("novel jobs", rate.Limit(cfg.NovelPerMinute/60), cfg.NovelBurst)
	return general, novel
}

type bucketKey struct {
	caller string
	budget string
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter holds one token bucket per (caller, budget) pair. Buckets idle for
// an hour are dropped on the next sweep.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter returns an empty Limiter on the wall clock.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[bucketKey]*bucket), now: time.Now}
}

// Limit returns middleware charging one token from b per request. A denied
// request gets 429 with a Retry-After header and consumes nothing.
func (l *Limiter) Limit(b Budget) gin.HandlerFunc {
	return func(c *gin.Context) {
		wait, ok := l.take(caller(c), b)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited,
				"rate limit exceeded for "+b.Name+", retry in "+wait.Round(time.Second).String())
			return
		}
		c.Next()
	}
}

// Len reports how many buckets are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) take(who string, b Budget) (time.Duration, bool) {
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	k := bucketKey{caller: who, budget: b.Name}
	bk, ok := l.buckets[k]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.Limit, b.Burst)}
		l.buckets[k] = bk
	}
	bk.seen = now
	l.mu.Unlock()

	r := bk.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		if d < time.Second {
			d = time.Second
		}
		return d, false
	}
	return 0, true
}

// sweep drops idle buckets. Callers hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepEvery {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-idleAfter)
	for k, bk := range l.buckets {
		if bk.seen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}
