package pipeline

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/loghawk/loghawk/internal/config"
)

// Decision is the admission guard's verdict for one trigger attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Guard bounds how often a user may trigger (re)analysis: MaxRequests per
// Window, enforced with a token bucket per user. The per-user limiters live
// in a bounded LRU so an open user population cannot grow memory without
// limit.
type Guard struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewGuard builds the guard from configuration.
func NewGuard(cfg config.AdmissionConfig) *Guard {
	maxUsers := cfg.MaxUsers
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	cache, _ := lru.New[string, *rate.Limiter](maxUsers)

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	burst := cfg.MaxRequests
	if burst <= 0 {
		burst = 5
	}
	return &Guard{
		limiters: cache,
		limit:    rate.Every(window / time.Duration(burst)),
		burst:    burst,
	}
}

// Check consumes one token for the user. When denied, RetryAfter is the
// delay after which the next attempt would be admitted.
func (g *Guard) Check(userID string) Decision {
	limiter, ok := g.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(g.limit, g.burst)
		g.limiters.Add(userID, limiter)
	}

	res := limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}
