package retry

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Gate applies per-tool rate limits ahead of every attempt. A
// non-allowing limiter turns the attempt into a rate_limit failure
// before the tool is ever called.
type Gate struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	defaults rate.Limit
	burst    int
}

// NewGate creates a gate with a default per-tool limit.
func NewGate(perSecond float64, burst int) *Gate {
	return &Gate{
		limiters: make(map[string]*rate.Limiter),
		defaults: rate.Limit(perSecond),
		burst:    burst,
	}
}

// SetToolLimit overrides the limit for one tool.
func (g *Gate) SetToolLimit(tool string, perSecond float64, burst int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiters[tool] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (g *Gate) limiter(tool string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, found := g.limiters[tool]
	if !found {
		lim = rate.NewLimiter(g.defaults, g.burst)
		g.limiters[tool] = lim
	}
	return lim
}

// Allow reports whether the tool may be attempted right now. A false
// return is classified as a rate_limit failure by the caller.
func (g *Gate) Allow(tool string) bool {
	return g.limiter(tool).Allow()
}

// Wait blocks until the tool may be attempted or the context is done.
func (g *Gate) Wait(ctx context.Context, tool string) error {
	return g.limiter(tool).Wait(ctx)
}
