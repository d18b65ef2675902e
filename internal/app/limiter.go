package app

import (
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/router"
)

// clientHeader lets a bridge or UI identify itself independently of its
// address; requests without it are keyed by remote IP.
const clientHeader = "X-Chatsync-Client"

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool is a per-client token bucket pool. Idle entries are evicted
// after ttl by a cleanup goroutine that runs until close.
type limiterPool struct {
	mu      sync.Mutex
	m       map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	ttl     time.Duration
	period  time.Duration
	now     func() time.Time
	stop    chan struct{}
	started sync.Once
	closed  sync.Once
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		m:      make(map[string]*limiterEntry),
		rps:    rate.Limit(rps),
		burst:  burst,
		ttl:    10 * time.Minute,
		period: time.Minute,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.started.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: p.now()}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *limiterPool) evictIdle() int {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if n := p.evictIdle(); n > 0 {
				logger.Debug("rate_limiter_evicted", "entries", n)
			}
		}
	}
}

func (p *limiterPool) close() {
	p.closed.Do(func() { close(p.stop) })
}

func clientKey(ctx *fasthttp.RequestCtx) string {
	if id := ctx.Request.Header.Peek(clientHeader); len(id) > 0 {
		return string(id)
	}
	return ctx.RemoteIP().String()
}

// middleware rejects requests over the client's budget with 429. Streaming
// endpoints pay once per connection.
func (p *limiterPool) middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := clientKey(ctx)
		if !p.Allow(key) {
			logger.Warn("rate_limited", "client", key, "path", string(ctx.Path()))
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "too many requests")
			return
		}
		next(ctx)
	}
}
