package ingest

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"nightwatch/pkg/models"
)

// Admission failures, one sentinel per reject reason so callers can
// count and log them separately.
var (
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrReplayedEvent   = errors.New("replayed event")
	ErrRateLimited     = errors.New("rate limited")
)

const (
	DefaultEventsPerMinute = 1000
	DefaultReplayCacheSize = 100000
)

// Registry holds the set of trusted endpoints. Events from endpoints
// not present here are rejected before they reach the pipeline.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

type Endpoint struct {
	ID       string
	Hostname string
	Secret   string
}

func NewRegistry(endpoints []Endpoint) *Registry {
	r := &Registry{endpoints: make(map[string]Endpoint, len(endpoints))}
	for _, ep := range endpoints {
		r.endpoints[ep.ID] = ep
	}
	return r
}

func (r *Registry) Register(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = ep
}

func (r *Registry) IsRegistered(endpointID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endpoints[endpointID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

func (r *Registry) Secret(endpointID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[endpointID]
	return ep.Secret, ok
}

// ReplayGuard remembers recently seen event ids in a bounded LRU cache
// so a replayed event is dropped before any storage work. The database
// unique index on event_id backstops evicted entries.
type ReplayGuard struct {
	seen *lru.Cache[string, struct{}]
}

func NewReplayGuard(size int) (*ReplayGuard, error) {
	if size <= 0 {
		size = DefaultReplayCacheSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("replay cache: %w", err)
	}
	return &ReplayGuard{seen: seen}, nil
}

// Seen records the id and reports whether it was already present.
func (g *ReplayGuard) Seen(eventID string) bool {
	_, dup := g.seen.Get(eventID)
	if !dup {
		g.seen.Add(eventID, struct{}{})
	}
	return dup
}

// RateLimiter enforces a per-endpoint event budget. Each endpoint gets
// its own token bucket sized to one minute of traffic.
type RateLimiter struct {
	eventsPerMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiter(eventsPerMinute int) *RateLimiter {
	if eventsPerMinute <= 0 {
		eventsPerMinute = DefaultEventsPerMinute
	}
	return &RateLimiter{
		eventsPerMinute: eventsPerMinute,
		limiters:        make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Allow(endpointID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[endpointID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.eventsPerMinute)/60.0), l.eventsPerMinute)
		l.limiters[endpointID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Guard runs every admission check in order: trusted endpoint, replay,
// rate limit. The replay check runs before the rate limit so replays
// never consume an endpoint's budget.
type Guard struct {
	registry *Registry
	replay   *ReplayGuard
	limiter  *RateLimiter
}

func NewGuard(registry *Registry, replay *ReplayGuard, limiter *RateLimiter) *Guard {
	return &Guard{registry: registry, replay: replay, limiter: limiter}
}

// Admit checks the event against every guard. An empty registry admits
// any endpoint, for deployments that have not onboarded agents yet.
func (g *Guard) Admit(event *models.Event) error {
	if g.registry.Len() > 0 && !g.registry.IsRegistered(event.EndpointID) {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, event.EndpointID)
	}
	if g.replay.Seen(event.EventID) {
		return fmt.Errorf("%w: %s", ErrReplayedEvent, event.EventID)
	}
	if !g.limiter.Allow(event.EndpointID) {
		return fmt.Errorf("%w: %s", ErrRateLimited, event.EndpointID)
	}
	return nil
}
