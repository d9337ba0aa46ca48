package executor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ProbeStatus is the readiness state reported by an executor backend.
type ProbeStatus string

const (
	ProbeHealthy   ProbeStatus = "healthy"
	ProbeDegraded  ProbeStatus = "degraded"
	ProbeUnhealthy ProbeStatus = "unhealthy"
)

// ProbeResult is the outcome of one readiness probe.
type ProbeResult struct {
	Probe     string
	Status    ProbeStatus
	Message   string
	Err       error
	CheckedAt time.Time
}

// Prober is implemented by executors whose backend can be checked
// before scheduling starts. Scripted flows are always ready; model and
// tool flows probe their endpoint.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// ProbeSet runs readiness probes for a group of executors, caching
// results briefly so repeated validation passes stay cheap.
type ProbeSet struct {
	mu       sync.Mutex
	probers  map[string]Prober
	cache    map[string]ProbeResult
	cacheTTL time.Duration
}

// NewProbeSet creates a probe registry. A zero cacheTTL disables caching.
func NewProbeSet(cacheTTL time.Duration) *ProbeSet {
	return &ProbeSet{
		probers:  make(map[string]Prober),
		cache:    make(map[string]ProbeResult),
		cacheTTL: cacheTTL,
	}
}

// Register adds a prober under name, replacing any previous entry.
// Executors that do not implement Prober are ignored.
func (s *ProbeSet) Register(name string, candidate any) {
	prober, ok := candidate.(Prober)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probers[name] = prober
}

// Run probes every registered executor and reports the aggregate
// status: unhealthy dominates degraded dominates healthy. Results come
// back sorted by probe name.
func (s *ProbeSet) Run(ctx context.Context) ([]ProbeResult, ProbeStatus) {
	s.mu.Lock()
	names := make([]string, 0, len(s.probers))
	for name := range s.probers {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	overall := ProbeHealthy
	results := make([]ProbeResult, 0, len(names))
	for _, name := range names {
		result := s.probe(ctx, name)
		results = append(results, result)
		switch result.Status {
		case ProbeUnhealthy:
			overall = ProbeUnhealthy
		case ProbeDegraded:
			if overall == ProbeHealthy {
				overall = ProbeDegraded
			}
		}
	}
	return results, overall
}

func (s *ProbeSet) probe(ctx context.Context, name string) ProbeResult {
	s.mu.Lock()
	prober := s.probers[name]
	cached, hasCached := s.cache[name]
	s.mu.Unlock()

	if hasCached && s.cacheTTL > 0 && time.Since(cached.CheckedAt) < s.cacheTTL {
		return cached
	}

	result := prober.Probe(ctx)
	result.Probe = name
	if result.CheckedAt.IsZero() {
		result.CheckedAt = time.Now()
	}

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[name] = result
		s.mu.Unlock()
	}
	return result
}
