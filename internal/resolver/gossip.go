package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// member is one entry of a gossip seed's membership response.
type member struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	IsMaster  bool   `json:"is_master"`
	Reachable bool   `json:"reachable"`
}

// Gossip is the cluster-aware resolver named in §1 and §4.G: it polls
// a configured set of seed HTTP endpoints for cluster membership and
// returns the current master, consulted once per connect attempt. The
// gossip protocol's own membership exchange is out of the core's
// scope (§1); this only speaks to whatever HTTP membership endpoint
// the seeds expose.
type Gossip struct {
	seeds        []string
	pollInterval time.Duration
	httpClient   *http.Client
	selector     *rankedSelector

	mu      sync.Mutex
	members []member
	polled  time.Time
}

// NewGossip builds a Gossip resolver polling the given seed URLs
// (each expected to answer GET with a JSON array of member).
func NewGossip(seeds []string, pollInterval time.Duration) *Gossip {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Gossip{
		seeds:        seeds,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 2 * time.Second},
		selector:     newRankedSelector(30 * time.Second),
	}
}

// NextEndpoint refreshes membership if the poll interval has elapsed
// and returns the current master, or a ranked fallback among known
// replicas if no master is reported.
func (g *Gossip) NextEndpoint(ctx context.Context) (Endpoint, error) {
	if err := g.refreshIfStale(ctx); err != nil {
		return Endpoint{}, err
	}

	g.mu.Lock()
	members := append([]member(nil), g.members...)
	g.mu.Unlock()

	var master Endpoint
	haveMaster := false
	candidates := make([]Endpoint, 0, len(members))
	for _, m := range members {
		if !m.Reachable {
			continue
		}
		ep := Endpoint{Host: m.Host, Port: m.Port}
		candidates = append(candidates, ep)
		if m.IsMaster {
			master, haveMaster = ep, true
		}
	}
	if haveMaster {
		return master, nil
	}
	if ep, ok := g.selector.choose(candidates); ok {
		return ep, nil
	}
	return Endpoint{}, fmt.Errorf("resolver: no reachable cluster members")
}

// MarkFailed records a failed connect attempt against the ranked
// selector used for non-master fallback.
func (g *Gossip) MarkFailed(ep Endpoint) { g.selector.markFailed(ep) }

// MarkReachable records a successful connect.
func (g *Gossip) MarkReachable(ep Endpoint) { g.selector.markReachable(ep) }

func (g *Gossip) refreshIfStale(ctx context.Context) error {
	g.mu.Lock()
	stale := time.Since(g.polled) >= g.pollInterval
	g.mu.Unlock()
	if !stale {
		return nil
	}
	return g.refresh(ctx)
}

func (g *Gossip) refresh(ctx context.Context) error {
	var lastErr error
	for _, seed := range g.seeds {
		members, err := g.fetch(ctx, seed)
		if err != nil {
			lastErr = err
			continue
		}
		g.mu.Lock()
		g.members = members
		g.polled = time.Now()
		g.mu.Unlock()
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("resolver: no gossip seeds configured")
	}
	return fmt.Errorf("resolver: gossip refresh failed: %w", lastErr)
}

func (g *Gossip) fetch(ctx context.Context, seed string) ([]member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seed, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gossip seed %s returned %d", seed, resp.StatusCode)
	}
	var members []member
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return nil, fmt.Errorf("gossip seed %s: decode: %w", seed, err)
	}
	return members, nil
}
