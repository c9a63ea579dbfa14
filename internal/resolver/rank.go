package resolver

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// memberHealth tracks a gossip member's recent reachability, adapted
// from the teacher's hashroute package: where hashroute hashed a
// stream key to a fixed partition, rank hashes an endpoint address to
// a stable tie-break score, spreading reads deterministically across
// equally healthy candidates instead of routing every caller to the
// first member in the list.
type memberHealth struct {
	failedUntil time.Time
}

// rankedSelector chooses among a set of known cluster members,
// preferring ones not in a post-failure cool-down, and tie-breaking
// deterministically by address hash within a coarse time bucket so
// repeated calls during an outage don't all pile onto one survivor.
type rankedSelector struct {
	mu        sync.Mutex
	health    map[string]*memberHealth
	coolDown  time.Duration
	bucketLen time.Duration
}

func newRankedSelector(coolDown time.Duration) *rankedSelector {
	return &rankedSelector{
		health:    make(map[string]*memberHealth),
		coolDown:  coolDown,
		bucketLen: 5 * time.Second,
	}
}

func (r *rankedSelector) markFailed(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[ep.String()] = &memberHealth{failedUntil: time.Now().Add(r.coolDown)}
}

func (r *rankedSelector) markReachable(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.health, ep.String())
}

// choose picks one endpoint from candidates, preferring ones outside
// their cool-down window.
func (r *rankedSelector) choose(candidates []Endpoint) (Endpoint, bool) {
	if len(candidates) == 0 {
		return Endpoint{}, false
	}
	now := time.Now()
	bucket := now.Unix() / int64(r.bucketLen/time.Second)

	r.mu.Lock()
	healthy := make([]Endpoint, 0, len(candidates))
	for _, ep := range candidates {
		h, ok := r.health[ep.String()]
		if !ok || now.After(h.failedUntil) {
			healthy = append(healthy, ep)
		}
	}
	r.mu.Unlock()

	pool := healthy
	if len(pool) == 0 {
		pool = candidates
	}

	sort.Slice(pool, func(i, j int) bool {
		return rankScore(pool[i], bucket) < rankScore(pool[j], bucket)
	})
	return pool[0], true
}

func rankScore(ep Endpoint, bucket int64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ep.String()))
	var bb [8]byte
	for i := range bb {
		bb[i] = byte(bucket >> (8 * i))
	}
	_, _ = h.Write(bb[:])
	return h.Sum64()
}
