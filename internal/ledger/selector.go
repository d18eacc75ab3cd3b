package ledger

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"invoicematch/internal/model"
)

// Selector picks one of several Active credentials. candidates is never
// empty; the returned index must be within it.
type Selector interface {
	Select(tenantID string, candidates []model.Credential) int
}

// SelectorByName resolves a configured selection strategy.
func SelectorByName(name string) (Selector, error) {
	switch name {
	case "random", "":
		return NewRandomSelector(nil), nil
	case "round_robin", "round-robin":
		return NewRoundRobinSelector(), nil
	case "weighted":
		return NewWeightedSelector(nil), nil
	}
	return nil, fmt.Errorf("unknown credential selection strategy %q", name)
}

// lockedRand guards a *rand.Rand, which is not safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	if l.r == nil {
		return rand.IntN(n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Int64N(n int64) int64 {
	if l.r == nil {
		return rand.Int64N(n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

// RandomSelector picks uniformly at random.
type RandomSelector struct {
	rng lockedRand
}

// NewRandomSelector returns a uniform selector. A nil source uses the
// global generator; tests pass a seeded one.
func NewRandomSelector(src *rand.Rand) *RandomSelector {
	return &RandomSelector{rng: lockedRand{r: src}}
}

func (s *RandomSelector) Select(_ string, candidates []model.Credential) int {
	return s.rng.IntN(len(candidates))
}

// RoundRobinSelector cycles through candidates per tenant.
type RoundRobinSelector struct {
	mu   sync.Mutex
	next map[string]int
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{next: make(map[string]int)}
}

func (s *RoundRobinSelector) Select(tenantID string, candidates []model.Credential) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next[tenantID] % len(candidates)
	s.next[tenantID] = i + 1
	return i
}

// WeightedSelector picks with probability proportional to QuotaLimit.
// Credentials with a non-positive limit get weight 1.
type WeightedSelector struct {
	rng lockedRand
}

func NewWeightedSelector(src *rand.Rand) *WeightedSelector {
	return &WeightedSelector{rng: lockedRand{r: src}}
}

func (s *WeightedSelector) Select(_ string, candidates []model.Credential) int {
	var total int64
	for _, c := range candidates {
		total += weight(c)
	}
	pick := s.rng.Int64N(total)
	for i, c := range candidates {
		pick -= weight(c)
		if pick < 0 {
			return i
		}
	}
	return len(candidates) - 1
}

func weight(c model.Credential) int64 {
	if c.QuotaLimit > 0 {
		return c.QuotaLimit
	}
	return 1
}
