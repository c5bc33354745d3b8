// Package policy implements the RL Policy half of the Dynamic Resource
// Allocation Prophet: a tabular Q-learning agent over a discretized
// resource-state space, choosing among the closed action set with an
// epsilon-greedy exploration schedule.
package policy

import (
	"fmt"
	"math"
	"sync"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// Config configures the policy's exploration and learning schedule.
type Config struct {
	Buckets        int     // discretization buckets per continuous dimension, default 20
	InitialEpsilon float64 // default 1.0
	MinEpsilon     float64 // default 0.01
	EpsilonDecay   float64 // default 0.995
	LearningRate   float64 // alpha, default 0.01
	DiscountFactor float64 // gamma, default 0.95
	ReplayCapacity int     // default 10000
	ReplayBatch    int     // default 32
}

// DefaultConfig returns production policy defaults per spec §4.6.
func DefaultConfig() Config {
	return Config{
		Buckets:        20,
		InitialEpsilon: 1.0,
		MinEpsilon:     0.01,
		EpsilonDecay:   0.995,
		LearningRate:   0.01,
		DiscountFactor: 0.95,
		ReplayCapacity: 10000,
		ReplayBatch:    32,
	}
}

// State is the discretized representation of a decision point: resource
// utilization plus the hour of day, bucketed into Config.Buckets bins each
// and concatenated into a single comparable key.
type State struct {
	CPUPercent float64
	MemPercent float64
	LoadTrend  float64 // -1..1, slope of recent load_score
	Hour       int     // 0..23
}

// Policy selects actions via epsilon-greedy over a live Q-table, and
// improves the table from observed rewards via the standard Q-learning
// update rule.
type Policy struct {
	cfg Config

	mu      sync.Mutex
	q       map[string]map[domain.Action]float64
	epsilon float64
	rng     *randSource

	replay    []domain.RLExperience
	replayPos int
}

// New creates a Policy, optionally rehydrated from persisted experiences
// (oldest-first, as returned by Store.RecentExperiences).
func New(cfg Config, seed int64, history []domain.RLExperience) *Policy {
	p := &Policy{
		cfg:     cfg,
		q:       make(map[string]map[domain.Action]float64),
		epsilon: cfg.InitialEpsilon,
		rng:     newRandSource(seed),
		replay:  make([]domain.RLExperience, 0, cfg.ReplayCapacity),
	}
	for _, exp := range history {
		p.rememberLocked(exp)
		p.applyLocked(exp)
	}
	metrics.QTableSize.Set(float64(len(p.q)))
	metrics.PolicyEpsilon.Set(p.epsilon)
	return p
}

// Discretize bins a raw observation into a State's string key.
func (p *Policy) Discretize(cpu, mem, loadTrend float64, hour int) string {
	bucket := func(v, lo, hi float64) int {
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		frac := (v - lo) / (hi - lo)
		b := int(frac * float64(p.cfg.Buckets))
		if b >= p.cfg.Buckets {
			b = p.cfg.Buckets - 1
		}
		return b
	}
	return fmt.Sprintf("c%d_m%d_t%d_h%d",
		bucket(cpu, 0, 100),
		bucket(mem, 0, 100),
		bucket(loadTrend, -1, 1),
		hour%24,
	)
}

// SelectAction runs epsilon-greedy selection over the candidate action set
// (usually domain.Actions, optionally narrowed to what SuggestActions
// proposed), breaking value ties in favor of the earlier candidate (so by
// domain.Actions' fixed order when no candidates are given) and decaying
// epsilon on every call per spec §4.6.
func (p *Policy) SelectAction(stateKey string, candidates []domain.Action) domain.Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(candidates) == 0 {
		candidates = domain.Actions
	}

	defer p.decayEpsilonLocked()

	if p.rng.Float64() < p.epsilon {
		idx := p.rng.Intn(len(candidates))
		metrics.PolicyActionsChosen.WithLabelValues(string(candidates[idx]), "explore").Inc()
		return candidates[idx]
	}

	best := candidates[0]
	bestQ := p.qValueLocked(stateKey, best)
	for _, a := range candidates[1:] {
		q := p.qValueLocked(stateKey, a)
		if q > bestQ {
			best, bestQ = a, q
		}
	}
	metrics.PolicyActionsChosen.WithLabelValues(string(best), "exploit").Inc()
	return best
}

// Observe records a transition, updates the Q-table, and feeds the replay
// buffer. Call this once per executed decision as its outcome becomes
// known.
func (p *Policy) Observe(exp domain.RLExperience) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(exp)
	p.rememberLocked(exp)
	metrics.QTableSize.Set(float64(len(p.q)))
}

// ReplayBatch samples up to Config.ReplayBatch past experiences and
// re-applies the Q-update to them, the standard experience-replay pass
// that stabilizes tabular Q-learning against the recency bias of
// online-only updates.
func (p *Policy) ReplayBatch() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.replay) == 0 {
		return 0
	}
	n := p.cfg.ReplayBatch
	if n > len(p.replay) {
		n = len(p.replay)
	}
	for i := 0; i < n; i++ {
		idx := p.rng.Intn(len(p.replay))
		p.applyLocked(p.replay[idx])
	}
	return n
}

func (p *Policy) applyLocked(exp domain.RLExperience) {
	current := p.qValueLocked(exp.State, exp.Action)

	var target float64
	if exp.Terminal {
		target = exp.Reward
	} else {
		target = exp.Reward + p.cfg.DiscountFactor*p.maxQLocked(exp.NextState)
	}

	updated := current + p.cfg.LearningRate*(target-current)
	if p.q[exp.State] == nil {
		p.q[exp.State] = make(map[domain.Action]float64)
	}
	p.q[exp.State][exp.Action] = updated
}

func (p *Policy) rememberLocked(exp domain.RLExperience) {
	if len(p.replay) < p.cfg.ReplayCapacity {
		p.replay = append(p.replay, exp)
		return
	}
	p.replay[p.replayPos] = exp
	p.replayPos = (p.replayPos + 1) % p.cfg.ReplayCapacity
}

func (p *Policy) qValueLocked(state string, action domain.Action) float64 {
	actions, ok := p.q[state]
	if !ok {
		return 0
	}
	return actions[action]
}

func (p *Policy) maxQLocked(state string) float64 {
	actions, ok := p.q[state]
	if !ok || len(actions) == 0 {
		return 0
	}
	max := math.Inf(-1)
	for _, a := range domain.Actions {
		if q, present := actions[a]; present && q > max {
			max = q
		}
	}
	if math.IsInf(max, -1) {
		return 0
	}
	return max
}

func (p *Policy) decayEpsilonLocked() {
	p.epsilon = math.Max(p.cfg.MinEpsilon, p.epsilon*p.cfg.EpsilonDecay)
	metrics.PolicyEpsilon.Set(p.epsilon)
}

// Epsilon returns the current exploration rate.
func (p *Policy) Epsilon() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epsilon
}

// Size returns the number of distinct states seen by the Q-table.
func (p *Policy) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.q)
}

// Reward implements spec §4.6's reward formula:
// reward_base(+1/-1) + 0.5*impact_accuracy + 0.3*max(0, 1-cost/100).
func Reward(success bool, impactAccuracy, estimatedCost float64) float64 {
	base := -1.0
	if success {
		base = 1.0
	}
	costTerm := 1 - estimatedCost/100
	if costTerm < 0 {
		costTerm = 0
	}
	return base + 0.5*impactAccuracy + 0.3*costTerm
}

// randSource is a tiny linear-congruential generator so the policy's
// exploration draws are reproducible from a seed without pulling in
// math/rand's global lock — grounded on the same determinism requirement
// as pig.Graph's hash-based node IDs.
type randSource struct {
	state uint64
}

func newRandSource(seed int64) *randSource {
	if seed == 0 {
		seed = 0x2545F4914F6CDD1D
	}
	return &randSource{state: uint64(seed)}
}

func (r *randSource) next() uint64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return r.state
}

// Float64 returns a pseudo-random value in [0, 1).
func (r *randSource) Float64() float64 {
	return float64(r.next()>>11) / float64(1<<53)
}

// Intn returns a pseudo-random value in [0, n).
func (r *randSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.next() % uint64(n))
}
