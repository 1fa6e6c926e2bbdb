package notification

import (
	"math/rand"
	"sync"
	"time"
)

// InsightTrigger decides whether a generation pass should offer an insight.
type InsightTrigger interface {
	Fire() bool
}

// TriggerFunc adapts a function to InsightTrigger.
type TriggerFunc func() bool

func (f TriggerFunc) Fire() bool { return f() }

// RandomTrigger fires with a fixed probability.
type RandomTrigger struct {
	mu  sync.Mutex
	p   float64
	rng *rand.Rand
}

// NewRandomTrigger returns a trigger firing with probability p, clamped to
// [0, 1].
func NewRandomTrigger(p float64) *RandomTrigger {
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	return &RandomTrigger{p: p, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (t *RandomTrigger) Fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Float64() < t.p
}
