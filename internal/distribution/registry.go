package distribution

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tarot/internal/engine"
)

var (
	ErrUnknownDistribution = errors.New("unknown distribution")
	ErrHashCollision       = errors.New("hash code already bound to other numbers")
	ErrBadNumber           = errors.New("invalid number")
	ErrNotInUse            = errors.New("distribution has no running game")
)

// Info is the public answer for a hash code. Numbers and cards stay empty
// until every game that used the distribution has concluded.
type Info struct {
	HashCode           string     `json:"hashCode"`
	UsageCount         int        `json:"usageCount"`
	Concluded          bool       `json:"concluded"`
	DistributionNumber string     `json:"distributionNumber,omitempty"`
	SequenceNumber     string     `json:"sequenceNumber,omitempty"`
	Hands              [][]string `json:"hands,omitempty"`
	Dog                []string   `json:"dog,omitempty"`
}

type entry struct {
	dist     Distribution
	uses     int
	finished int
}

func (e *entry) concluded() bool { return e.uses > 0 && e.finished >= e.uses }

// Registry remembers every distribution dealt by this process.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Record notes that a game is about to use d.
func (r *Registry) Record(d Distribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[d.HashCode]
	if !ok {
		r.entries[d.HashCode] = &entry{dist: d, uses: 1}
		return nil
	}
	if e.dist.Number.Cmp(d.Number) != 0 || e.dist.Sequence.Cmp(d.Sequence) != 0 {
		return fmt.Errorf("%w: %s", ErrHashCollision, d.HashCode)
	}
	e.uses++
	return nil
}

// Conclude marks one game that used code as finished.
func (r *Registry) Conclude(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strings.ToLower(code)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDistribution, code)
	}
	if e.finished >= e.uses {
		return fmt.Errorf("%w: %s", ErrNotInUse, code)
	}
	e.finished++
	return nil
}

func (r *Registry) Lookup(code string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(code)]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownDistribution, code)
	}
	info := Info{HashCode: e.dist.HashCode, UsageCount: e.uses, Concluded: e.concluded()}
	if !info.Concluded {
		return info, nil
	}
	info.DistributionNumber = e.dist.Number.String()
	info.SequenceNumber = e.dist.Sequence.String()
	deal := e.dist.Deal()
	for _, h := range deal.Hands {
		info.Hands = append(info.Hands, cardIDs(h))
	}
	info.Dog = cardIDs(deal.Dog)
	return info, nil
}

func cardIDs(cards []engine.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID()
	}
	return out
}
