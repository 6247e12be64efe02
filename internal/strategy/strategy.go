// Package strategy defines the Strategy contract for trading strategies and
// provides a Registry for managing multiple strategy implementations.
//
// Strategies are pure with respect to their inputs: the same window and
// state always produce the same signal. All mutable state lives in the
// caller-owned State value, so one strategy instance can serve many symbols
// with fully isolated state.
package strategy

import (
	"sort"

	"meridian/internal/domain"
)

// State is the explicit, caller-owned evaluation state for one
// (strategy, symbol) pair. The execution engine keeps one State per pair and
// passes it back on every evaluation; strategies never hold state of their
// own.
type State struct {
	// LastDirection is the direction of the last emitted signal, used to
	// suppress duplicate signals while a condition persists.
	LastDirection domain.Direction

	// Values is per-strategy scratch space (previous indicator readings and
	// the like), keyed by strategy-chosen names.
	Values map[string]float64
}

// NewState returns an empty evaluation state.
func NewState() *State {
	return &State{
		LastDirection: domain.DirectionFlat,
		Values:        make(map[string]float64),
	}
}

// Strategy is the contract all trading strategies implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// WarmupBars returns the minimum window length the strategy needs
	// before it can produce a signal.
	WarmupBars() int

	// Evaluate inspects an ordered window of bars for one symbol (newest
	// last) together with the caller-owned state and returns at most one
	// signal triggered by the newest bar. A nil signal means no action.
	Evaluate(window []domain.Bar, state *State) (*domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxWarmup returns the largest warmup requirement across all registered
// strategies. The engine uses it to size rolling bar windows.
func (r *Registry) MaxWarmup() int {
	maxBars := 0
	for _, s := range r.strategies {
		if w := s.WarmupBars(); w > maxBars {
			maxBars = w
		}
	}
	return maxBars
}
