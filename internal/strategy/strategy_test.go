package strategy

import (
	"testing"

	"meridian/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name   string
	warmup int
}

func (s *stubStrategy) Name() string    { return s.name }
func (s *stubStrategy) WarmupBars() int { return s.warmup }
func (s *stubStrategy) Evaluate(_ []domain.Bar, _ *State) (*domain.Signal, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &stubStrategy{name: "test-strategy"}

	r.Register(s)

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "alpha"})
	r.Register(&stubStrategy{name: "beta"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestRegistryMaxWarmup(t *testing.T) {
	r := NewRegistry()
	if r.MaxWarmup() != 0 {
		t.Errorf("MaxWarmup on empty registry = %d, want 0", r.MaxWarmup())
	}

	r.Register(&stubStrategy{name: "short", warmup: 10})
	r.Register(&stubStrategy{name: "long", warmup: 31})

	if got := r.MaxWarmup(); got != 31 {
		t.Errorf("MaxWarmup = %d, want 31", got)
	}
}

func TestNewStateStartsFlat(t *testing.T) {
	st := NewState()
	if st.LastDirection != domain.DirectionFlat {
		t.Errorf("new state LastDirection = %q, want flat", st.LastDirection)
	}
	if st.Values == nil {
		t.Error("new state Values map should be initialised")
	}
}
