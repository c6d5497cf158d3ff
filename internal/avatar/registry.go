package avatar

import (
	"sync"

	"github.com/MuhammetAliVarlik/LocalAIStudio-sub000/internal/session"
)

const (
	DefaultCount     = 800
	DefaultSmoothing = 0.1
	// LevelScale converts a 0-255 playback level into the audio factor.
	LevelScale = 50.0
)

// Registry selects a Mode per interaction state. Lookups of unregistered
// states fall back to the idle mode, so the mapping is total.
type Registry struct {
	mu       sync.RWMutex
	modes    map[session.State]Mode
	fallback Mode
}

func NewRegistry() *Registry {
	return &Registry{
		modes: map[session.State]Mode{
			session.Idle:      Idle,
			session.Listening: Listening,
			session.Thinking:  Thinking,
			session.Speaking:  Speaking,
		},
		fallback: Idle,
	}
}

// Register replaces the mode for state.
func (r *Registry) Register(state session.State, m Mode) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[state] = m
}

func (r *Registry) Mode(state session.State) Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.modes[state]; ok {
		return m
	}
	return r.fallback
}

// Map computes one particle's target for the given inputs.
func (r *Registry) Map(i, count int, t, level float64, state session.State) Point {
	return r.Mode(state)(i, count, t, AudioFactor(level))
}

func AudioFactor(level float64) float64 {
	return max(0, level/LevelScale)
}

// Animator holds the rendered particle positions and eases them toward the
// mapped targets once per Step. Not safe for concurrent use.
type Animator struct {
	reg       *Registry
	smoothing float64
	points    []Point
}

func NewAnimator(reg *Registry, count int) *Animator {
	if reg == nil {
		reg = NewRegistry()
	}
	if count <= 0 {
		count = DefaultCount
	}
	points := make([]Point, count)
	for i := range points {
		points[i] = Idle(i, count, 0, 0)
	}
	return &Animator{reg: reg, smoothing: DefaultSmoothing, points: points}
}

// Step advances one render tick and returns the rendered points. The slice is
// reused by the next Step.
func (a *Animator) Step(state session.State, t, level float64) []Point {
	mode := a.reg.Mode(state)
	factor := AudioFactor(level)
	n := len(a.points)
	for i := range a.points {
		target := mode(i, n, t, factor)
		p := &a.points[i]
		p.X += (target.X - p.X) * a.smoothing
		p.Y += (target.Y - p.Y) * a.smoothing
		p.Z += (target.Z - p.Z) * a.smoothing
		p.Color = target.Color
	}
	return a.points
}

func (a *Animator) Points() []Point { return a.points }
