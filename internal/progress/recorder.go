package progress

import "sync"

// Recorder stores delivered states in-memory for tests.
type Recorder struct {
	mu     sync.Mutex
	states []State
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Listen(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *Recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

// Last returns the most recent state, or the zero State when empty.
func (r *Recorder) Last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return State{}
	}
	return r.states[len(r.states)-1]
}
