package progress

import (
	"log"
	"sync"
)

// Phase represents the lifecycle phase of a model acquisition session.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDownloading Phase = "downloading"
	PhaseBuilding    Phase = "building"
	PhaseReady       Phase = "ready"
	PhaseError       Phase = "error"
)

// State is a snapshot of the broadcaster. Progress is 0..100; only the ready
// phase may carry 100. SessionID tags the acquisition attempt the state
// belongs to.
type State struct {
	Phase     Phase
	Progress  int
	Err       string
	SessionID uint64
}

// Listener receives state snapshots. Implementations should be lightweight;
// a panicking listener is isolated and does not affect other listeners.
type Listener func(State)

// Broadcaster is a sessioned progress state machine with synchronous
// publish/subscribe. Updates carrying a stale session id are dropped, so an
// abandoned load racing a newer one cannot corrupt visible state.
type Broadcaster struct {
	mu        sync.Mutex
	state     State
	nextID    uint64
	listeners map[int]Listener
	nextSub   int
}

func New() *Broadcaster {
	return &Broadcaster{
		state:     State{Phase: PhaseIdle},
		listeners: make(map[int]Listener),
	}
}

// BeginSession resets the state machine to idle/0 under the next session id
// and notifies subscribers. Returns the new id.
func (b *Broadcaster) BeginSession() uint64 {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.state = State{Phase: PhaseIdle, SessionID: id}
	snap, subs := b.state, b.snapshotListeners()
	b.mu.Unlock()
	notify(snap, subs)
	return id
}

// ReportDownload records download progress for the given session, clamped to
// 0..100. Stale session ids are dropped.
func (b *Broadcaster) ReportDownload(sessionID uint64, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b.mu.Lock()
	if sessionID != b.state.SessionID {
		b.mu.Unlock()
		return
	}
	b.state.Phase = PhaseDownloading
	if percent > b.state.Progress {
		b.state.Progress = percent
	}
	snap, subs := b.state, b.snapshotListeners()
	b.mu.Unlock()
	notify(snap, subs)
}

// ReportBuilding marks the session as building. Progress is floored at 99 and
// never regresses; 100 stays reserved for ready.
func (b *Broadcaster) ReportBuilding(sessionID uint64) {
	b.mu.Lock()
	if sessionID != b.state.SessionID {
		b.mu.Unlock()
		return
	}
	b.state.Phase = PhaseBuilding
	if b.state.Progress < 99 {
		b.state.Progress = 99
	}
	snap, subs := b.state, b.snapshotListeners()
	b.mu.Unlock()
	notify(snap, subs)
}

// ReportReady marks the session ready at exactly 100.
func (b *Broadcaster) ReportReady(sessionID uint64) {
	b.mu.Lock()
	if sessionID != b.state.SessionID {
		b.mu.Unlock()
		return
	}
	b.state.Phase = PhaseReady
	b.state.Progress = 100
	b.state.Err = ""
	snap, subs := b.state, b.snapshotListeners()
	b.mu.Unlock()
	notify(snap, subs)
}

// ReportError moves the session to the error phase, resets progress to 0 and
// attaches the message.
func (b *Broadcaster) ReportError(sessionID uint64, msg string) {
	b.mu.Lock()
	if sessionID != b.state.SessionID {
		b.mu.Unlock()
		return
	}
	b.state.Phase = PhaseError
	b.state.Progress = 0
	b.state.Err = msg
	snap, subs := b.state, b.snapshotListeners()
	b.mu.Unlock()
	notify(snap, subs)
}

// Current returns the latest state snapshot.
func (b *Broadcaster) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers a listener, replays the current state to it immediately
// and returns an idempotent unsubscribe.
func (b *Broadcaster) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.listeners[id] = fn
	snap := b.state
	b.mu.Unlock()

	notify(snap, []Listener{fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// snapshotListeners must be called with b.mu held.
func (b *Broadcaster) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		out = append(out, fn)
	}
	return out
}

// notify delivers outside the lock so a listener may call back into the
// broadcaster (e.g. re-subscribe) without deadlocking.
func notify(s State, subs []Listener) {
	for _, fn := range subs {
		deliver(s, fn)
	}
}

func deliver(s State, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("progress event=listener_panic session=%d recovered=%v", s.SessionID, r)
		}
	}()
	fn(s)
}
