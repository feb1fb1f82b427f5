package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"rembgd/internal/capability"
	"rembgd/internal/inference"
	"rembgd/internal/progress"
)

// Handles is the memoized result of one successful acquisition session.
// It is replaced wholesale, never partially updated.
type Handles struct {
	Model     inference.Model
	Processor *inference.Processor
	Session   uint64
	Backend   capability.Descriptor
}

// Manager drives the load sequence: begin progress session, resolve a
// backend, load model and processor, memoize the pair. Concurrent Load calls
// share one flight; failures invalidate the memo so the next call starts
// fresh.
type Manager struct {
	modelID string
	probe   *capability.Probe
	loader  inference.Loader
	bc      *progress.Broadcaster

	flight singleflight.Group

	mu            sync.Mutex
	cached        *Handles
	forceFallback bool
	gen           uint64

	active atomic.Uint64
}

func NewManager(modelID string, probe *capability.Probe, loader inference.Loader, bc *progress.Broadcaster) *Manager {
	return &Manager{modelID: modelID, probe: probe, loader: loader, bc: bc}
}

// ActiveSession returns the id of the most recently begun session. The fetch
// cache tags its progress reports with it.
func (m *Manager) ActiveSession() uint64 { return m.active.Load() }

// Load returns the ready handle pair, running the full acquisition sequence
// at most once at a time process-wide. Warm calls return the memoized pair
// without touching progress state.
func (m *Manager) Load(ctx context.Context) (*Handles, error) {
	m.mu.Lock()
	if h := m.cached; h != nil {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	v, err, _ := m.flight.Do("load", func() (any, error) {
		// Re-check: a previous flight may have populated the memo while we
		// waited for the flight slot.
		m.mu.Lock()
		if h := m.cached; h != nil {
			m.mu.Unlock()
			return h, nil
		}
		fallback := m.forceFallback
		m.forceFallback = false // one-shot, consumed regardless of outcome
		gen := m.gen
		m.mu.Unlock()
		return m.acquire(ctx, fallback, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handles), nil
}

func (m *Manager) acquire(ctx context.Context, fallback bool, gen uint64) (*Handles, error) {
	start := time.Now()
	sid := m.bc.BeginSession()
	m.active.Store(sid)

	var desc capability.Descriptor
	if fallback {
		desc = capability.Fallback()
	} else {
		desc = m.probe.Probe(ctx)
	}
	log.Printf("session event=load_start session=%d model=%q device=%s precision=%s", sid, m.modelID, desc.Device, desc.Precision)

	mdl, err := m.loader.LoadModel(ctx, m.modelID, desc)
	if err != nil {
		return nil, m.failSession(sid, err)
	}
	m.bc.ReportBuilding(sid)

	proc, err := m.loader.LoadProcessor(ctx, m.modelID)
	if err != nil {
		return nil, m.failSession(sid, err)
	}
	m.bc.ReportReady(sid)

	h := &Handles{Model: mdl, Processor: proc, Session: sid, Backend: desc}
	m.mu.Lock()
	// An invalidation (failure elsewhere or ForceFallbackMode) while this
	// flight was running must not be resurrected: memoize only if the
	// generation we started under is still current.
	if m.gen == gen {
		m.cached = h
	}
	m.mu.Unlock()
	log.Printf("session event=load_ready session=%d dur_ms=%d", sid, time.Since(start)/time.Millisecond)
	return h, nil
}

func (m *Manager) failSession(sid uint64, err error) error {
	m.invalidate()
	m.bc.ReportError(sid, err.Error())
	log.Printf("session event=load_error session=%d err=%v", sid, err)
	return err
}

// ForceFallbackMode invalidates any memoized session and arms the one-shot
// flag so exactly the next Load skips backend probing and uses the universal
// fallback descriptor.
func (m *Manager) ForceFallbackMode() {
	m.mu.Lock()
	m.cached = nil
	m.forceFallback = true
	m.gen++
	m.mu.Unlock()
}

func (m *Manager) invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.gen++
	m.mu.Unlock()
}
