package engine

import (
	"context"
	"time"

	"rembgd/internal/capability"
	"rembgd/internal/progress"
	"rembgd/internal/session"
	"rembgd/pkg/types"
)

// Service bundles the orchestrator with its collaborators behind the surface
// the HTTP layer and the CLI consume.
type Service struct {
	engine   *Engine
	sessions *session.Manager
	probe    *capability.Probe
	progress *progress.Broadcaster
	modelID  string
	start    time.Time
}

func NewService(eng *Engine, sessions *session.Manager, probe *capability.Probe, bc *progress.Broadcaster, modelID string) *Service {
	return &Service{
		engine:   eng,
		sessions: sessions,
		probe:    probe,
		progress: bc,
		modelID:  modelID,
		start:    time.Now(),
	}
}

func (s *Service) RemoveBackground(ctx context.Context, source string) (*Result, error) {
	return s.engine.RemoveBackground(ctx, source)
}

func (s *Service) Artifact(id string) (Artifact, bool) { return s.engine.store.Get(id) }

func (s *Service) DeleteArtifact(id string) bool { return s.engine.store.Delete(id) }

// Capabilities is read-only and non-throwing; probing caches the negotiated
// adapter for the next load.
func (s *Service) Capabilities(ctx context.Context) capability.Descriptor {
	return s.probe.Probe(ctx)
}

func (s *Service) ForceFallbackMode() { s.sessions.ForceFallbackMode() }

func (s *Service) Subscribe(fn progress.Listener) (unsubscribe func()) {
	return s.progress.Subscribe(fn)
}

func (s *Service) Status() types.StatusResponse {
	st := s.progress.Current()
	return types.StatusResponse{
		Progress: types.ProgressEvent{
			Phase:     string(st.Phase),
			Progress:  st.Progress,
			Error:     st.Err,
			SessionID: st.SessionID,
		},
		ModelID:       s.modelID,
		Artifacts:     s.engine.store.Len(),
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
	}
}

func (s *Service) Ready() bool {
	return s.progress.Current().Phase == progress.PhaseReady
}
