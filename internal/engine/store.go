package engine

import (
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Artifact is an encoded result retained until the owner deletes it.
type Artifact struct {
	ID          string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Locator is the externally usable path for the artifact. Nothing
// auto-releases it; the caller owns its lifetime.
func (a Artifact) Locator() string { return "/artifacts/" + a.ID }

// Store is an in-memory artifact store keyed by ksuid.
type Store struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

func NewStore() *Store {
	return &Store{artifacts: make(map[string]Artifact)}
}

func (s *Store) Put(contentType string, data []byte) Artifact {
	a := Artifact{
		ID:          ksuid.New().String(),
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	s.mu.Lock()
	s.artifacts[a.ID] = a
	s.mu.Unlock()
	return a
}

func (s *Store) Get(id string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[id]; !ok {
		return false
	}
	delete(s.artifacts, id)
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}
