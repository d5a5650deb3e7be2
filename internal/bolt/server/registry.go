package server

import (
	"sync"

	"github.com/alxayo/go-bolt/internal/bolt/session"
)

// Registry tracks every live server session keyed by connection ID,
// adapted from internal/rtmp/server/registry.go's stream registry (same
// RWMutex-guarded map shape, generalized from stream-key/*Stream to
// conn-id/*session.Server since Bolt sessions are per-connection rather
// than per-published-stream).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Server
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Server)}
}

// Register adds a session under connID, replacing any prior entry.
func (r *Registry) Register(connID string, s *session.Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = s
}

// Unregister removes connID's session, if present.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Get returns connID's session, if registered.
func (r *Registry) Get(connID string) (*session.Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
