// Package ingest runs the two real-time intake listeners: the TCP stream
// listener for emergency alerts and the UDP datagram listener for drone
// telemetry, plus the supervisor that governs their lifecycle.
package ingest

import (
	"net"
	"sync"
)

// Session is one live stream connection. It is owned exclusively by its
// handler goroutine; the registry only holds it for enumeration and
// shutdown signaling.
type Session struct {
	ID   string
	conn net.Conn

	stopOnce sync.Once
}

// Stop signals the session's read loop to exit by closing the underlying
// connection. Safe to call more than once and from any goroutine.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.conn.Close()
	})
}

// Registry is the authoritative map of live stream sessions. Handlers
// insert on accept and remove on termination; the supervisor enumerates
// it during shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add inserts a session under its id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove deletes a session by id. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopAll signals every live session to stop. It does not wait for the
// handler goroutines to drain.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
