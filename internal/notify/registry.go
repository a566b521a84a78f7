package notify

import (
	"errors"
	"log/slog"
	"sync"
)

// Role partitions sessions by participant kind.
type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

// ErrNoSession means the addressee has no live connection.
var ErrNoSession = errors.New("no session")

// Conn is the subset of a websocket connection the registry needs. Satisfied
// by *websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session wraps one participant connection. Writes are serialized because
// gorilla connections allow a single concurrent writer.
type Session struct {
	conn Conn
	mu   sync.Mutex
}

func (s *Session) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

// Registry holds live sessions per role. Connect/disconnect events maintain
// the reachability view consulted before every dispatch send.
type Registry struct {
	mu       sync.RWMutex
	sessions map[Role]map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: map[Role]map[string]*Session{
			RoleDriver: make(map[string]*Session),
			RoleRider:  make(map[string]*Session),
		},
		logger: logger,
	}
}

func (r *Registry) Add(role Role, id string, conn Conn) {
	r.mu.Lock()
	prev := r.sessions[role][id]
	r.sessions[role][id] = &Session{conn: conn}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
	r.logger.Info("session connected", "role", role, "id", id)
}

// Remove drops the session for id unless a reconnect has already replaced
// it with a different connection. Pass nil to drop unconditionally.
func (r *Registry) Remove(role Role, id string, conn Conn) {
	r.mu.Lock()
	s, ok := r.sessions[role][id]
	if ok && (conn == nil || s.conn == conn) {
		delete(r.sessions[role], id)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info("session disconnected", "role", role, "id", id)
	}
}

func (r *Registry) IsConnected(role Role, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[role][id]
	return ok
}

// ConnectedDrivers snapshots the ids of every driver with a live session.
func (r *Registry) ConnectedDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions[RoleDriver]))
	for id := range r.sessions[RoleDriver] {
		out = append(out, id)
	}
	return out
}

// Send delivers an envelope to one participant. A failed write drops the
// session so reachability reflects reality.
func (r *Registry) Send(role Role, id string, env Envelope) error {
	r.mu.RLock()
	s, ok := r.sessions[role][id]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(env); err != nil {
		r.logger.Warn("send failed, dropping session", "role", role, "id", id, "error", err)
		r.Remove(role, id, s.conn)
		return err
	}
	return nil
}
