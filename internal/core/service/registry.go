package service

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/x18ops/signaling/internal/core/domain"
	"github.com/x18ops/signaling/internal/core/port"
)

// Entry is the registry's view of one connection: the send handle plus the
// metadata declared at connect time.
type Entry struct {
	Conn  port.Conn
	Meta  domain.ConnMeta
	State domain.ConnState
}

// Registry owns the connection identifier space. It is constructed once at
// startup and shared by handle with the router and supervisor.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*Entry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*Entry),
	}
}

// Register assigns a fresh id to the channel and records it as open. A
// non-nil hello is enqueued on the channel under the registry lock, so it
// precedes anything a broadcast can deliver to the new connection.
func (r *Registry) Register(c port.Conn, meta domain.ConnMeta, hello port.HandshakeFunc) domain.ConnID {
	if meta.Role == "" {
		meta.Role = domain.DefaultRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.NewConnID()
	if hello != nil {
		c.Send(hello(id))
	}
	r.conns[id] = &Entry{Conn: c, Meta: meta, State: domain.StateOpen}

	log.Info().
		Str("conn_id", id.String()).
		Str("remote_addr", meta.RemoteAddr).
		Str("role", meta.Role).
		Msg("Connection registered")
	return id
}

// Unregister removes the entry. No-op if the id is already absent.
func (r *Registry) Unregister(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return
	}
	e.State = domain.StateClosed
	delete(r.conns, id)
	log.Info().Str("conn_id", id.String()).Msg("Connection unregistered")
}

// Lookup returns a snapshot of the entry for id, or domain.ErrNotFound. A
// copy is returned so callers never observe SetState writes unsynchronized.
func (r *Registry) Lookup(id domain.ConnID) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return Entry{}, domain.ErrNotFound
	}
	return *e, nil
}

// SetState updates the liveness state of a registered connection.
func (r *Registry) SetState(id domain.ConnID, state domain.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[id]; ok {
		e.State = state
	}
}

// Snapshot returns every registered connection id at one consistent instant.
func (r *Registry) Snapshot() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
