package service

import (
	"github.com/rs/zerolog/log"
	"github.com/x18ops/signaling/internal/core/domain"
	"github.com/x18ops/signaling/internal/core/port"
)

// Supervisor reacts to connect, disconnect, and transport-error notifications
// from the transport adapter, keeping the registry and room directory
// consistent. It implements port.Events.
type Supervisor struct {
	registry *Registry
	rooms    *Rooms
	router   *Router
}

func NewSupervisor(registry *Registry, rooms *Rooms, router *Router) *Supervisor {
	return &Supervisor{registry: registry, rooms: rooms, router: router}
}

func (s *Supervisor) Connected(c port.Conn, meta domain.ConnMeta, hello port.HandshakeFunc) domain.ConnID {
	return s.registry.Register(c, meta, hello)
}

// Message dispatches one inbound envelope. Envelopes that arrive after the
// origin's teardown are dropped, so a late message can never re-create
// registry or room state for a dead connection.
func (s *Supervisor) Message(id domain.ConnID, env domain.Envelope) {
	if _, err := s.registry.Lookup(id); err != nil {
		log.Debug().
			Str("conn_id", id.String()).
			Str("event", string(env.Event)).
			Msg("Dropped message from unregistered connection")
		return
	}
	s.router.Dispatch(id, env)
}

// Disconnected unregisters the connection and removes it from every room it
// belonged to. Former room peers are not notified; join is the only
// membership change that emits an event.
func (s *Supervisor) Disconnected(id domain.ConnID, reason string) {
	if _, err := s.registry.Lookup(id); err != nil {
		return
	}
	s.registry.SetState(id, domain.StateClosing)

	log.Info().
		Str("conn_id", id.String()).
		Str("reason", reason).
		Msg("Connection disconnected")

	// Unregister first so a concurrent broadcast resolving its membership
	// snapshot can no longer reach this connection, then drop memberships.
	s.registry.Unregister(id)
	s.rooms.LeaveAll(id)
}

// TransportError logs a channel-level failure. If the transport has already
// torn the channel down the disconnect path runs; otherwise the connection
// stays open.
func (s *Supervisor) TransportError(id domain.ConnID, err error, channelDown bool) {
	log.Error().Err(err).
		Str("conn_id", id.String()).
		Bool("channel_down", channelDown).
		Msg("Transport error")

	if channelDown {
		s.Disconnected(id, "transport error")
	}
}

// Shutdown closes every live connection and clears the registry and rooms.
// A restart drops every connection, room, and in-flight call by design.
func (s *Supervisor) Shutdown() {
	for _, id := range s.registry.Snapshot() {
		e, err := s.registry.Lookup(id)
		if err != nil {
			continue
		}
		if err := e.Conn.Close(); err != nil {
			log.Error().Err(err).Str("conn_id", id.String()).Msg("Error closing connection")
		}
		s.Disconnected(id, "server shutdown")
	}
}

var _ port.Events = (*Supervisor)(nil)
