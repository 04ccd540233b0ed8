package service

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/x18ops/signaling/internal/core/domain"
)

// AuditFunc observes every inbound envelope before dispatch, mirroring a
// wildcard event hook. It must not block.
type AuditFunc func(origin domain.ConnID, kind domain.EventKind, rawPayload []byte)

// Router classifies inbound envelopes by event kind and forwards them to a
// single target connection, a room, or every registered connection. It is
// stateless; all state lives in the registry and room directory it holds by
// handle.
type Router struct {
	registry *Registry
	rooms    *Rooms
	audit    AuditFunc
}

func NewRouter(registry *Registry, rooms *Rooms, audit AuditFunc) *Router {
	if audit == nil {
		audit = func(origin domain.ConnID, kind domain.EventKind, rawPayload []byte) {
			log.Debug().
				Str("conn_id", origin.String()).
				Str("event", string(kind)).
				RawJSON("payload", nonEmpty(rawPayload)).
				Msg("Event received")
		}
	}
	return &Router{registry: registry, rooms: rooms, audit: audit}
}

// Dispatch routes one inbound envelope from origin. Routing failures are
// logged and swallowed; no inbound message can take down the sender's
// connection, let alone the relay.
func (r *Router) Dispatch(origin domain.ConnID, env domain.Envelope) {
	r.audit(origin, env.Event, env.Data)

	switch env.Event {
	case domain.EventJoin:
		r.handleJoin(origin, env.Data)
	case domain.EventOffer, domain.EventAnswer:
		r.handleTargeted(origin, env.Event, env.Data)
	case domain.EventICECandidate:
		r.handleICECandidate(origin, env.Data)
	case domain.EventEndCall:
		r.handleEndCall(origin)
	case domain.EventDisconnect, domain.EventTransportError:
		// Transport-level kinds are synthesized by the adapter and handled
		// by the supervisor; a client sending one in-band gets ignored.
		log.Debug().
			Str("conn_id", origin.String()).
			Str("event", string(env.Event)).
			Msg("Ignoring transport-level event on message path")
	}
}

func (r *Router) handleJoin(origin domain.ConnID, raw json.RawMessage) {
	var p domain.JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Room == "" {
		// Bare room-name strings are accepted too, matching clients that
		// send the room as the whole payload.
		var room string
		if err2 := json.Unmarshal(raw, &room); err2 != nil || room == "" {
			r.protocolError(origin, domain.EventJoin, "missing room")
			return
		}
		p.Room = room
	}

	if _, ok := r.rooms.Join(origin, p.Room); !ok {
		log.Warn().
			Str("conn_id", origin.String()).
			Str("room", p.Room).
			Msg("Routing error: join from unregistered connection dropped")
		return
	}
	log.Info().
		Str("conn_id", origin.String()).
		Str("room", p.Room).
		Msg("Joined room")

	// The sender receives its own user-joined, matching observed behavior.
	r.rooms.Broadcast(p.Room, domain.MustEnvelope(domain.EventUserJoined, origin.String()))
}

func (r *Router) handleTargeted(origin domain.ConnID, kind domain.EventKind, raw json.RawMessage) {
	var p domain.TargetedPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SDP == "" || p.Type == "" || p.To == "" {
		r.protocolError(origin, kind, "missing sdp, type, or to")
		return
	}

	target, ok := r.resolveTarget(origin, kind, p.To)
	if !ok {
		return
	}

	// Forward the payload unchanged apart from stamping from. A client-sent
	// from field is overwritten, never relayed verbatim.
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		r.protocolError(origin, kind, "payload is not an object")
		return
	}
	fields["from"] = origin.String()

	r.forward(origin, target, kind, fields)
}

func (r *Router) handleICECandidate(origin domain.ConnID, raw json.RawMessage) {
	var p domain.ICECandidatePayload
	if err := json.Unmarshal(raw, &p); err != nil || len(p.Candidate) == 0 || p.To == "" {
		r.protocolError(origin, domain.EventICECandidate, "missing candidate or to")
		return
	}
	candidate, err := p.NormalizeCandidate()
	if err != nil {
		r.protocolError(origin, domain.EventICECandidate, "unrecognized candidate shape")
		return
	}

	target, ok := r.resolveTarget(origin, domain.EventICECandidate, p.To)
	if !ok {
		return
	}

	r.forward(origin, target, domain.EventICECandidate, map[string]any{
		"candidate":     candidate,
		"sdpMid":        p.SDPMid,
		"sdpMLineIndex": p.SDPMLineIndex,
		"from":          origin.String(),
	})
}

// handleEndCall broadcasts to every registered connection except the sender,
// server-wide rather than scoped to the sender's rooms. That scope mirrors
// observed behavior and may be unintentional; see DESIGN.md.
func (r *Router) handleEndCall(origin domain.ConnID) {
	env := domain.Envelope{Event: domain.EventEndCall}
	sent := deliver(r.registry, r.registry.Snapshot(), env, []domain.ConnID{origin})
	log.Info().
		Str("conn_id", origin.String()).
		Int("recipients", sent).
		Msg("End call broadcast")
}

// resolveTarget parses and looks up a target id. An unknown or unparseable
// target is a routing error: the message is dropped, the sender unaffected.
func (r *Router) resolveTarget(origin domain.ConnID, kind domain.EventKind, to string) (Entry, bool) {
	id, err := domain.ParseConnID(to)
	if err == nil {
		if e, lerr := r.registry.Lookup(id); lerr == nil {
			return e, true
		}
	}
	log.Warn().
		Str("conn_id", origin.String()).
		Str("event", string(kind)).
		Str("to", to).
		Msg("Routing error: target not registered, message dropped")
	return Entry{}, false
}

func (r *Router) forward(origin domain.ConnID, target Entry, kind domain.EventKind, payload map[string]any) {
	if err := target.Conn.Send(domain.MustEnvelope(kind, payload)); err != nil {
		log.Warn().Err(err).
			Str("conn_id", target.Conn.ID().String()).
			Str("event", string(kind)).
			Msg("Dropped forwarded message")
		return
	}
	log.Debug().
		Str("from", origin.String()).
		Str("to", target.Conn.ID().String()).
		Str("event", string(kind)).
		Msg("Forwarded")
}

func (r *Router) protocolError(origin domain.ConnID, kind domain.EventKind, detail string) {
	log.Warn().
		Str("conn_id", origin.String()).
		Str("event", string(kind)).
		Str("detail", detail).
		Msg("Protocol error: message dropped, connection left open")
}

func nonEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
