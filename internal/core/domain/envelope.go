package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of signaling events carried over a channel.
// Anything outside this set is rejected at the transport boundary.
type EventKind string

const (
	EventJoin           EventKind = "join"
	EventOffer          EventKind = "offer"
	EventAnswer         EventKind = "answer"
	EventICECandidate   EventKind = "ice-candidate"
	EventEndCall        EventKind = "end-call"
	EventDisconnect     EventKind = "disconnect"
	EventTransportError EventKind = "transport-error"

	// Server-emitted only.
	EventUserJoined EventKind = "user-joined"
	EventConnected  EventKind = "connected"
)

// ParseEventKind validates a wire event name against the closed set of
// client-sendable kinds.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventJoin, EventOffer, EventAnswer, EventICECandidate,
		EventEndCall, EventDisconnect, EventTransportError:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// Envelope is one discrete signaling message. Data is opaque to the relay
// except for the routing fields each kind requires.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope decodes a raw transport frame into an Envelope, rejecting
// unknown event kinds. This is the single decode point for inbound traffic.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := ParseEventKind(frame.Event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: kind, Data: frame.Data}, nil
}

// Payload shapes for the kinds the router must look inside. Fields the relay
// does not route on (sdp, candidate bodies) stay opaque.

type JoinPayload struct {
	Room string `json:"room"`
}

type TargetedPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	To   string `json:"to"`
}

type ICECandidatePayload struct {
	// Candidate is a bare string or an object whose "candidate" field holds
	// the string; the router normalizes it before re-emitting.
	Candidate     json.RawMessage `json:"candidate"`
	SDPMid        string          `json:"sdpMid"`
	SDPMLineIndex int             `json:"sdpMLineIndex"`
	To            string          `json:"to"`
}

// NormalizeCandidate extracts the candidate string from either wire shape.
func (p ICECandidatePayload) NormalizeCandidate() (string, error) {
	var s string
	if err := json.Unmarshal(p.Candidate, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal(p.Candidate, &obj); err != nil || obj.Candidate == "" {
		return "", fmt.Errorf("%w: unrecognized candidate shape", ErrMalformed)
	}
	return obj.Candidate, nil
}

func MustEnvelope(kind EventKind, data any) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("marshal %s payload: %v", kind, err))
	}
	return Envelope{Event: kind, Data: raw}
}
