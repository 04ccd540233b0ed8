package service

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/x18ops/signaling/internal/core/domain"
)

type relay struct {
	registry   *Registry
	rooms      *Rooms
	router     *Router
	supervisor *Supervisor
}

func newRelay() *relay {
	registry := NewRegistry()
	rooms := NewRooms(registry)
	router := NewRouter(registry, rooms, func(domain.ConnID, domain.EventKind, []byte) {})
	return &relay{
		registry:   registry,
		rooms:      rooms,
		router:     router,
		supervisor: NewSupervisor(registry, rooms, router),
	}
}

func (r *relay) connect(t *testing.T, role string) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	c.id = r.supervisor.Connected(c, domain.ConnMeta{RemoteAddr: "127.0.0.1:0", Role: role}, nil)
	return c
}

func (r *relay) send(t *testing.T, from *fakeConn, kind domain.EventKind, payload string) {
	t.Helper()
	r.supervisor.Message(from.id, domain.Envelope{Event: kind, Data: json.RawMessage(payload)})
}

func payloadMap(t *testing.T, env domain.Envelope) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatalf("payload is not an object: %v", err)
	}
	return m
}

func TestJoinBroadcastsUserJoinedIncludingSender(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "operation_center")
	b := r.connect(t, "fleet")

	r.send(t, a, domain.EventJoin, `{"room":"lobby"}`)
	r.send(t, b, domain.EventJoin, `{"room":"lobby"}`)

	// a sees its own join plus b's; b sees its own.
	aJoined := a.byKind(domain.EventUserJoined)
	if len(aJoined) != 2 {
		t.Fatalf("a received %d user-joined, want 2", len(aJoined))
	}
	var first string
	if err := json.Unmarshal(aJoined[0].Data, &first); err != nil {
		t.Fatalf("user-joined payload: %v", err)
	}
	if first != a.id.String() {
		t.Errorf("first user-joined = %s, want sender's own id %s", first, a.id)
	}

	bJoined := b.byKind(domain.EventUserJoined)
	if len(bJoined) != 1 {
		t.Fatalf("b received %d user-joined, want 1", len(bJoined))
	}
}

func TestJoinAcceptsBareRoomString(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")

	r.send(t, a, domain.EventJoin, `"operation_center"`)

	if got := r.rooms.Members("operation_center"); len(got) != 1 {
		t.Fatalf("members = %v, want [a]", got)
	}
}

func TestOfferForwardedToTargetOnly(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")
	b := r.connect(t, "")
	c := r.connect(t, "")

	r.send(t, a, domain.EventJoin, `{"room":"lobby"}`)
	r.send(t, b, domain.EventJoin, `{"room":"lobby"}`)

	r.send(t, a, domain.EventOffer,
		fmt.Sprintf(`{"sdp":"x","type":"offer","to":%q}`, b.id))

	offers := b.byKind(domain.EventOffer)
	if len(offers) != 1 {
		t.Fatalf("b received %d offers, want exactly 1", len(offers))
	}
	p := payloadMap(t, offers[0])
	if p["from"] != a.id.String() {
		t.Errorf("from = %v, want %s", p["from"], a.id)
	}
	if p["sdp"] != "x" || p["type"] != "offer" {
		t.Errorf("payload altered: %v", p)
	}

	if got := a.byKind(domain.EventOffer); len(got) != 0 {
		t.Errorf("sender received its own offer: %v", got)
	}
	if got := c.byKind(domain.EventOffer); len(got) != 0 {
		t.Errorf("bystander received offer: %v", got)
	}
}

func TestClientSuppliedFromIsOverwritten(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")
	b := r.connect(t, "")

	r.send(t, a, domain.EventAnswer,
		fmt.Sprintf(`{"sdp":"y","type":"answer","to":%q,"from":"forged"}`, b.id))

	answers := b.byKind(domain.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("b received %d answers, want 1", len(answers))
	}
	if got := payloadMap(t, answers[0])["from"]; got != a.id.String() {
		t.Errorf("from = %v, want true sender %s", got, a.id)
	}
}

func TestICECandidateNormalization(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"string candidate", `{"candidate":"candidate:1 1 udp 2122i","sdpMid":"0","sdpMLineIndex":0,"to":%q}`},
		{"object candidate", `{"candidate":{"candidate":"candidate:1 1 udp 2122i"},"sdpMid":"0","sdpMLineIndex":0,"to":%q}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRelay()
			a := r.connect(t, "")
			b := r.connect(t, "")

			r.send(t, a, domain.EventICECandidate, fmt.Sprintf(tt.payload, b.id))

			got := b.byKind(domain.EventICECandidate)
			if len(got) != 1 {
				t.Fatalf("b received %d candidates, want 1", len(got))
			}
			p := payloadMap(t, got[0])
			if p["candidate"] != "candidate:1 1 udp 2122i" {
				t.Errorf("candidate = %v, want normalized string", p["candidate"])
			}
			if p["from"] != a.id.String() {
				t.Errorf("from = %v, want %s", p["from"], a.id)
			}
		})
	}
}

func TestEndCallReachesAllRegisteredExceptSender(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")
	b := r.connect(t, "")
	c := r.connect(t, "") // never joins any room

	r.send(t, a, domain.EventJoin, `{"room":"lobby"}`)
	r.send(t, b, domain.EventJoin, `{"room":"lobby"}`)

	r.send(t, a, domain.EventEndCall, ``)

	if got := a.byKind(domain.EventEndCall); len(got) != 0 {
		t.Errorf("sender received end-call: %v", got)
	}
	if got := b.byKind(domain.EventEndCall); len(got) != 1 {
		t.Errorf("b received %d end-call, want 1", len(got))
	}
	// Server-wide scope: room membership is irrelevant.
	if got := c.byKind(domain.EventEndCall); len(got) != 1 {
		t.Errorf("roomless c received %d end-call, want 1", len(got))
	}
}

func TestUnknownTargetDroppedWithoutCrash(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")
	b := r.connect(t, "")

	r.send(t, a, domain.EventOffer,
		fmt.Sprintf(`{"sdp":"x","type":"offer","to":%q}`, domain.NewConnID()))
	r.send(t, a, domain.EventOffer, `{"sdp":"x","type":"offer","to":"not-a-uuid"}`)

	if got := b.envelopes(); len(got) != 0 {
		t.Errorf("b received %v, want nothing", got)
	}

	// The sender's connection stays usable.
	r.send(t, a, domain.EventOffer,
		fmt.Sprintf(`{"sdp":"x","type":"offer","to":%q}`, b.id))
	if got := b.byKind(domain.EventOffer); len(got) != 1 {
		t.Errorf("b received %d offers after routing errors, want 1", len(got))
	}
}

func TestMalformedPayloadsDropped(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.EventKind
		payload string
	}{
		{"join without room", domain.EventJoin, `{}`},
		{"offer without sdp", domain.EventOffer, `{"type":"offer","to":"x"}`},
		{"offer without to", domain.EventOffer, `{"sdp":"x","type":"offer"}`},
		{"answer not an object", domain.EventAnswer, `42`},
		{"candidate without to", domain.EventICECandidate, `{"candidate":"c","sdpMid":"0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRelay()
			a := r.connect(t, "")
			b := r.connect(t, "")

			r.send(t, a, tt.kind, tt.payload)

			if got := b.envelopes(); len(got) != 0 {
				t.Errorf("b received %v, want nothing", got)
			}
			if _, err := r.registry.Lookup(a.id); err != nil {
				t.Errorf("sender was deregistered: %v", err)
			}
		})
	}
}

func TestDisconnectRemovesFromEveryRoom(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")
	b := r.connect(t, "")

	r.send(t, a, domain.EventJoin, `{"room":"lobby"}`)
	r.send(t, a, domain.EventJoin, `{"room":"ops"}`)
	r.send(t, b, domain.EventJoin, `{"room":"lobby"}`)

	r.supervisor.Disconnected(a.id, "client closed")
	r.supervisor.Disconnected(a.id, "client closed") // idempotent

	if _, err := r.registry.Lookup(a.id); err != domain.ErrNotFound {
		t.Fatalf("Lookup after disconnect = %v, want ErrNotFound", err)
	}

	before := len(a.envelopes())
	r.send(t, b, domain.EventJoin, `{"room":"lobby"}`)
	if got := len(a.envelopes()); got != before {
		t.Errorf("disconnected conn received %d new envelopes", got-before)
	}

	// No user-left is emitted to former peers.
	for _, env := range b.envelopes() {
		if env.Event != domain.EventUserJoined {
			t.Errorf("b received unexpected %s", env.Event)
		}
	}
}

func TestLateJoinAfterDisconnectLeavesNoMembership(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")
	b := r.connect(t, "")

	r.send(t, b, domain.EventJoin, `{"room":"lobby"}`)
	r.supervisor.Disconnected(a.id, "client closed")

	// A frame already in flight when the teardown ran must not resurrect
	// the connection's room membership.
	r.send(t, a, domain.EventJoin, `{"room":"lobby"}`)

	members := r.rooms.Members("lobby")
	if len(members) != 1 || members[0] != b.id {
		t.Fatalf("lobby = %v, want [%s]", members, b.id)
	}
	if got := b.byKind(domain.EventUserJoined); len(got) != 1 {
		t.Errorf("b saw %d user-joined, want only its own", len(got))
	}

	r.send(t, a, domain.EventOffer, fmt.Sprintf(`{"sdp":"x","type":"offer","to":%q}`, b.id))
	if got := b.byKind(domain.EventOffer); len(got) != 0 {
		t.Errorf("b received an offer from a dead connection: %v", got)
	}
}

func TestTransportErrorKeepsLiveConnection(t *testing.T) {
	r := newRelay()
	a := r.connect(t, "")

	r.supervisor.TransportError(a.id, fmt.Errorf("transient write error"), false)
	if _, err := r.registry.Lookup(a.id); err != nil {
		t.Fatalf("live connection was torn down: %v", err)
	}

	r.supervisor.TransportError(a.id, fmt.Errorf("channel gone"), true)
	if _, err := r.registry.Lookup(a.id); err != domain.ErrNotFound {
		t.Fatalf("dead channel still registered: %v", err)
	}
}

func TestAuditHookSeesEveryInboundEvent(t *testing.T) {
	registry := NewRegistry()
	rooms := NewRooms(registry)

	var seen []domain.EventKind
	router := NewRouter(registry, rooms, func(_ domain.ConnID, kind domain.EventKind, _ []byte) {
		seen = append(seen, kind)
	})
	sup := NewSupervisor(registry, rooms, router)

	c := &fakeConn{}
	c.id = sup.Connected(c, domain.ConnMeta{}, nil)

	sup.Message(c.id, domain.Envelope{Event: domain.EventJoin, Data: json.RawMessage(`"lobby"`)})
	sup.Message(c.id, domain.Envelope{Event: domain.EventEndCall})
	sup.Message(c.id, domain.Envelope{Event: domain.EventOffer, Data: json.RawMessage(`{}`)})

	want := []domain.EventKind{domain.EventJoin, domain.EventEndCall, domain.EventOffer}
	if len(seen) != len(want) {
		t.Fatalf("audit saw %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("audit[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}
