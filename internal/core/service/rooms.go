package service

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/x18ops/signaling/internal/core/domain"
)

// Rooms maps room names to member connection ids. Rooms are created on first
// join and deleted when their last member leaves. One mutex serializes
// membership changes against broadcasts so every broadcast observes a single
// consistent membership snapshot.
type Rooms struct {
	registry *Registry

	mu    sync.Mutex
	rooms map[string]map[domain.ConnID]struct{}
	// joined indexes the rooms each connection belongs to, for LeaveAll.
	joined map[domain.ConnID]map[string]struct{}
}

func NewRooms(registry *Registry) *Rooms {
	return &Rooms{
		registry: registry,
		rooms:    make(map[string]map[domain.ConnID]struct{}),
		joined:   make(map[domain.ConnID]map[string]struct{}),
	}
}

// Join adds id to the room, creating it if absent, and returns the member
// set including the new member. An id that is no longer registered is
// refused: the check runs under the directory lock, so a teardown's
// LeaveAll either precedes the check or cleans up after the insert, and a
// message dispatched after disconnect can never leave a ghost member behind.
func (r *Rooms) Join(id domain.ConnID, room string) ([]domain.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.registry.Lookup(id); err != nil {
		return nil, false
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		r.rooms[room] = members
		log.Debug().Str("room", room).Msg("Room created")
	}
	members[id] = struct{}{}

	if r.joined[id] == nil {
		r.joined[id] = make(map[string]struct{})
	}
	r.joined[id][room] = struct{}{}

	snapshot := make([]domain.ConnID, 0, len(members))
	for m := range members {
		snapshot = append(snapshot, m)
	}
	return snapshot, true
}

// Leave removes id from the room, deleting the room if it becomes empty.
func (r *Rooms) Leave(id domain.ConnID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(id, room)
}

// LeaveAll removes id from every room it belongs to, atomically with respect
// to any broadcast over those rooms.
func (r *Rooms) LeaveAll(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.joined[id] {
		r.leaveLocked(id, room)
	}
}

func (r *Rooms) leaveLocked(id domain.ConnID, room string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
		log.Debug().Str("room", room).Msg("Room deleted")
	}

	if rooms := r.joined[id]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, id)
		}
	}
}

// Broadcast delivers the envelope to every current member of the room except
// those in exclude. Delivery is best-effort fan-out onto each member's
// outbound queue; members that deregistered since the snapshot are skipped.
func (r *Rooms) Broadcast(room string, env domain.Envelope, exclude ...domain.ConnID) int {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	snapshot := make([]domain.ConnID, 0, len(members))
	for m := range members {
		snapshot = append(snapshot, m)
	}
	r.mu.Unlock()

	return deliver(r.registry, snapshot, env, exclude)
}

// Members returns the current member set of the room, nil if absent.
func (r *Rooms) Members(room string) []domain.ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	snapshot := make([]domain.ConnID, 0, len(members))
	for m := range members {
		snapshot = append(snapshot, m)
	}
	return snapshot
}

// deliver fans an envelope out to ids through the registry, skipping excluded
// and no-longer-registered connections.
func deliver(registry *Registry, ids []domain.ConnID, env domain.Envelope, exclude []domain.ConnID) int {
	sent := 0
	for _, id := range ids {
		if contains(exclude, id) {
			continue
		}
		e, err := registry.Lookup(id)
		if err != nil {
			continue
		}
		if err := e.Conn.Send(env); err != nil {
			log.Warn().Err(err).Str("conn_id", id.String()).Msg("Dropped broadcast message")
			continue
		}
		sent++
	}
	return sent
}

func contains(ids []domain.ConnID, id domain.ConnID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
