package realtime

import (
	"sort"
	"sync"
)

// Member is a live connection that can be joined to rooms
type Member interface {
	ID() string
	Send(payload []byte) error
}

// Registry tracks which members are joined to which rooms. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Member   // room -> member id -> member
	memberRooms map[string]map[string]struct{} // member id -> rooms
}

// NewRegistry constructs an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]map[string]Member),
		memberRooms: make(map[string]map[string]struct{}),
	}
}

// Join adds m to room. Joining twice has no further effect.
func (r *Registry) Join(m Member, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]Member)
		r.rooms[room] = members
	}
	members[m.ID()] = m

	joined := r.memberRooms[m.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		r.memberRooms[m.ID()] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes m from room, if it was there
func (r *Registry) Leave(m Member, room string) {
	r.mu.Lock()
	r.leaveLocked(m.ID(), room)
	r.mu.Unlock()
}

// Disconnect removes m from every room it joined
func (r *Registry) Disconnect(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.memberRooms[m.ID()] {
		r.leaveLocked(m.ID(), room)
	}
	delete(r.memberRooms, m.ID())
}

func (r *Registry) leaveLocked(id, room string) {
	if members := r.rooms[room]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}

	if joined := r.memberRooms[id]; joined != nil {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.memberRooms, id)
		}
	}
}

// Broadcast sends payload to every member of room except exclude (which may be nil)
// and returns the number of members that accepted it
func (r *Registry) Broadcast(room string, payload []byte, exclude Member) int {
	r.mu.RLock()
	targets := make([]Member, 0, len(r.rooms[room]))
	for id, m := range r.rooms[room] {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if err := m.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Rooms returns the rooms m is joined to, sorted
func (r *Registry) Rooms(m Member) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.memberRooms[m.ID()]))
	for room := range r.memberRooms[m.ID()] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Size returns the number of members joined to room
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
