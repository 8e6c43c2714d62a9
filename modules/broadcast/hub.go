package broadcast

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
)

// Hub fans events out to the connections subscribed to a room. Rooms are either a
// chat room ("chat:<id>") or the admin group.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn   // roomKey -> connID -> Conn
	subs  map[string]map[string]struct{} // connID -> set of roomKeys

	emitted   atomic.Uint64
	delivered atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Conn),
		subs:  make(map[string]map[string]struct{}),
	}
}

// Subscribe adds conn to room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(conn *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	rooms, ok := h.subs[conn.ID]
	if !ok {
		rooms = make(map[string]struct{})
		h.subs[conn.ID] = rooms
	}
	rooms[room] = struct{}{}
}

// Unsubscribe removes conn from room. Empty rooms are deleted.
func (h *Hub) Unsubscribe(conn *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(conn.ID, room)
}

// UnsubscribeAll removes conn from every room it was subscribed to.
func (h *Hub) UnsubscribeAll(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.subs[conn.ID] {
		h.unsubscribeLocked(conn.ID, room)
	}
	delete(h.subs, conn.ID)
}

func (h *Hub) unsubscribeLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.subs[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.subs, connID)
		}
	}
}

// IsSubscribed reports whether conn is subscribed to room.
func (h *Hub) IsSubscribed(conn *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][conn.ID]
	return ok
}

// Emit delivers payload to every connection in room and returns how many connections
// accepted the frame. An empty room is not an error.
func (h *Hub) Emit(room, event string, payload any) int {
	return h.EmitExcept(room, event, payload, "")
}

// EmitExcept is Emit skipping the connection with id exceptConnID.
func (h *Hub) EmitExcept(room, event string, payload any, exceptConnID string) int {
	data, err := EncodeEvent(event, payload)
	if err != nil {
		log.Printf("[broadcast] Failed to encode %s for %s: %v", event, room, err)
		return 0
	}
	return h.deliver(room, data, exceptConnID)
}

// EmitRaw delivers an already encoded JSON payload.
func (h *Hub) EmitRaw(room, event string, payload json.RawMessage) int {
	return h.EmitExcept(room, event, payload, "")
}

func (h *Hub) deliver(room string, data []byte, exceptConnID string) int {
	h.emitted.Add(1)

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for id, conn := range h.rooms[room] {
		if id != exceptConnID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, conn := range targets {
		if conn.Deliver(data) {
			sent++
		}
	}
	h.delivered.Add(uint64(sent))
	return sent
}

// RoomSize returns the number of connections subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Stats returns the number of emitted events and delivered frames since start.
func (h *Hub) Stats() (emitted, delivered uint64) {
	return h.emitted.Load(), h.delivered.Load()
}
