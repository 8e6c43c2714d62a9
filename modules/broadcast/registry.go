package broadcast

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
)

// Verifier resolves a bearer credential to a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (chat.Identity, error)
}

// MembershipCleaner forgets room membership of users that went fully offline.
type MembershipCleaner interface {
	DropUser(userID string)
}

// Registry tracks live connections per user. Admin connections are subscribed to the
// admin group of the hub on admission.
type Registry struct {
	verifier   Verifier
	hub        *Hub
	cleaner    MembershipCleaner
	sendBuffer int

	connsMu sync.RWMutex
	conns   map[string]*Conn

	usersMu sync.RWMutex
	users   map[string]map[string]struct{} // userID -> connIDs
}

// NewRegistry creates a Registry. cleaner may be nil.
func NewRegistry(verifier Verifier, hub *Hub, cleaner MembershipCleaner, sendBuffer int) *Registry {
	return &Registry{
		verifier:   verifier,
		hub:        hub,
		cleaner:    cleaner,
		sendBuffer: sendBuffer,
		conns:      make(map[string]*Conn),
		users:      make(map[string]map[string]struct{}),
	}
}

// Admit verifies credential and records the connection. Any error wraps
// chat.ErrUnauthenticated except a duplicate connection id; the caller must close the
// socket on error.
func (r *Registry) Admit(ctx context.Context, connID, credential string, transport Transport) (*Conn, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("missing credential: %w", chat.ErrUnauthenticated)
	}

	identity, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrUnauthenticated, err)
	}
	if identity.UserID == "" || !identity.Role.Valid() {
		return nil, fmt.Errorf("incomplete identity: %w", chat.ErrUnauthenticated)
	}

	conn := newConn(connID, identity, transport, r.sendBuffer)

	r.connsMu.Lock()
	if _, exists := r.conns[connID]; exists {
		r.connsMu.Unlock()
		return nil, fmt.Errorf("connection %s already admitted", connID)
	}
	r.conns[connID] = conn
	r.connsMu.Unlock()

	r.usersMu.Lock()
	set, ok := r.users[identity.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.users[identity.UserID] = set
	}
	set[connID] = struct{}{}
	r.usersMu.Unlock()

	if identity.IsAdmin() {
		r.hub.Subscribe(conn, events.AdminRoom)
	}

	go conn.writePump()

	log.Printf("[broadcast] Admitted connection %s for user %s (%s)", connID, identity.UserID, identity.Role)
	return conn, nil
}

// Evict removes the connection. When it was the user's last connection the user is
// dropped from every chat room they had joined.
func (r *Registry) Evict(connID string) {
	r.connsMu.Lock()
	conn, ok := r.conns[connID]
	delete(r.conns, connID)
	r.connsMu.Unlock()
	if !ok {
		return
	}

	r.hub.UnsubscribeAll(conn)
	conn.Close()

	offline := false
	r.usersMu.Lock()
	if set, ok := r.users[conn.UserID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, conn.UserID)
			offline = true
		}
	}
	r.usersMu.Unlock()

	if offline && r.cleaner != nil {
		r.cleaner.DropUser(conn.UserID)
	}
	log.Printf("[broadcast] Evicted connection %s for user %s (offline=%v)", connID, conn.UserID, offline)
}

// Get returns the connection with id connID.
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// UserConnections returns the live connections of userID.
func (r *Registry) UserConnections(userID string) []*Conn {
	r.usersMu.RLock()
	ids := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		ids = append(ids, id)
	}
	r.usersMu.RUnlock()

	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	conns := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.conns[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	return len(r.users[userID]) > 0
}

// IsAdmin reports whether userID is connected with the admin role.
func (r *Registry) IsAdmin(userID string) bool {
	for _, conn := range r.UserConnections(userID) {
		if conn.Role == chat.RoleAdmin {
			return true
		}
	}
	return false
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	return len(r.conns)
}

// UserCount returns the number of users with at least one live connection.
func (r *Registry) UserCount() int {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	return len(r.users)
}

// CloseAll evicts every connection.
func (r *Registry) CloseAll() {
	r.connsMu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.connsMu.RUnlock()

	for _, id := range ids {
		r.Evict(id)
	}
}
