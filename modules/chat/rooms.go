package chat

import (
	"sort"
	"sync"
)

// RoomTracker records which users currently have a chat open. Membership belongs to the
// user, not to the socket they joined from.
type RoomTracker struct {
	mu        sync.RWMutex
	roomUsers map[string]map[string]struct{} // chatID -> userIDs
	userRooms map[string]map[string]struct{} // userID -> chatIDs
}

// NewRoomTracker creates an empty tracker.
func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		roomUsers: make(map[string]map[string]struct{}),
		userRooms: make(map[string]map[string]struct{}),
	}
}

// Join adds userID to chatID. It reports whether the user was not already a member.
func (t *RoomTracker) Join(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.roomUsers[chatID]
	if !ok {
		users = make(map[string]struct{})
		t.roomUsers[chatID] = users
	}
	if _, member := users[userID]; member {
		return false
	}
	users[userID] = struct{}{}

	rooms, ok := t.userRooms[userID]
	if !ok {
		rooms = make(map[string]struct{})
		t.userRooms[userID] = rooms
	}
	rooms[chatID] = struct{}{}
	return true
}

// Leave removes userID from chatID. It reports whether the user was a member.
func (t *RoomTracker) Leave(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(chatID, userID)
}

func (t *RoomTracker) leaveLocked(chatID, userID string) bool {
	users, ok := t.roomUsers[chatID]
	if !ok {
		return false
	}
	if _, member := users[userID]; !member {
		return false
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(t.roomUsers, chatID)
	}
	if rooms, ok := t.userRooms[userID]; ok {
		delete(rooms, chatID)
		if len(rooms) == 0 {
			delete(t.userRooms, userID)
		}
	}
	return true
}

// ActiveMembers returns the sorted user ids joined to chatID. Unknown rooms yield an
// empty, non-nil slice.
func (t *RoomTracker) ActiveMembers(chatID string) []string {
	t.mu.RLock()
	members := make([]string, 0, len(t.roomUsers[chatID]))
	for userID := range t.roomUsers[chatID] {
		members = append(members, userID)
	}
	t.mu.RUnlock()

	sort.Strings(members)
	return members
}

// IsMember reports whether userID has chatID open.
func (t *RoomTracker) IsMember(chatID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roomUsers[chatID][userID]
	return ok
}

// DropUser removes userID from every room and returns the sorted ids of those rooms.
func (t *RoomTracker) DropUser(userID string) []string {
	t.mu.Lock()
	chats := make([]string, 0, len(t.userRooms[userID]))
	for chatID := range t.userRooms[userID] {
		chats = append(chats, chatID)
	}
	for _, chatID := range chats {
		t.leaveLocked(chatID, userID)
	}
	t.mu.Unlock()

	sort.Strings(chats)
	return chats
}

// RoomCount returns the number of chats with at least one member.
func (t *RoomTracker) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roomUsers)
}
