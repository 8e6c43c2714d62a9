package events

import (
	"encoding/json"
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// Room keys understood by the broadcast module.
const (
	AdminRoom      = "admins"
	chatRoomPrefix = "chat:"
)

// ChatRoom returns the broadcast room key of a chat.
func ChatRoom(chatID string) string {
	return chatRoomPrefix + chatID
}

// Server events delivered to sockets.
const (
	EventConnected         = "connected"
	EventNewMessage        = "newMessage"
	EventNewClientMessage  = "newClientMessage"
	EventChatStatusChanged = "chatStatusChanged"
	EventAdminAssigned     = "adminAssigned"
	EventChatAssigned      = "chatAssigned"
	EventMessagesRead      = "messagesRead"
	EventParticipantUpdate = "participantUpdate"
	EventUserTyping        = "userTyping"
)

// RoomEvent is emitted by the chat module whenever sockets subscribed to Room must be
// notified. Payload is already shaped for the wire.
type RoomEvent struct {
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// RoomEventV1 is the definition the chat module publishes and the broadcast module consumes.
var RoomEventV1 = helper.EventDefinition[RoomEvent](
	"chat",
	"RoomEvent",
	"v1",
)
