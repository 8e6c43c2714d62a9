package api

import (
	"encoding/json"

	domain "github.com/example/support-chat/domain/chat"
)

// CreateChatRequest is the body of POST /api/v1/chats.
type CreateChatRequest struct {
	InitialText *string `json:"initialText"`
}

// CreateChatResponse is returned when a chat is opened.
type CreateChatResponse struct {
	Chat    *domain.Chat    `json:"chat"`
	Message *domain.Message `json:"message,omitempty"`
}

// ChatListResponse is the API response for listing chats.
type ChatListResponse struct {
	Chats []*domain.Chat `json:"chats"`
	Total int            `json:"total"`
}

// UpdateStatusRequest is the body of PATCH /api/v1/chats/:id/status.
type UpdateStatusRequest struct {
	Status domain.Status `json:"status"`
}

// AssignRequest is the body of POST /api/v1/chats/:id/assign. An empty AdminID assigns
// the caller.
type AssignRequest struct {
	AdminID string `json:"adminId"`
}

// ActiveUsersResponse lists the users that have a chat open.
type ActiveUsersResponse struct {
	ChatID  string   `json:"chatId"`
	UserIDs []string `json:"userIds"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Inbound socket requests.

// InboundFrame is a client request on the socket. ID is echoed in the ack.
type InboundFrame struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinChatData is the payload of joinChat.
type JoinChatData struct {
	ChatID   string `json:"chatId"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// ChatRef is the payload of leaveChat and getActiveUsers.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// SendMessageData is the payload of sendMessage.
type SendMessageData struct {
	ChatID    string  `json:"chatId"`
	Text      *string `json:"text"`
	FileID    *string `json:"fileId"`
	ReplyToID *string `json:"replyToId"`
}

// TypingData is the payload of typing.
type TypingData struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// ReadMessagesData is the payload of readMessages.
type ReadMessagesData struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// Socket acknowledgements and server events.

// ConnectedEvent is sent once a connection is admitted.
type ConnectedEvent struct {
	UserID       string      `json:"userId"`
	Role         domain.Role `json:"role"`
	ConnectionID string      `json:"connectionId"`
}

// UserTypingEvent is relayed to the other members of a chat room.
type UserTypingEvent struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// JoinChatAck answers joinChat.
type JoinChatAck struct {
	Success  bool                `json:"success"`
	ChatID   string              `json:"chatId"`
	Messages *domain.MessagePage `json:"messages"`
}

// ChatAck answers leaveChat.
type ChatAck struct {
	Success bool   `json:"success"`
	ChatID  string `json:"chatId"`
}

// SendMessageAck answers sendMessage.
type SendMessageAck struct {
	Success bool            `json:"success"`
	Message *domain.Message `json:"message"`
}

// ReadMessagesAck answers readMessages.
type ReadMessagesAck struct {
	Success    bool     `json:"success"`
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// ActiveUsersAck answers getActiveUsers.
type ActiveUsersAck struct {
	Success bool     `json:"success"`
	ChatID  string   `json:"chatId"`
	UserIDs []string `json:"userIds"`
}

// FailureAck answers any request that failed.
type FailureAck struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// ErrorBody carries an error code and a human readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
