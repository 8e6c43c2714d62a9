package chat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/google/uuid"
)

// Validation and paging constants
const (
	MaxMessageLength = 5000
	DefaultPageSize  = 50
	MaxPageSize      = 100
)

// Participant actions carried by participantUpdate events.
const (
	ActionJoined       = "joined"
	ActionLeft         = "left"
	ActionDisconnected = "disconnected"
)

// SendInput is the user-supplied part of a new message.
type SendInput struct {
	Text      *string `json:"text,omitempty"`
	FileID    *string `json:"fileId,omitempty"`
	ReplyToID *string `json:"replyToId,omitempty"`
}

// normalize trims optional fields and turns blank ones into nil.
func (in SendInput) normalize() SendInput {
	return SendInput{
		Text:      trimmed(in.Text),
		FileID:    trimmed(in.FileID),
		ReplyToID: trimmed(in.ReplyToID),
	}
}

// validate enforces the text/file invariant and text limits.
func (in SendInput) validate() error {
	if in.Text == nil && in.FileID == nil {
		return fmt.Errorf("message needs text or a file: %w", domain.ErrInvalidPayload)
	}
	if in.Text != nil {
		if err := ValidateText(*in.Text); err != nil {
			return err
		}
	}
	return nil
}

// ValidateText checks message text length and encoding.
func ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid characters: %w", domain.ErrInvalidPayload)
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return fmt.Errorf("message exceeds %d characters: %w", MaxMessageLength, domain.ErrInvalidPayload)
	}
	return nil
}

// ValidateID checks that id is a well-formed entity identifier.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id is required: %w", kind, domain.ErrInvalidPayload)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid %s id %q: %w", kind, id, domain.ErrInvalidPayload)
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// NewMessageEvent is delivered to the chat room for every new message.
type NewMessageEvent struct {
	ChatID  string          `json:"chatId"`
	Message *domain.Message `json:"message"`
}

// NewClientMessageEvent tells admins about client messages in unassigned chats.
type NewClientMessageEvent struct {
	ChatID   string          `json:"chatId"`
	ClientID string          `json:"clientId"`
	Message  *domain.Message `json:"message"`
}

// ChatStatusChangedEvent is delivered when a chat changes status.
type ChatStatusChangedEvent struct {
	ChatID    string        `json:"chatId"`
	Status    domain.Status `json:"status"`
	ChangedBy string        `json:"changedBy"`
}

// AdminAssignedEvent is delivered to the chat room when an admin takes the chat.
type AdminAssignedEvent struct {
	ChatID       string              `json:"chatId"`
	AdminID      string              `json:"adminId"`
	AdminProfile *domain.UserProfile `json:"adminProfile"`
}

// ChatAssignedEvent tells admins that a chat is no longer waiting.
type ChatAssignedEvent struct {
	ChatID  string `json:"chatId"`
	AdminID string `json:"adminId"`
}

// MessagesReadEvent is delivered when a user read messages of the chat.
type MessagesReadEvent struct {
	ChatID     string      `json:"chatId"`
	UserID     string      `json:"userId"`
	UserRole   domain.Role `json:"userRole"`
	MessageIDs []string    `json:"messageIds"`
}

// ParticipantUpdateEvent is delivered when a user opens or leaves a chat.
type ParticipantUpdateEvent struct {
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// GetChatRequest asks whether a user may see a chat.
type GetChatRequest struct {
	ChatID string      `json:"chatId"`
	UserID string      `json:"userId"`
	Role   domain.Role `json:"role"`
}

// GetChatResponse answers a GetChatRequest. Found is false when the chat does not exist
// or the user may not access it.
type GetChatResponse struct {
	Found         bool         `json:"found"`
	Chat          *domain.Chat `json:"chat,omitempty"`
	ActiveMembers []string     `json:"activeMembers,omitempty"`
}
