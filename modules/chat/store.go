package chat

import (
	"context"
	"time"

	domain "github.com/example/support-chat/domain/chat"
)

// Store persists chats, messages and read receipts. Lookups of missing records return
// an error wrapping domain.ErrNotFound.
type Store interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, id string) (*domain.Chat, error)
	ListChats(ctx context.Context, filter ChatFilter) ([]*domain.Chat, error)

	// AssignAdmin sets admin and status only while the chat is still PENDING without an
	// admin. It reports false when another writer got there first.
	AssignAdmin(ctx context.Context, chatID, adminID string, to domain.Status, at time.Time) (bool, error)
	// UpdateStatus moves the chat from status from to status to. It reports false when
	// the chat is no longer in status from.
	UpdateStatus(ctx context.Context, chatID string, from, to domain.Status, at time.Time) (bool, error)
	TouchChat(ctx context.Context, chatID string, at time.Time) error

	// CreateMessage stores msg together with the sender's read receipt.
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListMessages(ctx context.Context, chatID string, offset, limit int) ([]*domain.Message, int64, error)

	// UnreadMessageIDs returns the subset of ids that belong to chatID and have not
	// been read by userID, oldest first.
	UnreadMessageIDs(ctx context.Context, chatID, userID string, ids []string) ([]string, error)
	// MarkMessagesRead records userID as reader of ids and returns the ids that were
	// not already recorded.
	MarkMessagesRead(ctx context.Context, userID string, ids []string, at time.Time) ([]string, error)

	Ping(ctx context.Context) error
}

// ChatFilter narrows ListChats. Zero fields are ignored.
type ChatFilter struct {
	ClientID string
	AdminID  string
	Status   domain.Status
	Limit    int
}

// FileResolver maps an uploaded file id to its public URL. Unknown ids return an error
// wrapping domain.ErrNotFound.
type FileResolver interface {
	Resolve(ctx context.Context, fileID string) (string, error)
}

// Directory looks up user profiles. Unknown users return an error wrapping
// domain.ErrNotFound.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}
