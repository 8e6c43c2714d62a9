package chat

import "time"

// Status is the lifecycle state of a support chat.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusClosed  Status = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusClosed:
		return true
	}
	return false
}

// Role is the platform role of an authenticated user.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAdmin
}

// Identity is a verified user identity.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Chat is one support conversation between a client and, once assigned, an admin.
type Chat struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	ClientID  string    `json:"clientId" gorm:"size:64;not null;index"`
	AdminID   *string   `json:"adminId" gorm:"size:64;index"`
	Status    Status    `json:"status" gorm:"size:16;not null;index;default:PENDING"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (Chat) TableName() string {
	return "chats"
}

// IsAssigned reports whether an admin owns the chat.
func (c *Chat) IsAssigned() bool {
	return c.AdminID != nil && *c.AdminID != ""
}

// IsParticipant reports whether userID is the owner or the assigned admin.
func (c *Chat) IsParticipant(userID string) bool {
	if c.ClientID == userID {
		return true
	}
	return c.AdminID != nil && *c.AdminID == userID
}

// Message is one unit of conversation content.
type Message struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	ChatID     string    `json:"chatId" gorm:"size:36;not null;index:idx_messages_chat_created,priority:1"`
	SenderID   string    `json:"senderId" gorm:"size:64;not null"`
	SenderRole Role      `json:"senderRole" gorm:"size:16;not null"`
	Text       *string   `json:"text,omitempty"`
	FileID     *string   `json:"fileId,omitempty" gorm:"size:36"`
	FileURL    *string   `json:"fileUrl,omitempty"`
	ReplyToID  *string   `json:"replyToId,omitempty" gorm:"size:36"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index:idx_messages_chat_created,priority:2"`

	ReadBy  []string      `json:"readBy" gorm:"-"`
	ReplyTo *ReplyPreview `json:"replyTo,omitempty" gorm:"-"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (Message) TableName() string {
	return "messages"
}

// IsReadBy reports whether userID is in the read-by set.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ReplyPreview is the short form of a replied-to message attached to its reply.
type ReplyPreview struct {
	ID       string  `json:"id"`
	SenderID string  `json:"senderId"`
	Text     *string `json:"text,omitempty"`
	HasFile  bool    `json:"hasFile"`
}

// MessageRead records that a user has read a message.
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:64"`
	ReadAt    time.Time `gorm:"not null"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (MessageRead) TableName() string {
	return "message_reads"
}

// UserProfile is the directory view of a platform user.
type UserProfile struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name" gorm:"size:120;not null"`
	Email     string    `json:"email" gorm:"size:255;index"`
	Role      Role      `json:"role" gorm:"size:16;not null;index"`
	AvatarURL string    `json:"avatarUrl,omitempty" gorm:"size:512"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (UserProfile) TableName() string {
	return "profiles"
}

// MessagePage is one page of a chat's history, oldest first.
type MessagePage struct {
	Items    []*Message `json:"items"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}
