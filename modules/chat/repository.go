package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the GORM implementation of Store.
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new chat repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the chat tables.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&domain.Chat{}, &domain.Message{}, &domain.MessageRead{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateChat saves a new chat.
func (r *Repository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by its primary key.
func (r *Repository) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	var chat domain.Chat
	if err := r.db.WithContext(ctx).First(&chat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns chats matching filter, most recently updated first.
func (r *Repository) ListChats(ctx context.Context, filter ChatFilter) ([]*domain.Chat, error) {
	query := r.db.WithContext(ctx).Model(&domain.Chat{})
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.AdminID != "" {
		query = query.Where("admin_id = ?", filter.AdminID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var chats []*domain.Chat
	if err := query.Order("updated_at DESC").Order("id").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// AssignAdmin performs the conditional "set admin only if still null" update.
func (r *Repository) AssignAdmin(ctx context.Context, chatID, adminID string, to domain.Status, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ? AND admin_id IS NULL AND status = ?", chatID, domain.StatusPending).
		Updates(map[string]any{
			"admin_id":   adminID,
			"status":     to,
			"updated_at": at,
		})
	if err := result.Error; err != nil {
		return false, fmt.Errorf("failed to assign admin: %w", err)
	}
	return result.RowsAffected == 1, nil
}

// UpdateStatus moves a chat from one status to another.
func (r *Repository) UpdateStatus(ctx context.Context, chatID string, from, to domain.Status, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ? AND status = ?", chatID, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": at,
		})
	if err := result.Error; err != nil {
		return false, fmt.Errorf("failed to update chat status: %w", err)
	}
	return result.RowsAffected == 1, nil
}

// TouchChat bumps the chat's updated_at.
func (r *Repository) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", at)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return nil
}

// CreateMessage saves msg and the sender's read receipt in one transaction.
func (r *Repository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.MessageRead{
			MessageID: msg.ID,
			UserID:    msg.SenderID,
			ReadAt:    msg.CreatedAt,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	msg.ReadBy = []string{msg.SenderID}
	return nil
}

// GetMessage retrieves a message with its read-by set.
func (r *Repository) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	if err := r.loadReadBy(ctx, []*domain.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns one page of a chat's messages, oldest first, plus the total count.
func (r *Repository) ListMessages(ctx context.Context, chatID string, offset, limit int) ([]*domain.Message, int64, error) {
	db := r.db.WithContext(ctx)

	var total int64
	if err := db.Model(&domain.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var messages []*domain.Message
	if err := db.Where("chat_id = ?", chatID).
		Order("created_at ASC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}

	if err := r.loadReadBy(ctx, messages); err != nil {
		return nil, 0, err
	}
	if err := r.loadReplyPreviews(ctx, messages); err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// UnreadMessageIDs filters ids down to messages of chatID not yet read by userID.
func (r *Repository) UnreadMessageIDs(ctx context.Context, chatID, userID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var unread []string
	err := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("chat_id = ? AND id IN ?", chatID, ids).
		Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
		Order("created_at ASC").Order("id ASC").
		Pluck("id", &unread).Error
	if err != nil {
		return nil, fmt.Errorf("failed to filter unread messages: %w", err)
	}
	return unread, nil
}

// MarkMessagesRead inserts read receipts, skipping ones that already exist. Only ids
// whose receipt was inserted by this call are returned.
func (r *Repository) MarkMessagesRead(ctx context.Context, userID string, ids []string, at time.Time) ([]string, error) {
	var marked []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked = marked[:0]
		for _, id := range ids {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.MessageRead{
				MessageID: id,
				UserID:    userID,
				ReadAt:    at,
			})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				marked = append(marked, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return marked, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) loadReadBy(ctx context.Context, messages []*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}

	var reads []domain.MessageRead
	if err := r.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("read_at ASC").Order("user_id ASC").
		Find(&reads).Error; err != nil {
		return fmt.Errorf("failed to load read receipts: %w", err)
	}

	byMessage := make(map[string][]string, len(messages))
	for _, read := range reads {
		byMessage[read.MessageID] = append(byMessage[read.MessageID], read.UserID)
	}
	for _, msg := range messages {
		msg.ReadBy = byMessage[msg.ID]
		if msg.ReadBy == nil {
			msg.ReadBy = []string{}
		}
	}
	return nil
}

func (r *Repository) loadReplyPreviews(ctx context.Context, messages []*domain.Message) error {
	var replyIDs []string
	for _, msg := range messages {
		if msg.ReplyToID != nil {
			replyIDs = append(replyIDs, *msg.ReplyToID)
		}
	}
	if len(replyIDs) == 0 {
		return nil
	}

	var targets []domain.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", replyIDs).Find(&targets).Error; err != nil {
		return fmt.Errorf("failed to load reply targets: %w", err)
	}

	byID := make(map[string]*domain.Message, len(targets))
	for i := range targets {
		byID[targets[i].ID] = &targets[i]
	}
	for _, msg := range messages {
		if msg.ReplyToID == nil {
			continue
		}
		if target, ok := byID[*msg.ReplyToID]; ok {
			msg.ReplyTo = replyPreview(target)
		}
	}
	return nil
}
