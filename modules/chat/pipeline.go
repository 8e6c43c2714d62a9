package chat

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/google/uuid"
)

// Send validates, persists and fans out a new message.
//
// An admin messaging an unassigned chat becomes its admin first. If that assignment
// fails the failure is logged and the message is then rejected by the status check,
// since only the owning client may write into a PENDING chat. Closed chats accept no
// messages.
func (s *Service) Send(ctx context.Context, chatID, senderID string, senderRole domain.Role, in SendInput) (*domain.Message, error) {
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	chat, err := s.AuthorizeAccess(ctx, chatID, senderID, senderRole)
	if err != nil {
		return nil, err
	}

	if chat.Status == domain.StatusPending && senderRole == domain.RoleAdmin {
		assigned, err := s.AutoAssignOnFirstAdminMessage(ctx, chat.ID, senderID)
		if err != nil {
			s.logger.Warn("Auto-assignment failed", "chat_id", chat.ID, "admin_id", senderID, "error", err)
			if chat, err = s.store.GetChat(ctx, chat.ID); err != nil {
				return nil, err
			}
		} else {
			chat = assigned
		}
	}

	if err := checkWritable(chat, senderRole); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:         uuid.New().String(),
		ChatID:     chat.ID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Text:       in.Text,
		FileID:     in.FileID,
		ReplyToID:  in.ReplyToID,
		CreatedAt:  s.now(),
	}

	if in.FileID != nil {
		url, err := s.resolveFile(ctx, *in.FileID)
		if err != nil {
			return nil, err
		}
		msg.FileURL = &url
	}

	if in.ReplyToID != nil {
		target, err := s.store.GetMessage(ctx, *in.ReplyToID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("reply target %s: %w", *in.ReplyToID, domain.ErrNotFound)
			}
			return nil, err
		}
		if target.ChatID != chat.ID {
			return nil, fmt.Errorf("reply target %s: %w", *in.ReplyToID, domain.ErrNotFound)
		}
		msg.ReplyTo = replyPreview(target)
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if len(msg.ReadBy) == 0 {
		msg.ReadBy = []string{senderID}
	}

	if err := s.store.TouchChat(ctx, chat.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("Failed to touch chat", "chat_id", chat.ID, "error", err)
	}

	s.notify(ctx, events.ChatRoom(chat.ID), events.EventNewMessage, NewMessageEvent{
		ChatID:  chat.ID,
		Message: msg,
	})
	if !chat.IsAssigned() && senderRole == domain.RoleClient {
		s.notify(ctx, events.AdminRoom, events.EventNewClientMessage, NewClientMessageEvent{
			ChatID:   chat.ID,
			ClientID: chat.ClientID,
			Message:  msg,
		})
	}

	s.logger.Debug("Message sent", "chat_id", chat.ID, "message_id", msg.ID, "sender_id", senderID)
	return msg, nil
}

// List returns one page of the chat history, oldest first. Returned messages the
// requestor had not read yet are marked read by them.
func (s *Service) List(ctx context.Context, chatID, requestorID string, requestorRole domain.Role, page, pageSize int) (*domain.MessagePage, error) {
	chat, err := s.AuthorizeAccess(ctx, chatID, requestorID, requestorRole)
	if err != nil {
		return nil, err
	}
	return s.listAuthorized(ctx, chat, requestorID, requestorRole, page, pageSize)
}

func (s *Service) listAuthorized(ctx context.Context, chat *domain.Chat, requestorID string, requestorRole domain.Role, page, pageSize int) (*domain.MessagePage, error) {
	page, pageSize = normalizePage(page, pageSize)

	messages, total, err := s.store.ListMessages(ctx, chat.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	var unread []string
	for _, msg := range messages {
		if msg.SenderID != requestorID && !msg.IsReadBy(requestorID) {
			unread = append(unread, msg.ID)
		}
	}

	if len(unread) > 0 {
		marked, err := s.markRead(ctx, chat.ID, requestorID, requestorRole, unread)
		if err != nil {
			s.logger.Warn("Failed to mark listed messages read", "chat_id", chat.ID, "user_id", requestorID, "error", err)
		}
		markedSet := make(map[string]struct{}, len(marked))
		for _, id := range marked {
			markedSet[id] = struct{}{}
		}
		for _, msg := range messages {
			if _, ok := markedSet[msg.ID]; ok {
				msg.ReadBy = append(msg.ReadBy, requestorID)
			}
		}
	}

	if messages == nil {
		messages = []*domain.Message{}
	}
	return &domain.MessagePage{
		Items:    messages,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// checkWritable is the status gate of the pipeline.
func checkWritable(chat *domain.Chat, senderRole domain.Role) error {
	switch chat.Status {
	case domain.StatusActive:
		return nil
	case domain.StatusPending:
		if senderRole == domain.RoleClient {
			return nil
		}
		return fmt.Errorf("chat %s is not assigned: %w", chat.ID, domain.ErrInvalidState)
	default:
		return fmt.Errorf("chat %s is %s: %w", chat.ID, chat.Status, domain.ErrInvalidState)
	}
}

func (s *Service) resolveFile(ctx context.Context, fileID string) (string, error) {
	if s.files == nil {
		return "", fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	url, err := s.files.Resolve(ctx, fileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("failed to resolve file: %w", err)
	}
	return url, nil
}

func replyPreview(target *domain.Message) *domain.ReplyPreview {
	return &domain.ReplyPreview{
		ID:       target.ID,
		SenderID: target.SenderID,
		Text:     target.Text,
		HasFile:  target.FileID != nil,
	}
}
