package chat

import (
	"context"
	"fmt"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
)

// MarkRead records userID as reader of messageIDs in chatID and returns the ids that
// were newly marked. Ids from other chats and ids already read are ignored; when nothing
// is left no write happens and no event is sent.
func (s *Service) MarkRead(ctx context.Context, chatID, userID string, role domain.Role, messageIDs []string) ([]string, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat id is required: %w", domain.ErrInvalidPayload)
	}
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("message ids are required: %w", domain.ErrInvalidPayload)
	}

	chat, err := s.AuthorizeAccess(ctx, chatID, userID, role)
	if err != nil {
		return nil, err
	}
	return s.markRead(ctx, chat.ID, userID, role, messageIDs)
}

func (s *Service) markRead(ctx context.Context, chatID, userID string, role domain.Role, messageIDs []string) ([]string, error) {
	candidates := dedupe(messageIDs)
	if len(candidates) == 0 {
		return []string{}, nil
	}

	unread, err := s.store.UnreadMessageIDs(ctx, chatID, userID, candidates)
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		return []string{}, nil
	}

	marked, err := s.store.MarkMessagesRead(ctx, userID, unread, s.now())
	if err != nil {
		return nil, err
	}
	if len(marked) == 0 {
		return []string{}, nil
	}

	s.notify(ctx, events.ChatRoom(chatID), events.EventMessagesRead, MessagesReadEvent{
		ChatID:     chatID,
		UserID:     userID,
		UserRole:   role,
		MessageIDs: marked,
	})
	return marked, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
