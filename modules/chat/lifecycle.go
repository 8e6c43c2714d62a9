package chat

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/google/uuid"
)

// Create opens a new PENDING chat owned by clientID. A non-blank initialText becomes the
// first message of the chat and is returned alongside it.
func (s *Service) Create(ctx context.Context, clientID string, initialText *string) (*domain.Chat, *domain.Message, error) {
	if clientID == "" {
		return nil, nil, fmt.Errorf("client id is required: %w", domain.ErrInvalidPayload)
	}
	text := trimmed(initialText)
	if text != nil {
		if err := ValidateText(*text); err != nil {
			return nil, nil, err
		}
	}

	now := s.now()
	chat := &domain.Chat{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, nil, err
	}
	s.logger.Info("Chat created", "chat_id", chat.ID, "client_id", clientID)

	if text == nil {
		return chat, nil, nil
	}

	msg, err := s.Send(ctx, chat.ID, clientID, domain.RoleClient, SendInput{Text: text})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send initial message: %w", err)
	}
	chat.UpdatedAt = msg.CreatedAt
	return chat, msg, nil
}

// GetChat returns the chat if identity may access it.
func (s *Service) GetChat(ctx context.Context, chatID string, identity domain.Identity) (*domain.Chat, error) {
	return s.AuthorizeAccess(ctx, chatID, identity.UserID, identity.Role)
}

// ListChats returns the chats visible to identity. Clients only see their own chats;
// admins see all chats matching status, or only theirs when mine is set.
func (s *Service) ListChats(ctx context.Context, identity domain.Identity, status domain.Status, mine bool, limit int) ([]*domain.Chat, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrInvalidPayload)
	}
	filter := ChatFilter{Status: status, Limit: limit}
	switch {
	case !identity.IsAdmin():
		filter.ClientID = identity.UserID
	case mine:
		filter.AdminID = identity.UserID
	}
	return s.store.ListChats(ctx, filter)
}

// AuthorizeAccess grants access to the chat owner, the assigned admin and any admin.
func (s *Service) AuthorizeAccess(ctx context.Context, chatID, userID string, role domain.Role) (*domain.Chat, error) {
	if err := ValidateID("chat", chatID); err != nil {
		return nil, err
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsParticipant(userID) || role == domain.RoleAdmin {
		return chat, nil
	}
	return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrForbidden)
}

// AssignAdmin makes adminID the admin of a PENDING chat. Concurrent attempts are
// resolved by the store's conditional update: exactly one wins, the others get
// ErrAlreadyAssigned.
func (s *Service) AssignAdmin(ctx context.Context, chatID, adminID string) (*domain.Chat, error) {
	if err := ValidateID("chat", chatID); err != nil {
		return nil, err
	}
	if adminID == "" {
		return nil, fmt.Errorf("admin id is required: %w", domain.ErrInvalidPayload)
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsAssigned() {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrAlreadyAssigned)
	}
	if chat.Status == domain.StatusClosed {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrClosedChat)
	}

	profile, err := s.lookupProfile(ctx, adminID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", adminID, domain.ErrNotAnAdmin)
		}
		return nil, err
	}
	if profile.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("user %s: %w", adminID, domain.ErrNotAnAdmin)
	}

	return s.assign(ctx, chat, adminID, domain.StatusActive, profile)
}

// AutoAssignOnFirstAdminMessage assigns adminID to an unassigned chat it is messaging.
// The sender's admin role comes from its verified credential, so the directory is only
// consulted for the profile attached to the event.
func (s *Service) AutoAssignOnFirstAdminMessage(ctx context.Context, chatID, adminID string) (*domain.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsAssigned() {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrAlreadyAssigned)
	}

	profile, err := s.lookupProfile(ctx, adminID)
	if err != nil {
		s.logger.Warn("Admin profile unavailable", "admin_id", adminID, "error", err)
		profile = nil
	}
	return s.assign(ctx, chat, adminID, domain.StatusActive, profile)
}

// UpdateStatus changes the status of a chat on behalf of an admin. Closed chats stay
// closed. Moving a PENDING chat forward makes the requestor its admin.
func (s *Service) UpdateStatus(ctx context.Context, chatID, requestorID string, requestorRole domain.Role, newStatus domain.Status) (*domain.Chat, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", newStatus, domain.ErrInvalidPayload)
	}
	if err := ValidateID("chat", chatID); err != nil {
		return nil, err
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	assigned := chat.AdminID != nil && *chat.AdminID == requestorID
	if requestorRole != domain.RoleAdmin && !assigned {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrForbidden)
	}

	if chat.Status == domain.StatusClosed {
		if newStatus != domain.StatusClosed {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrCannotReopen)
		}
		return chat, nil
	}
	if chat.Status == newStatus {
		return chat, nil
	}

	switch {
	case newStatus == domain.StatusPending:
		return nil, fmt.Errorf("assigned chat cannot return to pending: %w", domain.ErrInvalidState)

	case chat.Status == domain.StatusPending:
		profile, err := s.lookupProfile(ctx, requestorID)
		if err != nil {
			profile = nil
		}
		chat, err = s.assign(ctx, chat, requestorID, newStatus, profile)
		if err != nil {
			return nil, err
		}

	default:
		now := s.now()
		ok, err := s.store.UpdateStatus(ctx, chat.ID, chat.Status, newStatus, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.resolveStatusConflict(ctx, chat.ID, newStatus)
		}
		chat.Status = newStatus
		chat.UpdatedAt = now
	}

	s.logger.Info("Chat status changed", "chat_id", chat.ID, "status", chat.Status, "by", requestorID)
	s.notifyStatus(ctx, chat, requestorID)
	return chat, nil
}

// resolveStatusConflict handles a lost conditional status update. Another writer
// reaching the same status counts as success.
func (s *Service) resolveStatusConflict(ctx context.Context, chatID string, want domain.Status) (*domain.Chat, error) {
	current, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if current.Status == want {
		return current, nil
	}
	if current.Status == domain.StatusClosed {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrCannotReopen)
	}
	return nil, fmt.Errorf("chat %s changed concurrently: %w", chatID, domain.ErrInvalidState)
}

// assign runs the first-writer-wins update and announces the new admin.
func (s *Service) assign(ctx context.Context, chat *domain.Chat, adminID string, to domain.Status, profile *domain.UserProfile) (*domain.Chat, error) {
	now := s.now()
	ok, err := s.store.AssignAdmin(ctx, chat.ID, adminID, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.GetChat(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
		if !current.IsAssigned() && current.Status == domain.StatusClosed {
			return nil, fmt.Errorf("chat %s: %w", chat.ID, domain.ErrClosedChat)
		}
		return nil, fmt.Errorf("chat %s: %w", chat.ID, domain.ErrAlreadyAssigned)
	}

	updated := *chat
	updated.AdminID = &adminID
	updated.Status = to
	updated.UpdatedAt = now

	s.logger.Info("Admin assigned", "chat_id", chat.ID, "admin_id", adminID)
	s.notify(ctx, events.ChatRoom(chat.ID), events.EventAdminAssigned, AdminAssignedEvent{
		ChatID:       chat.ID,
		AdminID:      adminID,
		AdminProfile: profile,
	})
	s.notify(ctx, events.AdminRoom, events.EventChatAssigned, ChatAssignedEvent{
		ChatID:  chat.ID,
		AdminID: adminID,
	})
	return &updated, nil
}

func (s *Service) notifyStatus(ctx context.Context, chat *domain.Chat, changedBy string) {
	event := ChatStatusChangedEvent{
		ChatID:    chat.ID,
		Status:    chat.Status,
		ChangedBy: changedBy,
	}
	s.notify(ctx, events.ChatRoom(chat.ID), events.EventChatStatusChanged, event)
	s.notify(ctx, events.AdminRoom, events.EventChatStatusChanged, event)
}

func (s *Service) lookupProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if s.directory == nil {
		return nil, fmt.Errorf("user directory unavailable: %w", domain.ErrNotFound)
	}
	return s.directory.GetProfile(ctx, userID)
}
