package chat

import (
	"context"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/go-monolith/mono/pkg/types"
)

// Service is the support chat core: lifecycle, message pipeline, read receipts and room
// presence. Every operation that touches a chat goes through AuthorizeAccess.
type Service struct {
	store     Store
	rooms     *RoomTracker
	notifier  Notifier
	files     FileResolver
	directory Directory
	logger    types.Logger
	now       func() time.Time
}

// NewService creates a chat service. files and directory may be nil, in which case file
// attachments are rejected as not found and admin profiles are omitted.
func NewService(store Store, rooms *RoomTracker, notifier Notifier, files FileResolver, directory Directory, logger types.Logger) *Service {
	if rooms == nil {
		rooms = NewRoomTracker()
	}
	return &Service{
		store:     store,
		rooms:     rooms,
		notifier:  notifier,
		files:     files,
		directory: directory,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Rooms returns the membership tracker used by the service.
func (s *Service) Rooms() *RoomTracker {
	return s.rooms
}

// JoinChat authorizes identity for chatID, records the membership and returns the first
// requested page of history, marking it read.
func (s *Service) JoinChat(ctx context.Context, chatID string, identity domain.Identity, page, pageSize int) (*domain.MessagePage, error) {
	chat, err := s.AuthorizeAccess(ctx, chatID, identity.UserID, identity.Role)
	if err != nil {
		return nil, err
	}

	if s.rooms.Join(chat.ID, identity.UserID) {
		s.notifyParticipant(ctx, chat.ID, identity.UserID, ActionJoined)
	}
	return s.listAuthorized(ctx, chat, identity.UserID, identity.Role, page, pageSize)
}

// LeaveChat forgets that userID has chatID open.
func (s *Service) LeaveChat(ctx context.Context, chatID, userID string) {
	if s.rooms.Leave(chatID, userID) {
		s.notifyParticipant(ctx, chatID, userID, ActionLeft)
	}
}

// DropUser removes a user that went fully offline from every chat they had open.
func (s *Service) DropUser(userID string) {
	ctx := context.Background()
	for _, chatID := range s.rooms.DropUser(userID) {
		s.notifyParticipant(ctx, chatID, userID, ActionDisconnected)
	}
}

// ActiveMembers returns the users that currently have chatID open.
func (s *Service) ActiveMembers(chatID string) []string {
	return s.rooms.ActiveMembers(chatID)
}

func (s *Service) notifyParticipant(ctx context.Context, chatID, userID, action string) {
	s.notify(ctx, events.ChatRoom(chatID), events.EventParticipantUpdate, ParticipantUpdateEvent{
		ChatID:    chatID,
		UserID:    userID,
		Action:    action,
		Timestamp: s.now(),
	})
}

func (s *Service) notify(ctx context.Context, room, event string, payload any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, room, event, payload)
}
