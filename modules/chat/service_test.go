package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

type recordedEvent struct {
	Room    string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) Notify(_ context.Context, room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Room: room, Event: event, Payload: payload})
}

func (r *recordingNotifier) named(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakeDirectory map[string]*domain.UserProfile

func (d fakeDirectory) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	if p, ok := d[userID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
}

type fakeFiles map[string]string

func (f fakeFiles) Resolve(_ context.Context, fileID string) (string, error) {
	if url, ok := f[fileID]; ok {
		return url, nil
	}
	return "", fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
}

const (
	clientC = "client-c"
	clientD = "client-d"
	adminA  = "admin-a"
	adminB  = "admin-b"
)

var (
	asClientC = domain.Identity{UserID: clientC, Role: domain.RoleClient}
	asClientD = domain.Identity{UserID: clientD, Role: domain.RoleClient}
	asAdminA  = domain.Identity{UserID: adminA, Role: domain.RoleAdmin}
	asAdminB  = domain.Identity{UserID: adminB, Role: domain.RoleAdmin}
)

type testEnv struct {
	svc      *Service
	repo     *Repository
	notifier *recordingNotifier
	ctx      context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

func newTestEnvWithStore(t *testing.T, wrap func(*Repository) Store) *testEnv {
	t.Helper()
	repo := setupTestDB(t)
	var store Store = repo
	if wrap != nil {
		store = wrap(repo)
	}

	directory := fakeDirectory{
		adminA:  {ID: adminA, Name: "Alice Admin", Role: domain.RoleAdmin},
		adminB:  {ID: adminB, Name: "Bob Admin", Role: domain.RoleAdmin},
		clientC: {ID: clientC, Name: "Carol", Role: domain.RoleClient},
	}
	files := fakeFiles{"5f0c2a8e-1b7d-4e55-9a43-0c8d6f1e2b3a": "/api/v1/files/5f0c2a8e-1b7d-4e55-9a43-0c8d6f1e2b3a"}

	notifier := &recordingNotifier{}
	svc := NewService(store, NewRoomTracker(), notifier, files, directory, &mockLogger{})

	var mu sync.Mutex
	clock := baseTime
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}

	return &testEnv{svc: svc, repo: repo, notifier: notifier, ctx: context.Background()}
}

func strPtr(s string) *string { return &s }

// activeChat creates a chat owned by clientC and assigned to adminA.
func (e *testEnv) activeChat(t *testing.T) *domain.Chat {
	t.Helper()
	chat, _, err := e.svc.Create(e.ctx, clientC, nil)
	require.NoError(t, err)
	chat, err = e.svc.AssignAdmin(e.ctx, chat.ID, adminA)
	require.NoError(t, err)
	e.notifier.reset()
	return chat
}

func (e *testEnv) send(t *testing.T, chatID string, who domain.Identity, text string) *domain.Message {
	t.Helper()
	msg, err := e.svc.Send(e.ctx, chatID, who.UserID, who.Role, SendInput{Text: strPtr(text)})
	require.NoError(t, err)
	return msg
}

func assertInvariant(t *testing.T, chat *domain.Chat) {
	t.Helper()
	pending := chat.Status == domain.StatusPending
	assert.Equal(t, pending, !chat.IsAssigned(), "PENDING must hold exactly when no admin is set (status=%s)", chat.Status)
}

func TestService_CreateWithInitialText(t *testing.T) {
	env := newTestEnv(t)

	chat, msg, err := env.svc.Create(env.ctx, clientC, strPtr("  Hello  "))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, chat.Status)
	assert.Nil(t, chat.AdminID)
	assertInvariant(t, chat)

	require.NotNil(t, msg)
	assert.Equal(t, "Hello", *msg.Text)
	assert.Equal(t, []string{clientC}, msg.ReadBy)

	page, err := env.svc.List(env.ctx, chat.ID, clientC, domain.RoleClient, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	require.Len(t, env.notifier.named(events.EventNewMessage), 1)
	clientMsgs := env.notifier.named(events.EventNewClientMessage)
	require.Len(t, clientMsgs, 1)
	assert.Equal(t, events.AdminRoom, clientMsgs[0].Room)
}

func TestService_CreateValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		clientID string
		text     *string
		wantErr  error
		wantMsg  bool
	}{
		{"no text", clientC, nil, nil, false},
		{"blank text is ignored", clientC, strPtr("   "), nil, false},
		{"missing client", "", nil, domain.ErrInvalidPayload, false},
		{"text too long", clientC, strPtr(string(make([]rune, MaxMessageLength+1))), domain.ErrInvalidPayload, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat, msg, err := env.svc.Create(env.ctx, tt.clientID, tt.text)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.StatusPending, chat.Status)
			assert.Equal(t, tt.wantMsg, msg != nil)
		})
	}
}

func TestService_AdminFirstMessageAutoAssigns(t *testing.T) {
	env := newTestEnv(t)

	chat, _, err := env.svc.Create(env.ctx, clientC, strPtr("Hello"))
	require.NoError(t, err)
	env.notifier.reset()

	msg := env.send(t, chat.ID, asAdminA, "Hi, how can I help?")
	assert.Equal(t, []string{adminA}, msg.ReadBy)

	stored, err := env.repo.GetChat(env.ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
	require.NotNil(t, stored.AdminID)
	assert.Equal(t, adminA, *stored.AdminID)
	assertInvariant(t, stored)

	page, err := env.svc.List(env.ctx, chat.ID, clientC, domain.RoleClient, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	assigned := env.notifier.named(events.EventAdminAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, events.ChatRoom(chat.ID), assigned[0].Room)
	payload := assigned[0].Payload.(AdminAssignedEvent)
	require.NotNil(t, payload.AdminProfile)
	assert.Equal(t, "Alice Admin", payload.AdminProfile.Name)

	newMsgs := env.notifier.named(events.EventNewMessage)
	require.Len(t, newMsgs, 1)
	assert.Equal(t, events.ChatRoom(chat.ID), newMsgs[0].Room)

	taken := env.notifier.named(events.EventChatAssigned)
	require.Len(t, taken, 1)
	assert.Equal(t, events.AdminRoom, taken[0].Room)

	assert.Empty(t, env.notifier.named(events.EventNewClientMessage), "admin messages never reach the admin group")
}

// failingAssignStore makes every admin assignment fail.
type failingAssignStore struct {
	*Repository
}

func (s failingAssignStore) AssignAdmin(context.Context, string, string, domain.Status, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func TestService_AutoAssignFailureRejectsAdminMessage(t *testing.T) {
	env := newTestEnvWithStore(t, func(r *Repository) Store { return failingAssignStore{r} })

	chat, _, err := env.svc.Create(env.ctx, clientC, nil)
	require.NoError(t, err)

	_, err = env.svc.Send(env.ctx, chat.ID, adminA, domain.RoleAdmin, SendInput{Text: strPtr("hi")})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, total, err := env.repo.ListMessages(env.ctx, chat.ID, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, env.notifier.named(events.EventNewMessage))
}

func TestService_AssignAdminErrors(t *testing.T) {
	env := newTestEnv(t)

	assigned := env.activeChat(t)
	pending, _, err := env.svc.Create(env.ctx, clientC, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		chatID  string
		adminID string
		wantErr error
	}{
		{"already assigned", assigned.ID, adminB, domain.ErrAlreadyAssigned},
		{"target is a client", pending.ID, clientC, domain.ErrNotAnAdmin},
		{"target unknown", pending.ID, "stranger", domain.ErrNotAnAdmin},
		{"chat missing", uuid.New().String(), adminA, domain.ErrNotFound},
		{"malformed chat id", "not-a-uuid", adminA, domain.ErrInvalidPayload},
		{"missing admin id", pending.ID, "", domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AssignAdmin(env.ctx, tt.chatID, tt.adminID)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored, err := env.repo.GetChat(env.ctx, pending.ID)
	require.NoError(t, err)
	assertInvariant(t, stored)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestService_AssignAdminConcurrent(t *testing.T) {
	env := newTestEnv(t)

	chat, _, err := env.svc.Create(env.ctx, clientC, nil)
	require.NoError(t, err)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		admin := adminA
		if i%2 == 1 {
			admin = adminB
		}
		wg.Add(1)
		go func(admin string) {
			defer wg.Done()
			_, err := env.svc.AssignAdmin(env.ctx, chat.ID, admin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAlreadyAssigned):
				conflicts++
			default:
				t.Errorf("AssignAdmin() unexpected error: %v", err)
			}
		}(admin)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, env.notifier.named(events.EventAdminAssigned), 1)

	stored, err := env.repo.GetChat(env.ctx, chat.ID)
	require.NoError(t, err)
	assertInvariant(t, stored)
}

func TestService_UpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, env *testEnv) *domain.Chat
		requestor  domain.Identity
		newStatus  domain.Status
		wantErr    error
		wantStatus domain.Status
		wantEvents int
	}{
		{
			name:       "assigned admin closes active chat",
			setup:      func(t *testing.T, env *testEnv) *domain.Chat { return env.activeChat(t) },
			requestor:  asAdminA,
			newStatus:  domain.StatusClosed,
			wantStatus: domain.StatusClosed,
			wantEvents: 2,
		},
		{
			name:       "other admin may close",
			setup:      func(t *testing.T, env *testEnv) *domain.Chat { return env.activeChat(t) },
			requestor:  asAdminB,
			newStatus:  domain.StatusClosed,
			wantStatus: domain.StatusClosed,
			wantEvents: 2,
		},
		{
			name:      "client is forbidden",
			setup:     func(t *testing.T, env *testEnv) *domain.Chat { return env.activeChat(t) },
			requestor: asClientC,
			newStatus: domain.StatusClosed,
			wantErr:   domain.ErrForbidden,
		},
		{
			name: "closed chat cannot reopen",
			setup: func(t *testing.T, env *testEnv) *domain.Chat {
				chat := env.activeChat(t)
				_, err := env.svc.UpdateStatus(env.ctx, chat.ID, adminA, domain.RoleAdmin, domain.StatusClosed)
				require.NoError(t, err)
				env.notifier.reset()
				return chat
			},
			requestor: asAdminA,
			newStatus: domain.StatusActive,
			wantErr:   domain.ErrCannotReopen,
		},
		{
			name: "closing a closed chat is a no-op",
			setup: func(t *testing.T, env *testEnv) *domain.Chat {
				chat := env.activeChat(t)
				_, err := env.svc.UpdateStatus(env.ctx, chat.ID, adminA, domain.RoleAdmin, domain.StatusClosed)
				require.NoError(t, err)
				env.notifier.reset()
				return chat
			},
			requestor:  asAdminB,
			newStatus:  domain.StatusClosed,
			wantStatus: domain.StatusClosed,
			wantEvents: 0,
		},
		{
			name:      "assigned chat cannot return to pending",
			setup:     func(t *testing.T, env *testEnv) *domain.Chat { return env.activeChat(t) },
			requestor: asAdminA,
			newStatus: domain.StatusPending,
			wantErr:   domain.ErrInvalidState,
		},
		{
			name: "closing a pending chat assigns the closer",
			setup: func(t *testing.T, env *testEnv) *domain.Chat {
				chat, _, err := env.svc.Create(env.ctx, clientC, nil)
				require.NoError(t, err)
				return chat
			},
			requestor:  asAdminB,
			newStatus:  domain.StatusClosed,
			wantStatus: domain.StatusClosed,
			wantEvents: 4,
		},
		{
			name:      "unknown status",
			setup:     func(t *testing.T, env *testEnv) *domain.Chat { return env.activeChat(t) },
			requestor: asAdminA,
			newStatus: domain.Status("ARCHIVED"),
			wantErr:   domain.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			chat := tt.setup(t, env)

			got, err := env.svc.UpdateStatus(env.ctx, chat.ID, tt.requestor.UserID, tt.requestor.Role, tt.newStatus)

			stored, getErr := env.repo.GetChat(env.ctx, chat.ID)
			require.NoError(t, getErr)
			assertInvariant(t, stored)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Len(t, env.notifier.events, tt.wantEvents)
		})
	}
}

func TestService_AuthorizeAccess(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	tests := []struct {
		name    string
		chatID  string
		who     domain.Identity
		wantErr error
	}{
		{"owner", chat.ID, asClientC, nil},
		{"assigned admin", chat.ID, asAdminA, nil},
		{"any admin", chat.ID, asAdminB, nil},
		{"other client", chat.ID, asClientD, domain.ErrForbidden},
		{"missing chat", uuid.New().String(), asAdminA, domain.ErrNotFound},
		{"empty id", "", asAdminA, domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.svc.AuthorizeAccess(env.ctx, tt.chatID, tt.who.UserID, tt.who.Role)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, chat.ID, got.ID)
		})
	}
}

func TestService_SendValidation(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	tests := []struct {
		name    string
		who     domain.Identity
		in      SendInput
		wantErr error
	}{
		{"neither text nor file", asClientC, SendInput{}, domain.ErrInvalidPayload},
		{"whitespace text only", asClientC, SendInput{Text: strPtr(" \n\t ")}, domain.ErrInvalidPayload},
		{"invalid utf8", asClientC, SendInput{Text: strPtr("\xff\xfe")}, domain.ErrInvalidPayload},
		{"unknown file", asClientC, SendInput{FileID: strPtr(uuid.New().String())}, domain.ErrNotFound},
		{"unknown reply target", asClientC, SendInput{Text: strPtr("re"), ReplyToID: strPtr(uuid.New().String())}, domain.ErrNotFound},
		{"stranger", asClientD, SendInput{Text: strPtr("hi")}, domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Send(env.ctx, chat.ID, tt.who.UserID, tt.who.Role, tt.in)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Zero(t, env.notifier.count(), "rejected messages are never broadcast")
}

func TestService_SendWithFileAndReply(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	original := env.send(t, chat.ID, asClientC, "Can you see my transcript?")

	fileID := "5f0c2a8e-1b7d-4e55-9a43-0c8d6f1e2b3a"
	msg, err := env.svc.Send(env.ctx, chat.ID, adminA, domain.RoleAdmin, SendInput{
		FileID:    strPtr(fileID),
		ReplyToID: strPtr(original.ID),
	})
	require.NoError(t, err)
	require.NotNil(t, msg.FileURL)
	assert.Equal(t, "/api/v1/files/"+fileID, *msg.FileURL)
	assert.Nil(t, msg.Text)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, original.ID, msg.ReplyTo.ID)
	assert.Equal(t, clientC, msg.ReplyTo.SenderID)

	page, err := env.svc.List(env.ctx, chat.ID, clientC, domain.RoleClient, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotNil(t, page.Items[1].ReplyTo)
	assert.Equal(t, original.ID, page.Items[1].ReplyTo.ID)
}

func TestService_ReplyToMessageOfAnotherChat(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)
	other := env.activeChat(t)

	foreign := env.send(t, other.ID, asClientC, "other chat")
	env.notifier.reset()

	_, err := env.svc.Send(env.ctx, chat.ID, clientC, domain.RoleClient, SendInput{
		Text:      strPtr("reply"),
		ReplyToID: strPtr(foreign.ID),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, env.notifier.count())
}

func TestService_SendToClosedChat(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)
	_, err := env.svc.UpdateStatus(env.ctx, chat.ID, adminA, domain.RoleAdmin, domain.StatusClosed)
	require.NoError(t, err)
	env.notifier.reset()

	for _, who := range []domain.Identity{asAdminB, asAdminA, asClientC} {
		_, err := env.svc.Send(env.ctx, chat.ID, who.UserID, who.Role, SendInput{Text: strPtr("anyone there?")})
		require.ErrorIs(t, err, domain.ErrInvalidState, "sender %s", who.UserID)
	}

	_, total, err := env.repo.ListMessages(env.ctx, chat.ID, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, env.notifier.count())
}

func TestService_SendTouchesChat(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	msg := env.send(t, chat.ID, asClientC, "ping")

	stored, err := env.repo.GetChat(env.ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.Equal(msg.CreatedAt), "updatedAt = %v, want %v", stored.UpdatedAt, msg.CreatedAt)
}

func TestService_MarkReadOnlyUnread(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	m1 := env.send(t, chat.ID, asAdminA, "first")
	m2 := env.send(t, chat.ID, asAdminA, "second")
	_, err := env.svc.MarkRead(env.ctx, chat.ID, clientC, domain.RoleClient, []string{m1.ID})
	require.NoError(t, err)
	env.notifier.reset()

	marked, err := env.svc.MarkRead(env.ctx, chat.ID, clientC, domain.RoleClient, []string{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{m2.ID}, marked)

	reads := env.notifier.named(events.EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, events.ChatRoom(chat.ID), reads[0].Room)
	assert.Equal(t, MessagesReadEvent{
		ChatID:     chat.ID,
		UserID:     clientC,
		UserRole:   domain.RoleClient,
		MessageIDs: []string{m2.ID},
	}, reads[0].Payload)

	env.notifier.reset()
	marked, err = env.svc.MarkRead(env.ctx, chat.ID, clientC, domain.RoleClient, []string{m1.ID, m2.ID, m2.ID})
	require.NoError(t, err)
	assert.Empty(t, marked)
	assert.Zero(t, env.notifier.count(), "nothing new to mark means no broadcast")

	stored, err := env.repo.GetMessage(env.ctx, m2.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{adminA, clientC}, stored.ReadBy)
}

func TestService_MarkReadValidation(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)
	other := env.activeChat(t)
	foreign := env.send(t, other.ID, asAdminA, "elsewhere")
	env.notifier.reset()

	tests := []struct {
		name    string
		chatID  string
		ids     []string
		who     domain.Identity
		wantErr error
	}{
		{"empty chat id", "", []string{foreign.ID}, asClientC, domain.ErrInvalidPayload},
		{"empty id list", chat.ID, nil, asClientC, domain.ErrInvalidPayload},
		{"stranger", chat.ID, []string{foreign.ID}, asClientD, domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.MarkRead(env.ctx, tt.chatID, tt.who.UserID, tt.who.Role, tt.ids)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	marked, err := env.svc.MarkRead(env.ctx, chat.ID, clientC, domain.RoleClient, []string{foreign.ID})
	require.NoError(t, err)
	assert.Empty(t, marked, "messages of another chat are filtered out")
	assert.Zero(t, env.notifier.count())
}

func TestService_MarkReadConcurrentOverlap(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, env.send(t, chat.ID, asAdminA, fmt.Sprintf("msg %d", i)).ID)
	}
	env.notifier.reset()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subset := ids[i%3 : i%3+4]
			if _, err := env.svc.MarkRead(env.ctx, chat.ID, clientC, domain.RoleClient, subset); err != nil {
				t.Errorf("MarkRead() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, e := range env.notifier.named(events.EventMessagesRead) {
		for _, id := range e.Payload.(MessagesReadEvent).MessageIDs {
			seen[id]++
		}
	}
	assert.Len(t, seen, 6)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s broadcast as read %d times", id, n)
	}
}

func TestService_ListMarksReadAndPaginates(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	for i := 0; i < 5; i++ {
		env.send(t, chat.ID, asClientC, fmt.Sprintf("question %d", i))
	}
	env.send(t, chat.ID, asAdminA, "answer")
	env.notifier.reset()

	page, err := env.svc.List(env.ctx, chat.ID, adminA, domain.RoleAdmin, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "question 0", *page.Items[0].Text)
	for _, msg := range page.Items {
		assert.True(t, msg.IsReadBy(adminA))
		assert.True(t, msg.IsReadBy(clientC), "readBy never loses the sender")
	}

	reads := env.notifier.named(events.EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Len(t, reads[0].Payload.(MessagesReadEvent).MessageIDs, 2)

	env.notifier.reset()
	last, err := env.svc.List(env.ctx, chat.ID, adminA, domain.RoleAdmin, 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Items, 2)
	reads = env.notifier.named(events.EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Len(t, reads[0].Payload.(MessagesReadEvent).MessageIDs, 1, "own message is not re-marked")

	defaults, err := env.svc.List(env.ctx, chat.ID, adminA, domain.RoleAdmin, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.Page)
	assert.Equal(t, MaxPageSize, defaults.PageSize)
}

func TestService_JoinLeaveAndDisconnect(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)

	page, err := env.svc.JoinChat(env.ctx, chat.ID, asClientC, 1, 50)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	_, err = env.svc.JoinChat(env.ctx, chat.ID, asAdminA, 1, 50)
	require.NoError(t, err)
	_, err = env.svc.JoinChat(env.ctx, chat.ID, asClientC, 1, 50)
	require.NoError(t, err)

	assert.Equal(t, []string{adminA, clientC}, env.svc.ActiveMembers(chat.ID))
	assert.Len(t, env.notifier.named(events.EventParticipantUpdate), 2, "re-joining does not announce twice")

	_, err = env.svc.JoinChat(env.ctx, chat.ID, asClientD, 1, 50)
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.NotContains(t, env.svc.ActiveMembers(chat.ID), clientD)

	env.notifier.reset()
	env.svc.DropUser(clientC)
	assert.Equal(t, []string{adminA}, env.svc.ActiveMembers(chat.ID))
	updates := env.notifier.named(events.EventParticipantUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, ActionDisconnected, updates[0].Payload.(ParticipantUpdateEvent).Action)

	env.svc.LeaveChat(env.ctx, chat.ID, adminA)
	assert.Empty(t, env.svc.ActiveMembers(chat.ID))
	env.svc.LeaveChat(env.ctx, chat.ID, adminA)
	assert.Len(t, env.notifier.named(events.EventParticipantUpdate), 2)
}

func TestService_ListChatsVisibility(t *testing.T) {
	env := newTestEnv(t)
	active := env.activeChat(t)
	_, _, err := env.svc.Create(env.ctx, clientD, nil)
	require.NoError(t, err)

	mine, err := env.svc.ListChats(env.ctx, asClientC, "", false, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, active.ID, mine[0].ID)

	all, err := env.svc.ListChats(env.ctx, asAdminB, "", false, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := env.svc.ListChats(env.ctx, asAdminB, domain.StatusPending, false, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	assignedToA, err := env.svc.ListChats(env.ctx, asAdminA, "", true, 0)
	require.NoError(t, err)
	assert.Len(t, assignedToA, 1)

	_, err = env.svc.ListChats(env.ctx, asAdminA, domain.Status("nope"), false, 0)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestModule_GetChatHandler(t *testing.T) {
	env := newTestEnv(t)
	chat := env.activeChat(t)
	_, err := env.svc.JoinChat(env.ctx, chat.ID, asClientC, 1, 10)
	require.NoError(t, err)

	m := &Module{service: env.svc}

	tests := []struct {
		name      string
		req       GetChatRequest
		wantFound bool
	}{
		{"owner", GetChatRequest{ChatID: chat.ID, UserID: clientC, Role: domain.RoleClient}, true},
		{"any admin", GetChatRequest{ChatID: chat.ID, UserID: adminB, Role: domain.RoleAdmin}, true},
		{"stranger", GetChatRequest{ChatID: chat.ID, UserID: clientD, Role: domain.RoleClient}, false},
		{"unknown chat", GetChatRequest{ChatID: uuid.New().String(), UserID: adminA, Role: domain.RoleAdmin}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := m.getChat(env.ctx, tt.req, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, resp.Found)
			if tt.wantFound {
				assert.Equal(t, chat.ID, resp.Chat.ID)
				assert.Equal(t, []string{clientC}, resp.ActiveMembers)
			}
		})
	}
}
