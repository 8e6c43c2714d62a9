package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/example/support-chat/modules/auth"
	"github.com/example/support-chat/modules/broadcast"
	"github.com/example/support-chat/modules/chat"
	"github.com/example/support-chat/modules/files"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/gofiber/fiber/v2"
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

type fakeDirectory map[string]*domain.UserProfile

func (d fakeDirectory) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	if p, ok := d[userID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
}

const (
	clientID  = "client-1"
	client2ID = "client-2"
	adminID   = "admin-1"
	admin2ID  = "admin-2"
)

type harness struct {
	svc      *chat.Service
	hub      *broadcast.Hub
	registry *broadcast.Registry
	gateway  *Gateway
	verifier *auth.JWTVerifier
	files    *files.Service
	app      *fiber.App
}

type harnessOption func(*GatewayConfig)

func withRateLimit(limit float64, burst int) harnessOption {
	return func(c *GatewayConfig) {
		c.RateLimit = limit
		c.RateBurst = burst
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db, err := chat.OpenDatabase(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := chat.NewRepository(db)
	require.NoError(t, repo.Migrate())

	fileService := newFileService(t)
	hub := broadcast.NewHub()
	notifier := chat.NotifierFunc(func(_ context.Context, room, event string, payload any) {
		hub.Emit(room, event, payload)
	})
	directory := fakeDirectory{
		adminID:   {ID: adminID, Name: "Alice Moreau", Role: domain.RoleAdmin},
		admin2ID:  {ID: admin2ID, Name: "Bruno Silva", Role: domain.RoleAdmin},
		clientID:  {ID: clientID, Name: "Chen Wei", Role: domain.RoleClient},
		client2ID: {ID: client2ID, Name: "Dana Kowalski", Role: domain.RoleClient},
	}
	svc := chat.NewService(repo, chat.NewRoomTracker(), notifier, fileService, directory, &mockLogger{})

	verifier := auth.NewJWTVerifier(auth.JWTConfig{
		SecretKey: "test-secret",
		Issuer:    "support-chat-test",
		TTL:       time.Hour,
	})

	config := GatewayConfig{RateLimit: 1000, RateBurst: 1000}
	for _, opt := range opts {
		opt(&config)
	}

	var seq atomic.Int64
	newID := func() string {
		return fmt.Sprintf("conn-%d", seq.Add(1))
	}

	registry := broadcast.NewRegistry(verifier, hub, svc, 256)
	gateway := NewGateway(svc, hub, registry, newID, config)
	handlers := NewHandlers(svc, fileService, hub, registry)

	h := &harness{
		svc:      svc,
		hub:      hub,
		registry: registry,
		gateway:  gateway,
		verifier: verifier,
		files:    fileService,
		app:      buildApp(handlers, gateway, verifier, "*", 4*1024*1024),
	}
	t.Cleanup(registry.CloseAll)
	return h
}

// newFileService starts an embedded NATS with an in-memory attachments bucket.
func newFileService(t *testing.T) *files.Service {
	t.Helper()

	app, err := mono.NewMonoApplication(mono.WithLogLevel(mono.LogLevelError))
	require.NoError(t, err)

	plugin, err := fsjetstream.New(fsjetstream.Config{
		Buckets: []fsjetstream.BucketConfig{
			{
				Name:     files.BucketName,
				MaxBytes: 8 * 1024 * 1024,
				Storage:  fsjetstream.MemoryStorage,
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, app.RegisterPlugin(plugin, "storage"))
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() {
		_ = app.Stop(context.Background())
	})

	bucket := plugin.Bucket(files.BucketName)
	require.NotNil(t, bucket)
	return files.NewService(bucket, 1024*1024, "")
}

func (h *harness) token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token, err := h.verifier.Issue(userID, role)
	require.NoError(t, err)
	return token
}

// fakeTransport collects frames written by the connection's writer goroutine.
type fakeTransport struct {
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 512)}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.frames <- data
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// wireFrame is a decoded server frame with the payload kept raw.
type wireFrame struct {
	Type  string                `json:"type"`
	ID    string                `json:"id"`
	Event string                `json:"event"`
	Data  json.RawMessage       `json:"data"`
	Error *broadcast.FrameIssue `json:"error"`
}

type testClient struct {
	t         *testing.T
	gateway   *Gateway
	session   *Session
	transport *fakeTransport
	seq       int
	backlog   []wireFrame
}

func (h *harness) connect(t *testing.T, userID string, role domain.Role) *testClient {
	t.Helper()
	transport := newFakeTransport()
	s, err := h.gateway.Open(context.Background(), h.token(t, userID, role), transport)
	require.NoError(t, err)

	c := &testClient{t: t, gateway: h.gateway, session: s, transport: transport}
	connected := c.expect(broadcast.FrameEvent, events.EventConnected)
	var ev ConnectedEvent
	require.NoError(t, json.Unmarshal(connected.Data, &ev))
	require.Equal(t, userID, ev.UserID)
	return c
}

// request sends event with data and returns the matching ack. Frames arriving before
// the ack are kept for later expectations.
func (c *testClient) request(event string, data any) wireFrame {
	c.t.Helper()
	c.seq++
	id := fmt.Sprintf("req-%d", c.seq)
	c.send(id, event, data)
	return c.await(func(f wireFrame) bool {
		return f.Type == broadcast.FrameAck && f.ID == id
	}, "ack "+id)
}

func (c *testClient) send(id, event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	frame, err := json.Marshal(InboundFrame{ID: id, Event: event, Data: raw})
	require.NoError(c.t, err)
	c.gateway.Handle(c.session, frame)
}

// await returns the first frame matching match, from the backlog or the transport.
func (c *testClient) await(match func(wireFrame) bool, what string) wireFrame {
	c.t.Helper()
	for i, f := range c.backlog {
		if match(f) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return f
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.transport.frames:
			var frame wireFrame
			require.NoError(c.t, json.Unmarshal(data, &frame))
			if match(frame) {
				return frame
			}
			c.backlog = append(c.backlog, frame)
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", what)
			return wireFrame{}
		}
	}
}

// expect waits for a frame of type and event.
func (c *testClient) expect(frameType, event string) wireFrame {
	c.t.Helper()
	return c.await(func(f wireFrame) bool {
		return f.Type == frameType && f.Event == event
	}, frameType+" "+event)
}

// event waits for a server event and decodes its payload into dst.
func (c *testClient) event(event string, dst any) {
	c.t.Helper()
	frame := c.expect(broadcast.FrameEvent, event)
	if dst != nil {
		require.NoError(c.t, json.Unmarshal(frame.Data, dst))
	}
}

// quiet asserts no frame for event arrives within wait.
func (c *testClient) quiet(event string, wait time.Duration) {
	c.t.Helper()
	for _, f := range c.backlog {
		if f.Event == event {
			c.t.Fatalf("unexpected %s frame", event)
		}
	}
	deadline := time.After(wait)
	for {
		select {
		case data := <-c.transport.frames:
			var frame wireFrame
			require.NoError(c.t, json.Unmarshal(data, &frame))
			if frame.Event == event {
				c.t.Fatalf("unexpected %s frame: %s", event, string(data))
			}
			c.backlog = append(c.backlog, frame)
		case <-deadline:
			return
		}
	}
}

func (c *testClient) close() {
	c.gateway.Close(c.session)
}

func decodeAck[T any](t *testing.T, frame wireFrame) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(frame.Data, &out))
	return out
}
