package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/example/support-chat/modules/broadcast"
	"github.com/example/support-chat/modules/chat"
	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

// Socket request names.
const (
	OpJoinChat       = "joinChat"
	OpLeaveChat      = "leaveChat"
	OpSendMessage    = "sendMessage"
	OpTyping         = "typing"
	OpReadMessages   = "readMessages"
	OpGetActiveUsers = "getActiveUsers"
)

const (
	credentialLocal = "ws_credential"
	opTimeout       = 10 * time.Second
	maxFrameSize    = 64 * 1024
)

// ChatPort is the part of the chat service the socket gateway drives.
type ChatPort interface {
	AuthorizeAccess(ctx context.Context, chatID, userID string, role domain.Role) (*domain.Chat, error)
	JoinChat(ctx context.Context, chatID string, identity domain.Identity, page, pageSize int) (*domain.MessagePage, error)
	LeaveChat(ctx context.Context, chatID, userID string)
	Send(ctx context.Context, chatID, senderID string, senderRole domain.Role, in chat.SendInput) (*domain.Message, error)
	MarkRead(ctx context.Context, chatID, userID string, role domain.Role, messageIDs []string) ([]string, error)
	ActiveMembers(chatID string) []string
}

// GatewayConfig tunes per-connection throttling of sendMessage and typing.
type GatewayConfig struct {
	RateLimit float64
	RateBurst int
}

// Gateway serves the real-time socket protocol: admission, request dispatch and acks.
type Gateway struct {
	chat     ChatPort
	hub      *broadcast.Hub
	registry *broadcast.Registry
	newID    func() string
	config   GatewayConfig
}

// NewGateway creates a socket gateway. newID generates connection ids.
func NewGateway(chatPort ChatPort, hub *broadcast.Hub, registry *broadcast.Registry, newID func() string, config GatewayConfig) *Gateway {
	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 20
	}
	return &Gateway{
		chat:     chatPort,
		hub:      hub,
		registry: registry,
		newID:    newID,
		config:   config,
	}
}

// Session is the per-socket state owned by the reader goroutine.
type Session struct {
	conn    *broadcast.Conn
	limiter *rate.Limiter
}

// Conn returns the connection behind the session.
func (s *Session) Conn() *broadcast.Conn {
	return s.conn
}

// ServeWS runs one websocket connection until the peer goes away.
func (g *Gateway) ServeWS(c *websocket.Conn) {
	credential, _ := c.Locals(credentialLocal).(string)
	c.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	s, err := g.Open(ctx, credential, c)
	cancel()
	if err != nil {
		log.Printf("[api] WebSocket connection rejected: %v", err)
		if data, encErr := json.Marshal(broadcast.Frame{
			Type:  broadcast.FrameError,
			Event: "connect",
			Error: &broadcast.FrameIssue{Code: errorCode(err), Message: "authentication failed"},
		}); encErr == nil {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
		_ = c.Close()
		return
	}
	defer g.Close(s)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[api] Read error from %s: %v", s.conn.ID, err)
			}
			return
		}
		g.Handle(s, raw)
	}
}

// Open admits a transport and greets it with a connected event.
func (g *Gateway) Open(ctx context.Context, credential string, transport broadcast.Transport) (*Session, error) {
	conn, err := g.registry.Admit(ctx, g.newID(), credential, transport)
	if err != nil {
		return nil, err
	}

	if data, err := broadcast.EncodeEvent(events.EventConnected, ConnectedEvent{
		UserID:       conn.UserID,
		Role:         conn.Role,
		ConnectionID: conn.ID,
	}); err == nil {
		conn.Deliver(data)
	}

	return &Session{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(g.config.RateLimit), g.config.RateBurst),
	}, nil
}

// Close evicts the session's connection.
func (g *Gateway) Close(s *Session) {
	g.registry.Evict(s.conn.ID)
}

// Handle decodes and dispatches one inbound frame, replying with an ack unless the
// request is fire-and-forget.
func (g *Gateway) Handle(s *Session, raw []byte) {
	var in InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		g.reply(s, broadcast.Frame{
			Type:  broadcast.FrameError,
			Error: &broadcast.FrameIssue{Code: "invalid_payload", Message: "malformed frame"},
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if in.Event == OpTyping {
		g.typing(s, in.Data)
		return
	}

	result, err := g.dispatch(ctx, s, in)
	if err != nil {
		g.reply(s, broadcast.Frame{
			Type:  broadcast.FrameAck,
			ID:    in.ID,
			Event: in.Event,
			Data:  FailureAck{Success: false, Error: errorBody(err)},
		})
		return
	}
	g.reply(s, broadcast.Frame{Type: broadcast.FrameAck, ID: in.ID, Event: in.Event, Data: result})
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, in InboundFrame) (any, error) {
	identity := s.conn.Identity()

	switch in.Event {
	case OpJoinChat:
		var req JoinChatData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		return g.joinChat(ctx, s, identity, req)

	case OpLeaveChat:
		var req ChatRef
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		if req.ChatID == "" {
			return nil, fmt.Errorf("chat id is required: %w", domain.ErrInvalidPayload)
		}
		g.leaveChat(ctx, s, req.ChatID)
		return ChatAck{Success: true, ChatID: req.ChatID}, nil

	case OpSendMessage:
		var req SendMessageData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		if !s.limiter.Allow() {
			return nil, ErrRateLimited
		}
		msg, err := g.chat.Send(ctx, req.ChatID, identity.UserID, identity.Role, chat.SendInput{
			Text:      req.Text,
			FileID:    req.FileID,
			ReplyToID: req.ReplyToID,
		})
		if err != nil {
			return nil, err
		}
		return SendMessageAck{Success: true, Message: msg}, nil

	case OpReadMessages:
		var req ReadMessagesData
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		marked, err := g.chat.MarkRead(ctx, req.ChatID, identity.UserID, identity.Role, req.MessageIDs)
		if err != nil {
			return nil, err
		}
		return ReadMessagesAck{Success: true, ChatID: req.ChatID, MessageIDs: marked}, nil

	case OpGetActiveUsers:
		var req ChatRef
		if err := decode(in.Data, &req); err != nil {
			return nil, err
		}
		if _, err := g.chat.AuthorizeAccess(ctx, req.ChatID, identity.UserID, identity.Role); err != nil {
			return nil, err
		}
		return ActiveUsersAck{Success: true, ChatID: req.ChatID, UserIDs: g.chat.ActiveMembers(req.ChatID)}, nil

	default:
		return nil, fmt.Errorf("unknown event %q: %w", in.Event, domain.ErrInvalidPayload)
	}
}

// joinChat subscribes before loading history so no message falls between the page and
// the first live event.
func (g *Gateway) joinChat(ctx context.Context, s *Session, identity domain.Identity, req JoinChatData) (*JoinChatAck, error) {
	chatRecord, err := g.chat.AuthorizeAccess(ctx, req.ChatID, identity.UserID, identity.Role)
	if err != nil {
		return nil, err
	}

	room := events.ChatRoom(chatRecord.ID)
	alreadySubscribed := g.hub.IsSubscribed(s.conn, room)
	g.hub.Subscribe(s.conn, room)

	page, err := g.chat.JoinChat(ctx, chatRecord.ID, identity, req.Page, req.PageSize)
	if err != nil {
		if !alreadySubscribed {
			g.hub.Unsubscribe(s.conn, room)
		}
		return nil, err
	}
	return &JoinChatAck{Success: true, ChatID: chatRecord.ID, Messages: page}, nil
}

// leaveChat drops the room subscription. The user stays a member while another of
// their connections still has the chat open.
func (g *Gateway) leaveChat(ctx context.Context, s *Session, chatID string) {
	room := events.ChatRoom(chatID)
	g.hub.Unsubscribe(s.conn, room)

	for _, other := range g.registry.UserConnections(s.conn.UserID) {
		if other.ID != s.conn.ID && g.hub.IsSubscribed(other, room) {
			return
		}
	}
	g.chat.LeaveChat(ctx, chatID, s.conn.UserID)
}

// typing relays the indicator to the rest of the room. It requires a joined chat and
// sends no ack.
func (g *Gateway) typing(s *Session, data json.RawMessage) {
	var req TypingData
	if err := decode(data, &req); err != nil || req.ChatID == "" {
		return
	}
	if !s.limiter.Allow() {
		return
	}
	room := events.ChatRoom(req.ChatID)
	if !g.hub.IsSubscribed(s.conn, room) {
		return
	}
	g.hub.EmitExcept(room, events.EventUserTyping, UserTypingEvent{
		ChatID:   req.ChatID,
		UserID:   s.conn.UserID,
		IsTyping: req.IsTyping,
	}, s.conn.ID)
}

func (g *Gateway) reply(s *Session, frame broadcast.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[api] Failed to encode %s frame: %v", frame.Event, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.conn.Reply(ctx, data); err != nil && !errors.Is(err, broadcast.ErrConnClosed) {
		log.Printf("[api] Failed to queue ack for %s: %v", s.conn.ID, err)
	}
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data: %w", domain.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("malformed data: %w", domain.ErrInvalidPayload)
	}
	return nil
}
