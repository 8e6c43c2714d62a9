package api

import (
	"fmt"
	"io"
	"mime"
	"strconv"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/modules/auth"
	"github.com/example/support-chat/modules/broadcast"
	"github.com/example/support-chat/modules/chat"
	"github.com/example/support-chat/modules/files"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Handlers serves the REST surface of the chat core.
type Handlers struct {
	chat     *chat.Service
	files    *files.Service
	hub      *broadcast.Hub
	registry *broadcast.Registry
}

// NewHandlers creates the REST handlers. fileService may be nil, in which case the file
// endpoints answer 503.
func NewHandlers(chatService *chat.Service, fileService *files.Service, hub *broadcast.Hub, registry *broadcast.Registry) *Handlers {
	return &Handlers{
		chat:     chatService,
		files:    fileService,
		hub:      hub,
		registry: registry,
	}
}

// registerRoutes configures all HTTP and WebSocket routes.
func registerRoutes(app *fiber.App, h *Handlers, gateway *Gateway, verifier auth.Verifier) {
	app.Get("/health", h.health)

	// WebSocket endpoint. The credential is captured before the upgrade since the
	// socket handler no longer sees request headers.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(credentialLocal, auth.BearerToken(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(gateway.ServeWS))

	v1 := app.Group("/api/v1", auth.RequireAuth(verifier))

	v1.Post("/chats", h.createChat)
	v1.Get("/chats", h.listChats)
	v1.Get("/chats/:id", h.getChat)
	v1.Get("/chats/:id/messages", h.listMessages)
	v1.Patch("/chats/:id/status", h.updateStatus)
	v1.Post("/chats/:id/assign", h.assign)
	v1.Get("/chats/:id/active-users", h.activeUsers)

	v1.Post("/files", h.uploadFile)
	v1.Get("/files/:id", h.downloadFile)
}

// health handles GET /health.
func (h *Handlers) health(c *fiber.Ctx) error {
	emitted, delivered := h.hub.Stats()
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"connections":      h.registry.ConnectionCount(),
			"online_users":     h.registry.UserCount(),
			"rooms":            h.hub.RoomCount(),
			"events_emitted":   emitted,
			"frames_delivered": delivered,
		},
	})
}

// createChat handles POST /api/v1/chats.
func (h *Handlers) createChat(c *fiber.Ctx) error {
	identity := identityOf(c)
	if identity.Role != domain.RoleClient {
		return writeError(c, fmt.Errorf("only clients open chats: %w", domain.ErrForbidden))
	}

	var req CreateChatRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fmt.Errorf("invalid request body: %w", domain.ErrInvalidPayload))
		}
	}

	created, msg, err := h.chat.Create(c.UserContext(), identity.UserID, req.InitialText)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(CreateChatResponse{Chat: created, Message: msg})
}

// listChats handles GET /api/v1/chats.
func (h *Handlers) listChats(c *fiber.Ctx) error {
	identity := identityOf(c)
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return writeError(c, fmt.Errorf("limit must not be negative: %w", domain.ErrInvalidPayload))
	}

	chats, err := h.chat.ListChats(
		c.UserContext(),
		identity,
		domain.Status(c.Query("status")),
		c.QueryBool("mine", false),
		limit,
	)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ChatListResponse{Chats: chats, Total: len(chats)})
}

// getChat handles GET /api/v1/chats/:id.
func (h *Handlers) getChat(c *fiber.Ctx) error {
	found, err := h.chat.GetChat(c.UserContext(), c.Params("id"), identityOf(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(found)
}

// listMessages handles GET /api/v1/chats/:id/messages.
func (h *Handlers) listMessages(c *fiber.Ctx) error {
	identity := identityOf(c)
	page, err := queryInt(c, "page")
	if err != nil {
		return writeError(c, err)
	}
	pageSize, err := queryInt(c, "pageSize")
	if err != nil {
		return writeError(c, err)
	}

	result, err := h.chat.List(c.UserContext(), c.Params("id"), identity.UserID, identity.Role, page, pageSize)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// updateStatus handles PATCH /api/v1/chats/:id/status.
func (h *Handlers) updateStatus(c *fiber.Ctx) error {
	identity := identityOf(c)
	var req UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return writeError(c, fmt.Errorf("status is required: %w", domain.ErrInvalidPayload))
	}

	updated, err := h.chat.UpdateStatus(c.UserContext(), c.Params("id"), identity.UserID, identity.Role, req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(updated)
}

// assign handles POST /api/v1/chats/:id/assign. Without a body the caller assigns
// themselves.
func (h *Handlers) assign(c *fiber.Ctx) error {
	identity := identityOf(c)
	if !identity.IsAdmin() {
		return writeError(c, fmt.Errorf("only admins assign chats: %w", domain.ErrNotAnAdmin))
	}

	var req AssignRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fmt.Errorf("invalid request body: %w", domain.ErrInvalidPayload))
		}
	}
	if req.AdminID == "" {
		req.AdminID = identity.UserID
	}

	assigned, err := h.chat.AssignAdmin(c.UserContext(), c.Params("id"), req.AdminID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(assigned)
}

// activeUsers handles GET /api/v1/chats/:id/active-users.
func (h *Handlers) activeUsers(c *fiber.Ctx) error {
	found, err := h.chat.GetChat(c.UserContext(), c.Params("id"), identityOf(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ActiveUsersResponse{ChatID: found.ID, UserIDs: h.chat.ActiveMembers(found.ID)})
}

// uploadFile handles POST /api/v1/files with a multipart "file" field.
func (h *Handlers) uploadFile(c *fiber.Ctx) error {
	if h.files == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "file storage is not configured",
		})
	}

	header, err := c.FormFile("file")
	if err != nil {
		return writeError(c, fmt.Errorf("multipart field \"file\" is required: %w", domain.ErrInvalidPayload))
	}
	f, err := header.Open()
	if err != nil {
		return writeError(c, fmt.Errorf("failed to open upload: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, fmt.Errorf("failed to read upload: %w", err))
	}

	info, err := h.files.Upload(
		c.UserContext(),
		header.Filename,
		data,
		header.Header.Get(fiber.HeaderContentType),
		identityOf(c).UserID,
	)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(info)
}

// downloadFile handles GET /api/v1/files/:id.
func (h *Handlers) downloadFile(c *fiber.Ctx) error {
	if h.files == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "file storage is not configured",
		})
	}

	data, info, err := h.files.Open(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, info.ContentType)
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	return c.Send(data)
}

// queryInt parses an optional positive integer query parameter; absent means zero.
func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", key, domain.ErrInvalidPayload)
	}
	return n, nil
}

// identityOf returns the caller stored by RequireAuth.
func identityOf(c *fiber.Ctx) domain.Identity {
	identity, _ := auth.IdentityFrom(c)
	return identity
}
