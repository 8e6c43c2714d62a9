package api

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/support-chat/modules/auth"
	"github.com/example/support-chat/modules/broadcast"
	"github.com/example/support-chat/modules/chat"
	"github.com/example/support-chat/modules/files"
	"github.com/go-monolith/mono"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	nanoid "github.com/jaevor/go-nanoid"
)

const (
	defaultSendBuffer = 64
	multipartOverhead = 64 * 1024
)

// APIModule serves the REST API and the real-time socket gateway.
type APIModule struct {
	app      *fiber.App
	chat     *chat.Module
	files    *files.FilesModule
	hub      *broadcast.Hub
	verifier auth.Verifier
	registry *broadcast.Registry
	gateway  *Gateway

	port        string
	corsOrigins string
	sendBuffer  int
	gateConfig  GatewayConfig
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule authenticating callers with verifier.
func NewModule(verifier auth.Verifier) *APIModule {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		origins = "http://localhost:3000,http://localhost:5173"
	}
	sendBuffer := defaultSendBuffer
	if v, err := strconv.Atoi(os.Getenv("WS_SEND_BUFFER")); err == nil && v > 0 {
		sendBuffer = v
	}
	var gateConfig GatewayConfig
	if v, err := strconv.ParseFloat(os.Getenv("WS_RATE_LIMIT"), 64); err == nil {
		gateConfig.RateLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("WS_RATE_BURST")); err == nil {
		gateConfig.RateBurst = v
	}

	return &APIModule{
		verifier:    verifier,
		port:        port,
		corsOrigins: origins,
		sendBuffer:  sendBuffer,
		gateConfig:  gateConfig,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies. They only order startup; the
// chat and files services are handed over directly.
func (m *APIModule) Dependencies() []string {
	return []string{"chat", "files"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(_ string, _ mono.ServiceContainer) {}

// SetChatModule sets the chat module (called from main.go).
func (m *APIModule) SetChatModule(chatModule *chat.Module) {
	m.chat = chatModule
}

// SetFilesModule sets the files module (called from main.go).
func (m *APIModule) SetFilesModule(filesModule *files.FilesModule) {
	m.files = filesModule
}

// SetHub sets the broadcast hub (called from main.go).
func (m *APIModule) SetHub(hub *broadcast.Hub) {
	m.hub = hub
}

// Start builds the gateway and starts the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.chat == nil || m.chat.Service() == nil {
		return fmt.Errorf("chat module dependency not set")
	}
	if m.hub == nil {
		return fmt.Errorf("broadcast hub dependency not set")
	}
	if m.verifier == nil {
		return fmt.Errorf("credential verifier not set")
	}

	newID, err := nanoid.Standard(21)
	if err != nil {
		return fmt.Errorf("failed to create id generator: %w", err)
	}

	svc := m.chat.Service()
	m.registry = broadcast.NewRegistry(m.verifier, m.hub, svc, m.sendBuffer)
	m.gateway = NewGateway(svc, m.hub, m.registry, newID, m.gateConfig)

	var fileService *files.Service
	bodyLimit := files.DefaultMaxUploadSize
	if m.files != nil && m.files.Service() != nil {
		fileService = m.files.Service()
		bodyLimit = fileService.MaxUploadSize()
	}
	handlers := NewHandlers(svc, fileService, m.hub, m.registry)
	m.app = buildApp(handlers, m.gateway, m.verifier, m.corsOrigins, int(bodyLimit)+multipartOverhead)

	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	log.Printf("[api] HTTP server started on :%s", m.port)
	return nil
}

// Stop closes every socket and shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.registry != nil {
		m.registry.CloseAll()
	}
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	if m.app == nil || m.registry == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "server not started",
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"port":         m.port,
			"connections":  m.registry.ConnectionCount(),
			"online_users": m.registry.UserCount(),
		},
	}
}

// buildApp assembles the Fiber app with middleware and routes.
func buildApp(h *Handlers, gateway *Gateway, verifier auth.Verifier, corsOrigins string, bodyLimit int) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Support Chat",
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		BodyLimit:             bodyLimit,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next: func(c *fiber.Ctx) bool {
			return websocket.IsWebSocketUpgrade(c)
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	registerRoutes(app, h, gateway, verifier)
	return app
}
