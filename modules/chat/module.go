package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/events"
	"github.com/example/support-chat/modules/files"
	"github.com/example/support-chat/modules/profile"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Module hosts the chat core on top of GORM + SQLite and publishes room events on the
// EventBus.
type Module struct {
	db        *gorm.DB
	repo      *Repository
	service   *Service
	rooms     *RoomTracker
	files     FileResolver
	directory Directory
	eventBus  mono.EventBus
	logger    types.Logger
	dbPath    string
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.DependentModule = (*Module)(nil)
var _ mono.ServiceProviderModule = (*Module)(nil)
var _ mono.EventBusAwareModule = (*Module)(nil)
var _ mono.EventEmitterModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new chat Module.
func NewModule(logger types.Logger) *Module {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "support_chat.db"
	}
	return &Module{
		rooms:  NewRoomTracker(),
		logger: logger,
		dbPath: dbPath,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"files", "profile"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "files":
		m.files = files.NewResolverAdapter(container)
	case "profile":
		m.directory = profile.NewDirectoryAdapter(container)
	}
}

// RegisterServices registers the get-chat request-reply service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"get-chat",
		json.Unmarshal,
		json.Marshal,
		m.getChat,
	); err != nil {
		return fmt.Errorf("failed to register get-chat service: %w", err)
	}
	log.Printf("[chat] Registered services: get-chat")
	return nil
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.RoomEventV1.ToBase(),
	}
}

// Start opens the database, runs migrations and builds the service.
func (m *Module) Start(_ context.Context) error {
	if m.eventBus == nil {
		log.Println("[chat] Warning: eventBus not set, room events will not be delivered")
	}

	db, err := OpenDatabase(m.dbPath, os.Getenv("DB_DEBUG") == "true")
	if err != nil {
		return err
	}
	m.db = db
	m.repo = NewRepository(db)
	if err := m.repo.Migrate(); err != nil {
		return err
	}

	notifier := NewEventBusNotifier(m.eventBus, m.logger)
	m.service = NewService(m.repo, m.rooms, notifier, m.files, m.directory, m.logger)

	log.Printf("[chat] Module started, database: %s", m.dbPath)
	return nil
}

// Stop closes the database connection.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	log.Println("[chat] Module stopped")
	return sqlDB.Close()
}

// Health performs a health check on the chat module.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.repo == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}
	if err := m.repo.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver":       "sqlite",
			"path":         m.dbPath,
			"active_rooms": m.rooms.RoomCount(),
		},
	}
}

// Service returns the chat service. It is nil before Start.
func (m *Module) Service() *Service {
	return m.service
}

func (m *Module) getChat(ctx context.Context, req GetChatRequest, _ *mono.Msg) (GetChatResponse, error) {
	if m.service == nil {
		return GetChatResponse{}, errors.New("chat service not started")
	}
	chat, err := m.service.AuthorizeAccess(ctx, req.ChatID, req.UserID, req.Role)
	if err != nil {
		if domain.IsDomainError(err) {
			return GetChatResponse{Found: false}, nil
		}
		return GetChatResponse{}, err
	}
	return GetChatResponse{
		Found:         true,
		Chat:          chat,
		ActiveMembers: m.service.ActiveMembers(chat.ID),
	}, nil
}

// OpenDatabase opens a SQLite database through GORM. SQLite allows one writer, so the
// pool is limited to a single connection.
func OpenDatabase(path string, debug bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
