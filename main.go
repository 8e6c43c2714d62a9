package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/example/support-chat/modules/api"
	"github.com/example/support-chat/modules/auth"
	"github.com/example/support-chat/modules/broadcast"
	"github.com/example/support-chat/modules/chat"
	"github.com/example/support-chat/modules/files"
	"github.com/example/support-chat/modules/profile"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	timeout := getEnvDuration("SHUTDOWN_TIMEOUT", shutdownTimeout)
	storageDir := getEnv("STORAGE_DIR", "/tmp/support-chat")
	attachmentQuota := getEnvInt64("ATTACHMENT_QUOTA", 1024*1024*1024)

	logLevel := mono.LogLevelInfo
	if strings.EqualFold(getEnv("LOG_LEVEL", "info"), "error") {
		logLevel = mono.LogLevelError
	}

	log.Println("=== Support Chat - Fiber + EventBus + JetStream ===")

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(timeout),
		mono.WithLogLevel(logLevel),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(storageDir),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Attachments live in the embedded NATS object store.
	storagePlugin, err := fsjetstream.New(fsjetstream.Config{
		Buckets: []fsjetstream.BucketConfig{
			{
				Name:        files.BucketName,
				Description: "Support chat attachments",
				MaxBytes:    attachmentQuota,
				Storage:     fsjetstream.FileStorage,
				Compression: true,
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create storage plugin: %v", err)
	}
	if err := app.RegisterPlugin(storagePlugin, "storage"); err != nil {
		log.Fatalf("Failed to register storage plugin: %v", err)
	}

	jwtConfig := auth.ConfigFromEnv()
	if jwtConfig.UsesDevSecret() {
		log.Println("Warning: JWT_SECRET not set, using the development secret")
	}
	verifier := auth.NewJWTVerifier(jwtConfig)

	filesModule := files.NewModule(app.Logger())
	profileModule := profile.NewModule()
	chatModule := chat.NewModule(app.Logger())
	broadcastModule := broadcast.NewModule()
	apiModule := api.NewModule(verifier)

	// The hub and the module services are handed to the API directly since they are
	// not exposed through the ServiceContainer.
	apiModule.SetHub(broadcastModule.GetHub())
	apiModule.SetChatModule(chatModule)
	apiModule.SetFilesModule(filesModule)

	// Order: providers first, then their consumers.
	// - files: attachments (UsePluginModule + ServiceProviderModule)
	// - profile: user directory (ServiceProviderModule)
	// - chat: support chat core (ServiceProviderModule + EventEmitterModule)
	// - broadcast: room fan-out (EventConsumerModule)
	// - api: Fiber REST + WebSocket gateway
	app.Register(filesModule)
	app.Register(profileModule)
	app.Register(chatModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(getEnv("PORT", "3000"), jwtConfig.UsesDevSecret(), verifier)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		timeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(port string, devSecret bool, verifier *auth.JWTVerifier) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                          - Health check")
	log.Println("  POST   /api/v1/chats                    - Open a support chat (client)")
	log.Println("  GET    /api/v1/chats                    - List visible chats")
	log.Println("  GET    /api/v1/chats/:id                - Get chat details")
	log.Println("  GET    /api/v1/chats/:id/messages       - Message history")
	log.Println("  PATCH  /api/v1/chats/:id/status         - Change chat status (admin)")
	log.Println("  POST   /api/v1/chats/:id/assign         - Assign an admin")
	log.Println("  GET    /api/v1/chats/:id/active-users   - Users with the chat open")
	log.Println("  POST   /api/v1/files                    - Upload an attachment")
	log.Println("  GET    /api/v1/files/:id                - Download an attachment")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws?token=<jwt>):", port)
	log.Println("  Requests: joinChat, leaveChat, sendMessage, typing, readMessages, getActiveUsers")
	log.Println("")

	if devSecret {
		for _, user := range []domain.Identity{
			{UserID: "admin-1", Role: domain.RoleAdmin},
			{UserID: "client-1", Role: domain.RoleClient},
		} {
			token, err := verifier.Issue(user.UserID, user.Role)
			if err != nil {
				continue
			}
			log.Printf("Development token for %s: %s", user.UserID, token)
		}
		log.Println("")
	}
	log.Println("Press Ctrl+C to shutdown gracefully")
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64 returns environment variable as int64 or default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int64 value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as time.Duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
