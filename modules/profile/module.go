package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const defaultCacheTTL = 5 * time.Minute

// ProfileModule owns user profiles and answers get-profile requests.
type ProfileModule struct {
	db      *gorm.DB
	repo    *Repository
	service *Service
	client  *redis.Client
	cache   *RedisCache

	dbPath    string
	redisAddr string
	redisPass string
	redisDB   int
	cacheTTL  time.Duration
	seed      bool
}

// Compile-time interface checks.
var _ mono.Module = (*ProfileModule)(nil)
var _ mono.ServiceProviderModule = (*ProfileModule)(nil)
var _ mono.HealthCheckableModule = (*ProfileModule)(nil)

// NewModule creates a ProfileModule configured from the environment.
func NewModule() *ProfileModule {
	dbPath := os.Getenv("PROFILE_DB_PATH")
	if dbPath == "" {
		dbPath = "support_profiles.db"
	}
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	ttl := defaultCacheTTL
	if v := os.Getenv("PROFILE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ttl = d
		}
	}
	return &ProfileModule{
		dbPath:    dbPath,
		redisAddr: os.Getenv("REDIS_ADDR"),
		redisPass: os.Getenv("REDIS_PASSWORD"),
		redisDB:   redisDB,
		cacheTTL:  ttl,
		seed:      os.Getenv("SEED_DEMO_USERS") != "false",
	}
}

// Name returns the module name.
func (m *ProfileModule) Name() string {
	return "profile"
}

// RegisterServices registers the get-profile request-reply service.
func (m *ProfileModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"get-profile",
		json.Unmarshal,
		json.Marshal,
		m.getProfile,
	); err != nil {
		return fmt.Errorf("failed to register get-profile service: %w", err)
	}
	log.Printf("[profile] Registered services: get-profile")
	return nil
}

// Start opens the profile database and, when REDIS_ADDR is set, the Redis cache.
func (m *ProfileModule) Start(ctx context.Context) error {
	db, err := openDatabase(m.dbPath, os.Getenv("DB_DEBUG") == "true")
	if err != nil {
		return err
	}
	m.db = db
	m.repo = NewRepository(db)
	if err := m.repo.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate profiles: %w", err)
	}

	var cache Cache
	if m.redisAddr != "" {
		m.client = redis.NewClient(&redis.Options{
			Addr:         m.redisAddr,
			Password:     m.redisPass,
			DB:           m.redisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := m.client.Ping(ctx).Err(); err != nil {
			_ = m.client.Close()
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		m.cache = NewRedisCache(m.client, "profile:", m.cacheTTL)
		cache = m.cache
		log.Printf("[profile] Connected to Redis at %s (TTL: %s)", m.redisAddr, m.cacheTTL)
	}
	m.service = NewService(m.repo, cache)

	if m.seed {
		if err := m.service.Seed(ctx, DemoProfiles); err != nil {
			return err
		}
		log.Printf("[profile] Seeded %d demo profiles", len(DemoProfiles))
	}

	log.Printf("[profile] Module started, database: %s", m.dbPath)
	return nil
}

// Stop closes Redis and the database.
func (m *ProfileModule) Stop(_ context.Context) error {
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			log.Printf("[profile] Error closing Redis connection: %v", err)
		}
	}
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		if err := sqlDB.Close(); err != nil {
			return err
		}
	}
	log.Println("[profile] Module stopped")
	return nil
}

// Health checks the database and the cache.
func (m *ProfileModule) Health(ctx context.Context) mono.HealthStatus {
	if m.repo == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	if err := m.repo.Ping(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}
	details := map[string]any{"path": m.dbPath, "cache": "disabled"}
	if m.cache != nil {
		if err := m.cache.Ping(ctx); err != nil {
			return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("redis ping failed: %v", err)}
		}
		details["cache"] = m.cache.Stats()
	}
	return mono.HealthStatus{Healthy: true, Message: "operational", Details: details}
}

// Service returns the profile service. It is nil before Start.
func (m *ProfileModule) Service() *Service {
	return m.service
}

func (m *ProfileModule) getProfile(ctx context.Context, req GetProfileRequest, _ *mono.Msg) (GetProfileResponse, error) {
	p, err := m.service.Get(ctx, req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidPayload) {
			return GetProfileResponse{Found: false}, nil
		}
		return GetProfileResponse{}, err
	}
	return GetProfileResponse{Found: true, Profile: p}, nil
}
