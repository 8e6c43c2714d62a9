package profile

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"golang.org/x/sync/singleflight"
)

// Service serves user profiles from the database through a read-through cache.
type Service struct {
	repo    *Repository
	cache   Cache
	sfGroup singleflight.Group
	now     func() time.Time
}

// NewService creates a profile service. A nil cache disables caching.
func NewService(repo *Repository, cache Cache) *Service {
	if cache == nil {
		cache = noCache{}
	}
	return &Service{
		repo:  repo,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the profile of id. Concurrent misses for the same id share one query.
func (s *Service) Get(ctx context.Context, id string) (*domain.UserProfile, error) {
	if id == "" {
		return nil, fmt.Errorf("profile id is required: %w", domain.ErrInvalidPayload)
	}

	cached, found, err := s.cache.Get(ctx, id)
	if err != nil {
		log.Printf("[profile] Cache error for %s: %v", id, err)
	}
	if found {
		return cached, nil
	}

	val, err, _ := s.sfGroup.Do("profile:"+id, func() (any, error) {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, p); err != nil {
			log.Printf("[profile] Warning: failed to cache profile %s: %v", id, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*domain.UserProfile), nil
}

// Upsert validates and stores p, then drops its cache entry.
func (s *Service) Upsert(ctx context.Context, p *domain.UserProfile) error {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("profile id and name are required: %w", domain.ErrInvalidPayload)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("unknown role %q: %w", p.Role, domain.ErrInvalidPayload)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return fmt.Errorf("invalid email %q: %w", p.Email, domain.ErrInvalidPayload)
		}
	}

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.repo.Upsert(ctx, p); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, p.ID); err != nil {
		log.Printf("[profile] Warning: failed to invalidate profile %s: %v", p.ID, err)
	}
	return nil
}

// Admins returns every admin profile.
func (s *Service) Admins(ctx context.Context) ([]*domain.UserProfile, error) {
	return s.repo.ListByRole(ctx, domain.RoleAdmin)
}

// DemoProfiles are seeded when SEED_DEMO_USERS is enabled.
var DemoProfiles = []domain.UserProfile{
	{ID: "admin-1", Name: "Alice Moreau", Email: "alice@support.example.com", Role: domain.RoleAdmin},
	{ID: "admin-2", Name: "Bruno Silva", Email: "bruno@support.example.com", Role: domain.RoleAdmin},
	{ID: "client-1", Name: "Chen Wei", Email: "chen@example.com", Role: domain.RoleClient},
	{ID: "client-2", Name: "Dana Kowalski", Email: "dana@example.com", Role: domain.RoleClient},
}

// Seed upserts profiles.
func (s *Service) Seed(ctx context.Context, profiles []domain.UserProfile) error {
	for i := range profiles {
		p := profiles[i]
		if err := s.Upsert(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed profile %s: %w", p.ID, err)
		}
	}
	return nil
}
