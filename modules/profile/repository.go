package profile

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/support-chat/domain/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository persists user profiles with GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a profile repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the profiles table.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&domain.UserProfile{})
}

// Get loads a profile by user id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// Upsert inserts the profile or refreshes its mutable fields.
func (r *Repository) Upsert(ctx context.Context, p *domain.UserProfile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role", "avatar_url", "updated_at"}),
	}).Create(p).Error
}

// ListByRole returns profiles with the given role ordered by name.
func (r *Repository) ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error) {
	var out []*domain.UserProfile
	err := r.db.WithContext(ctx).Where("role = ?", role).Order("name ASC").Find(&out).Error
	return out, err
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func openDatabase(path string, debug bool) (*gorm.DB, error) {
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
