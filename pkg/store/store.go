package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vehicle-scan/pkg/models"
)

// ErrNotFound is returned when no vehicle has the requested id
var ErrNotFound = errors.New("store: vehicle not found")

// Open connects to the database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Store persists vehicle records
type Store struct {
	db *gorm.DB

	mu   sync.Mutex
	last time.Time
}

// New migrates the schema and returns a Store backed by db
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.Vehicle{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create stores v, assigning an id and creation time when missing.
// Creation times are strictly increasing so listings keep entry order.
func (s *Store) Create(ctx context.Context, v *models.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.nextTimestamp()
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	return nil
}

func (s *Store) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// List returns the vehicles of a route in entry order. An empty route lists all.
func (s *Store) List(ctx context.Context, route models.Route) ([]models.Vehicle, error) {
	q := s.db.WithContext(ctx).Order("created_at").Order("id")
	if route != "" {
		q = q.Where("route = ?", route)
	}
	var vehicles []models.Vehicle
	if err := q.Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, nil
}

// Get returns one vehicle
func (s *Store) Get(ctx context.Context, id string) (models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Vehicle{}, ErrNotFound
	}
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return v, nil
}

// Delete removes one vehicle
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Vehicle{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete vehicle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every vehicle of a route and reports how many were removed
func (s *Store) Clear(ctx context.Context, route models.Route) (int64, error) {
	res := s.db.WithContext(ctx).Where("route = ?", route).Delete(&models.Vehicle{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear route: %w", res.Error)
	}
	return res.RowsAffected, nil
}
