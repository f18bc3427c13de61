// Package history archives finished attempts and keeps operator push
// subscriptions.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/session"
)

// Store is everything the rest of the service needs from the history DB.
type Store interface {
	Archive(ctx context.Context, st session.State, req booking.Request) error
	Recent(ctx context.Context, limit int) ([]AttemptRecord, error)

	SaveSubscription(ctx context.Context, sub PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	Subscriptions(ctx context.Context) ([]PushSubscription, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Open connects to dsn and migrates. postgres:// and postgresql:// DSNs use
// Postgres; anything else is a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case dsn == "":
		dialector = sqlite.Open("tatkalsched.db")
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.WithComponent("history").Info().Str("dialect", db.Dialector.Name()).Msg("history database ready")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&AttemptRecord{}, &PushSubscription{}); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// NewRecord flattens a terminal state and its request. Credentials and
// passenger names are not archived.
func NewRecord(st session.State, req booking.Request) AttemptRecord {
	retries := 0
	for _, n := range st.Retries {
		retries += n
	}
	finished := st.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return AttemptRecord{
		AttemptID:   st.AttemptID,
		Phase:       string(st.Phase),
		Stage:       string(st.Stage),
		Reason:      string(st.Reason),
		Message:     st.Message,
		Error:       st.Error,
		PNR:         st.PNR,
		Origin:      req.Journey.Origin,
		Destination: req.Journey.Destination,
		TravelClass: string(req.Journey.Class),
		TrainNumber: req.Journey.TrainNumber,
		JourneyDate: req.Journey.Date,
		Passengers:  len(req.Passengers),
		Retries:     retries,
		StartedAt:   st.StartedAt,
		FinishedAt:  finished,
	}
}

func (s *gormStore) Archive(ctx context.Context, st session.State, req booking.Request) error {
	rec := NewRecord(st, req)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to archive attempt %s: %w", st.AttemptID, err)
	}
	return nil
}

func (s *gormStore) Recent(ctx context.Context, limit int) ([]AttemptRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []AttemptRecord
	err := s.db.WithContext(ctx).Order("finished_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "operator_id"}),
	}).Create(&sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) Subscriptions(ctx context.Context) ([]PushSubscription, error) {
	var out []PushSubscription
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}
