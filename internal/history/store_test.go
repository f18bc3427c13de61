package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/session"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return NewGormStore(db)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func terminal(id string, phase session.Phase, finished time.Time) (session.State, booking.Request) {
	st := session.State{
		AttemptID:  id,
		Phase:      phase,
		Stage:      session.StageConfirming,
		Retries:    map[string]int{"logging_in": 1, "searching_trains": 2},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
	if phase == session.PhaseSucceeded {
		st.PNR = "4521896370"
	}
	req := booking.Request{
		Journey: booking.Journey{Origin: "NDLS", Destination: "MMCT", Class: booking.ClassThirdAC,
			Date: time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)},
		Passengers:    []booking.Passenger{{Name: "Asha Rao", Age: 34}, {Name: "Ravi K", Age: 41}},
		CredentialRef: "primary",
	}
	return st, req
}

func TestNewRecordFlattens(t *testing.T) {
	st, req := terminal("a1", session.PhaseSucceeded, time.Now())
	rec := NewRecord(st, req)
	assert.Equal(t, 3, rec.Retries)
	assert.Equal(t, 2, rec.Passengers)
	assert.Equal(t, "3A", rec.TravelClass)
	assert.Equal(t, "4521896370", rec.PNR)
}

func TestArchiveAndRecent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	st, req := terminal("older", session.PhaseFailed, now.Add(-time.Hour))
	st.Reason = session.ReasonCheckpointTimeout
	require.NoError(t, s.Archive(ctx, st, req))
	st, req = terminal("newer", session.PhaseSucceeded, now)
	require.NoError(t, s.Archive(ctx, st, req))

	// attempt ids are unique
	assert.Error(t, s.Archive(ctx, st, req))

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "newer", recs[0].AttemptID)
	assert.Equal(t, "checkpoint_timeout", recs[1].Reason)
}

func TestSubscriptionsUpsert(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSubscription(ctx, PushSubscription{Endpoint: "https://push/1", P256DH: "k1", Auth: "a1", OperatorID: 1}))
	require.NoError(t, s.SaveSubscription(ctx, PushSubscription{Endpoint: "https://push/1", P256DH: "k2", Auth: "a2", OperatorID: 1}))

	subs, err := s.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256DH)

	require.NoError(t, s.DeleteSubscription(ctx, "https://push/1"))
	subs, err = s.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestArchiveInsertFailure(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "attempt_records"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	st, req := terminal("a1", session.PhaseFailed, time.Now())
	err := s.Archive(context.Background(), st, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a1")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
