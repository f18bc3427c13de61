package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tatkal-scheduler/internal/db"
)

type fakeRow struct {
	v   bool
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.v
	return nil
}

type fakeQuerier struct {
	applied map[string]bool
	execs   []string
	failOn  string
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) error {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return errors.New("boom")
	}
	f.execs = append(f.execs, sql)
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		f.applied[args[0].(string)] = true
	}
	return nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) db.Row {
	return fakeRow{v: f.applied[args[0].(string)]}
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (db.Rows, error) {
	return nil, errors.New("not used")
}

func TestFilesSorted(t *testing.T) {
	files, err := Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_operators.sql", "0002_credentials.sql", "0003_booking_templates.sql"}, files)
}

func TestUpAppliesOnce(t *testing.T) {
	q := &fakeQuerier{applied: map[string]bool{"0001_operators.sql": true}}

	applied, err := Up(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_credentials.sql", "0003_booking_templates.sql"}, applied)

	applied, err = Up(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestUpStopsOnFailure(t *testing.T) {
	q := &fakeQuerier{applied: map[string]bool{}, failOn: "portal_credentials"}

	applied, err := Up(context.Background(), q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply 0002_credentials.sql")
	assert.Equal(t, []string{"0001_operators.sql"}, applied)
}
