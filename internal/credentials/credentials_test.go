package credentials

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tatkal-scheduler/internal/db"
)

func testAEAD(t *testing.T) *AEAD {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	a, err := NewAEAD(key)
	require.NoError(t, err)
	return a
}

func TestAEADBindsRef(t *testing.T) {
	a := testAEAD(t)
	sealed, err := a.Seal([]byte("hunter2"), "primary")
	require.NoError(t, err)

	pt, err := a.Open(sealed, "primary")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), pt)

	_, err = a.Open(sealed, "other")
	assert.Error(t, err)

	_, err = a.Open("AAA", "primary")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSecretNeverPrintsPassword(t *testing.T) {
	s := NewSecret("primary", "asharao", []byte("hunter2"))

	assert.NotContains(t, s.String(), "hunter2")
	assert.NotContains(t, s.String(), "asharao")

	var buf bytes.Buffer
	zerolog.New(&buf).Info().Object("cred", s).Msg("x")
	assert.NotContains(t, buf.String(), "hunter2")

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
}

func TestSecretWipeZeroesBytes(t *testing.T) {
	s := NewSecret("primary", "asharao", []byte("hunter2"))
	pw := s.Password()
	s.Wipe()
	assert.Equal(t, make([]byte, 7), pw)
	assert.True(t, s.Wiped())
	s.Wipe()
}

type row struct {
	vals []string
	err  error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*string)) = r.vals[i]
	}
	return nil
}

type fakeDB struct {
	rows map[string][]string
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) error {
	f.rows[args[0].(string)] = []string{args[1].(string), args[2].(string)}
	return nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) db.Row {
	v, ok := f.rows[args[0].(string)]
	if !ok {
		return row{err: pgx.ErrNoRows}
	}
	return row{vals: v}
}

func (f *fakeDB) Query(context.Context, string, ...any) (db.Rows, error) {
	return nil, errors.New("not used")
}

func TestStorePutGet(t *testing.T) {
	a := testAEAD(t)
	fdb := &fakeDB{rows: map[string][]string{}}
	s := &Store{DB: fdb, AEAD: a}
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "primary", "asharao", []byte("hunter2")))
	assert.NotContains(t, fdb.rows["primary"][1], "hunter2")

	sec, err := s.Get(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, "asharao", sec.Username)
	assert.Equal(t, []byte("hunter2"), sec.Password())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Put(ctx, "", "u", []byte("p")))
}
