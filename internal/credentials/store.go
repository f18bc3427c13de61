package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/tatkal-scheduler/internal/db"
)

var ErrNotFound = errors.New("credential not found")

// Store keeps portal logins in portal_credentials. Passwords are sealed
// with the AEAD and only ever decrypted by Get.
type Store struct {
	DB   db.Querier
	AEAD *AEAD
}

// Ref is a credential row without its secret.
type Ref struct {
	Ref       string    `json:"ref"`
	Username  string    `json:"username"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) Put(ctx context.Context, ref, username string, password []byte) error {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.TrimSpace(username) == "" || len(password) == 0 {
		return errors.New("ref, username and password are required")
	}
	sealed, err := s.AEAD.Seal(password, ref)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	return s.DB.Exec(ctx, `
		INSERT INTO portal_credentials (ref, username, password_enc)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO UPDATE
		SET username=EXCLUDED.username, password_enc=EXCLUDED.password_enc, updated_at=now()
	`, ref, username, sealed)
}

// Get decrypts the credential for ref. The caller must Wipe the result.
func (s *Store) Get(ctx context.Context, ref string) (*Secret, error) {
	var username, sealed string
	err := s.DB.QueryRow(ctx, `SELECT username, password_enc FROM portal_credentials WHERE ref=$1`, ref).
		Scan(&username, &sealed)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, db.WrapNotFound(err)
	}
	pw, err := s.AEAD.Open(sealed, ref)
	if err != nil {
		return nil, fmt.Errorf("open credential %s: %w", ref, err)
	}
	sec := &Secret{Ref: ref, Username: username, password: pw}
	return sec, nil
}

func (s *Store) List(ctx context.Context) ([]Ref, error) {
	rows, err := s.DB.Query(ctx, `SELECT ref, username, updated_at FROM portal_credentials ORDER BY ref`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.Ref, &r.Username, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	return s.DB.Exec(ctx, `DELETE FROM portal_credentials WHERE ref=$1`, ref)
}
