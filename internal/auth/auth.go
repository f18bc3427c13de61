// Package auth handles operator login: bcrypt password hashes in Postgres
// and a signed, encrypted session cookie.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/tatkal-scheduler/internal/db"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	cookieName    = "tatkalsched_session"
	sessionMaxAge = 14 * 24 * time.Hour
	operatorKey   = "operatorID"
)

var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("no-such-operator")
	return h
})

type Store struct {
	sc *securecookie.SecureCookie
	db db.Querier
}

func NewStore(q db.Querier, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionMaxAge.Seconds()))
	return &Store{sc: sc, db: q}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (s *Store) CreateOperator(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return errors.New("username required and password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `INSERT INTO operators(username, password_hash) VALUES ($1,$2)`, username, []byte(hash))
}

// Authenticate returns the operator id for a valid username and password.
func (s *Store) Authenticate(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash []byte
	err := s.db.QueryRow(ctx, `SELECT id, password_hash FROM operators WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		if db.IsNotFound(err) {
			// same answer, and roughly the same time, as a wrong password
			CheckPassword(dummyHash(), password)
			return 0, ErrInvalidCredentials
		}
		return 0, db.WrapNotFound(err)
	}
	if !CheckPassword(string(hash), password) {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

type Session struct {
	OperatorID int64
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, operatorID int64) error {
	encoded, err := s.sc.Encode(cookieName, map[string]int64{"oid": operatorID, "v": 1})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	val := map[string]int64{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	oid := val["oid"]
	if oid <= 0 {
		return Session{}, false
	}
	return Session{OperatorID: oid}, true
}

// RequireAuth rejects requests without a valid session cookie.
func (s *Store) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.GetSession(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		c.Set(operatorKey, sess.OperatorID)
		c.Next()
	}
}

// OperatorID returns the operator of an authenticated request.
func OperatorID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(operatorKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
