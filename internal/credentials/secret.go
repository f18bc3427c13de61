// Package credentials stores portal logins encrypted at rest and hands them
// out decrypted, on demand, for the duration of one login.
package credentials

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Secret is a decrypted portal login. The password lives in a byte slice so
// Wipe can zero it once the login form is filled.
type Secret struct {
	Ref      string
	Username string
	password []byte
}

func NewSecret(ref, username string, password []byte) *Secret {
	return &Secret{Ref: ref, Username: username, password: append([]byte(nil), password...)}
}

// Password returns the live password bytes. The slice is zeroed by Wipe.
func (s *Secret) Password() []byte { return s.password }

// Wipe zeroes the password. Safe to call more than once.
func (s *Secret) Wipe() {
	clear(s.password)
	s.password = nil
}

// Wiped reports whether Wipe has been called.
func (s *Secret) Wiped() bool { return s.password == nil }

func (s *Secret) String() string {
	return fmt.Sprintf("credential(%s user=%s password=[redacted])", s.Ref, maskUser(s.Username))
}

func (s *Secret) MarshalZerologObject(e *zerolog.Event) {
	e.Str("ref", s.Ref).Str("user", maskUser(s.Username)).Str("password", "[redacted]")
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"ref": s.Ref, "user": maskUser(s.Username), "password": "[redacted]"})
}

func maskUser(u string) string {
	if len(u) <= 2 {
		return "**"
	}
	return u[:2] + "***"
}
