package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tatkal-scheduler/internal/booking"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParsePassenger(t *testing.T) {
	p, err := parsePassenger("Asha Rao, 34, f, lb")
	require.NoError(t, err)
	assert.Equal(t, booking.Passenger{Name: "Asha Rao", Age: 34, Gender: booking.GenderFemale, Berth: booking.BerthLower}, p)

	p, err = parsePassenger("Ravi,60,M")
	require.NoError(t, err)
	assert.Equal(t, booking.BerthNone, p.Berth)

	for _, bad := range []string{"Ravi", "Ravi,old,M", "Ravi,0,M", "Ravi,30,X", "Ravi,30,M,XX", "a,1,M,LB,extra"} {
		_, err := parsePassenger(bad)
		assert.Error(t, err, bad)
	}
}

func TestRequestFlags(t *testing.T) {
	rf := requestFlags{
		date:       "2025-03-15",
		from:       "ndls ",
		to:         "bct",
		class:      "3a",
		train:      "12952",
		passengers: []string{"Asha,34,F,LB", "Ravi,60,M"},
		credential: "primary",
		gateway:    "phonepe",
		upiID:      "asha@okaxis",
		insurance:  true,
	}
	req, err := rf.request()
	require.NoError(t, err)
	assert.Equal(t, "NDLS", req.Journey.Origin)
	assert.Equal(t, booking.ClassThirdAC, req.Journey.Class)
	assert.Len(t, req.Passengers, 2)
	assert.Equal(t, "PHONEPE", req.Payment.Gateway)
	assert.True(t, req.TravelInsurance)

	body, err := rf.body()
	require.NoError(t, err)
	assert.Contains(t, body, "request")

	rf.template = "weekly"
	body, err = rf.body()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"template": "weekly", "date": "2025-03-15"}, body)

	rf = requestFlags{date: "15/03/2025"}
	_, err = rf.request()
	assert.Error(t, err)

	rf = requestFlags{date: "2025-03-15", from: "NDLS", to: "NDLS", class: "3A", credential: "c"}
	_, err = rf.request()
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
}

func TestTatkalTimeCommand(t *testing.T) {
	t.Setenv("TATKAL_AC_TIME", "")
	t.Setenv("TATKAL_NON_AC_TIME", "")

	out, err := run(t, "tatkal-time", "--date", "2025-03-15", "--class", "3A")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14T10:00:00+05:30\n", out)

	out, err = run(t, "tatkal-time", "--date", "2025-03-15", "--class", "sl")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14T11:00:00+05:30\n", out)

	_, err = run(t, "tatkal-time", "--date", "tomorrow")
	assert.Error(t, err)
}

func TestKeysCommand(t *testing.T) {
	out, err := run(t, "keys")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	for _, l := range lines[:3] {
		_, v, ok := strings.Cut(strings.TrimPrefix(l, "export "), "=")
		require.True(t, ok, l)
		b, err := base64.StdEncoding.DecodeString(v)
		require.NoError(t, err)
		assert.Len(t, b, 32)
	}
	assert.True(t, strings.HasPrefix(lines[3], "export VAPID_PUBLIC_KEY="))
	assert.True(t, strings.HasPrefix(lines[4], "export VAPID_PRIVATE_KEY="))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tatkalsched dev"))
}

func TestAPIClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/bookings", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "another booking attempt is already running"})
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"phase": "idle"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("TATKAL_PASSWORD", "pw")
	cf := clientFlags{server: srv.URL + "/", username: "ops"}
	c, err := cf.connect(context.Background())
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/api/status", nil, &st))
	assert.Equal(t, "idle", st["phase"])

	err = c.do(context.Background(), http.MethodPost, "/api/bookings", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "already running")

	t.Setenv("TATKAL_PASSWORD", "")
	_, err = cf.connect(context.Background())
	assert.Error(t, err)
}
