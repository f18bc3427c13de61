package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// apiClient talks to a running server on behalf of the book, schedule and
// checkpoint commands.
type apiClient struct {
	base string
	http *http.Client
}

type clientFlags struct {
	server   string
	username string
}

func (cf *clientFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cf.server, "server", envOr("TATKAL_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&cf.username, "username", os.Getenv("TATKAL_USER"), "operator username (password from TATKAL_PASSWORD)")
}

// connect logs in and returns a client carrying the session cookie.
func (cf *clientFlags) connect(ctx context.Context) (*apiClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &apiClient{
		base: strings.TrimRight(cf.server, "/"),
		http: &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}
	password := os.Getenv("TATKAL_PASSWORD")
	if cf.username == "" || password == "" {
		return nil, fmt.Errorf("--username (or TATKAL_USER) and TATKAL_PASSWORD are required")
	}
	if err := c.do(ctx, http.MethodPost, "/login", map[string]string{"username": cf.username, "password": password}, nil); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
