package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mosberg/entomology/internal/integration"
)

const defaultClientTimeout = 10 * time.Second

// Client calls the admin endpoints of a running process.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts either host:port or a full http URL.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: defaultClientTimeout}}
}

func (c *Client) Reload(ctx context.Context) error {
	var out StatusResponse
	_, err := c.do(ctx, http.MethodPost, "/admin/reload", &out)
	return err
}

func (c *Client) Stats(ctx context.Context) (integration.Stats, error) {
	var out integration.Stats
	_, err := c.do(ctx, http.MethodGet, "/admin/stats", &out)
	return out, err
}

// Validate returns the report for both valid and invalid configuration.
func (c *Client) Validate(ctx context.Context) (integration.Report, error) {
	var out integration.Report
	status, err := c.do(ctx, http.MethodGet, "/admin/validate", &out)
	if status == http.StatusUnprocessableEntity {
		return out, nil
	}
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
		if resp.StatusCode == http.StatusOK {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("%w: %s %s: %d", ErrRequestFailed, method, path, resp.StatusCode)
	}

	var e ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return resp.StatusCode, fmt.Errorf("%w: %s (%s)", ErrRequestFailed, e.Error, e.Code)
	}
	return resp.StatusCode, fmt.Errorf("%w: %s %s: %d", ErrRequestFailed, method, path, resp.StatusCode)
}
