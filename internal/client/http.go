package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/drivecam/relay/internal/status"
)

// StatusMsg delivers a /api/status report, or the error fetching it.
type StatusMsg struct {
	Report *status.Report
	Err    error
}

// HTTPClient reads the hub's REST endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient targets a base URL such as "http://127.0.0.1:4001".
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, client: &http.Client{Timeout: 5 * time.Second}}
}

func (c *HTTPClient) Status(ctx context.Context) (*status.Report, error) {
	var rep status.Report
	if err := c.get(ctx, "/api/status", &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// FetchStatus wraps Status as a command.
func (c *HTTPClient) FetchStatus(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		rep, err := c.Status(ctx)
		return StatusMsg{Report: rep, Err: err}
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
