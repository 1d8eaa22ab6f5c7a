package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SamirTalwar/sandcastles/internal/api"
	"github.com/SamirTalwar/sandcastles/internal/engine"
)

// client talks to a running daemon's control API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	base := strings.TrimSpace(addr)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{
		base: strings.TrimRight(base, "/"),
		// requests are bounded by the command context, not a flat timeout;
		// starting a service legitimately blocks until readiness
		http: &http.Client{},
	}
}

func (c *client) status(ctx stdcontext.Context) (*api.StatusReport, error) {
	var report api.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *client) startService(ctx stdcontext.Context, req api.StartServiceRequest) (engine.ServiceStatus, error) {
	var resp struct {
		Service engine.ServiceStatus `json:"service"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/services", req, &resp)
	return resp.Service, err
}

func (c *client) stopService(ctx stdcontext.Context, ref string) (engine.ServiceStatus, error) {
	var resp struct {
		Service engine.ServiceStatus `json:"service"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/v1/services/"+ref, nil, &resp)
	return resp.Service, err
}

func (c *client) openScope(ctx stdcontext.Context) (engine.ScopeStatus, error) {
	var resp struct {
		Scope engine.ScopeStatus `json:"scope"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/scopes", nil, &resp)
	return resp.Scope, err
}

func (c *client) closeScope(ctx stdcontext.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/scopes/"+id, nil, nil)
}

// eventsURL derives the WebSocket endpoint from the API base.
func (c *client) eventsURL() string {
	url := c.base + "/api/v1/events"
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

func (c *client) do(ctx stdcontext.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return fmt.Errorf("%s", body.Message)
}
