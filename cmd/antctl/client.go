package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meridianspace/antdeploy/internal/ants"
	"github.com/meridianspace/antdeploy/internal/httputil"
)

// Client speaks to the antsd HTTP API.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient builds a client for the daemon at baseURL. A nil HTTPClient
// gets a standard client with a timeout long enough for a deploy request
// to block through a full retry cycle.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Minute})
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// runResult mirrors the daemon's response for finished deployment runs.
type runResult struct {
	Outcome  string             `json:"outcome"`
	Channel  uint8              `json:"channel"`
	State    string             `json:"state"`
	Attempts uint32             `json:"attempts"`
	Channels []ants.ChannelInfo `json:"channels"`
	Error    string             `json:"error"`
}

type deployPayload struct {
	Channel uint8  `json:"channel,omitempty"`
	Mode    string `json:"mode,omitempty"`
	BurnMs  int    `json:"burn_ms,omitempty"`
}

type channelPayload struct {
	Channel uint8 `json:"channel"`
}

// Status fetches the merged channel and link status. With refresh the
// daemon polls the controller before answering.
func (c *Client) Status(refresh bool) (ants.SystemStatus, error) {
	path := "/api/status"
	if refresh {
		path += "?refresh=1"
	}
	var status ants.SystemStatus
	err := c.get(path, &status)
	return status, err
}

// Deploy asks the daemon to release one channel and blocks until the run
// finishes.
func (c *Client) Deploy(ch uint8, mode string, burn time.Duration) (runResult, error) {
	var result runResult
	err := c.post("/api/deploy", deployPayload{
		Channel: ch,
		Mode:    mode,
		BurnMs:  int(burn.Milliseconds()),
	}, &result)
	return result, err
}

// DeployAll releases every stowed channel in one run.
func (c *Client) DeployAll(burn time.Duration) (runResult, error) {
	var result runResult
	err := c.post("/api/deploy-all", deployPayload{
		BurnMs: int(burn.Milliseconds()),
	}, &result)
	return result, err
}

// Abort requests a cooperative stop of the channel's active deployment.
func (c *Client) Abort(ch uint8) error {
	return c.post("/api/abort", channelPayload{Channel: ch}, nil)
}

// Reset returns a channel in a terminal error or aborted state to stowed.
func (c *Client) Reset(ch uint8) error {
	return c.post("/api/reset", channelPayload{Channel: ch}, nil)
}

// Disarm clears the controller's armed override.
func (c *Client) Disarm() error {
	return c.post("/api/override/disable", nil, nil)
}

// Telemetry fetches the controller's lifetime telemetry.
func (c *Client) Telemetry() (ants.Telemetry, error) {
	var tel ants.Telemetry
	err := c.get("/api/telemetry", &tel)
	return tel, err
}

// History lists the most recent deployment runs, newest first.
func (c *Client) History(limit int) ([]ants.DeploymentRecord, error) {
	var runs []ants.DeploymentRecord
	err := c.get(fmt.Sprintf("/api/history?limit=%d", limit), &runs)
	return runs, err
}

func (c *Client) get(path string, dst interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

func (c *Client) post(path string, payload, dst interface{}) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Error responses carry {"error": "..."}.
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", http.StatusText(resp.StatusCode), apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
