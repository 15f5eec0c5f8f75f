package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/meridianspace/antdeploy/internal/ants"
	"github.com/meridianspace/antdeploy/internal/httputil"
)

func newMockedClient() (*Client, *httputil.MockHTTPClient) {
	mock := httputil.NewMockHTTPClient()
	return NewClient("http://daemon.local:8617", mock), mock
}

func decodeRequestBody(t *testing.T, req *http.Request, dst interface{}) {
	t.Helper()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("failed to read request body: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("failed to decode request body %q: %v", data, err)
	}
}

func TestClientStatus(t *testing.T) {
	client, mock := newMockedClient()

	want := ants.SystemStatus{
		LinkUp: true,
		Armed:  true,
	}
	want.Channels[1] = ants.ChannelInfo{ID: 2, State: ants.StateDeployed, AttemptCount: 1}
	want.Released[1] = true
	body, _ := json.Marshal(want)
	mock.AddResponse(http.StatusOK, string(body))

	status, err := client.Status(false)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.LinkUp || !status.Armed {
		t.Errorf("got link=%v armed=%v, want both true", status.LinkUp, status.Armed)
	}
	if status.Channels[1].State != ants.StateDeployed {
		t.Errorf("got channel 2 state %s, want deployed", status.Channels[1].State)
	}

	req := mock.Requests[0]
	if req.Method != http.MethodGet || req.URL.Path != "/api/status" {
		t.Errorf("got %s %s, want GET /api/status", req.Method, req.URL.Path)
	}
	if req.URL.RawQuery != "" {
		t.Errorf("got query %q, want none without refresh", req.URL.RawQuery)
	}

	mock.AddResponse(http.StatusOK, string(body))
	if _, err := client.Status(true); err != nil {
		t.Fatalf("Status with refresh failed: %v", err)
	}
	if got := mock.Requests[1].URL.RawQuery; got != "refresh=1" {
		t.Errorf("got query %q, want refresh=1", got)
	}
}

func TestClientDeploy(t *testing.T) {
	client, mock := newMockedClient()
	mock.AddResponse(http.StatusOK, `{"outcome":"deployed","channel":2,"state":"deployed","attempts":1}`)

	result, err := client.Deploy(2, "manual", 8*time.Second)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if result.Outcome != "deployed" || result.Attempts != 1 {
		t.Errorf("got outcome=%q attempts=%d, want deployed/1", result.Outcome, result.Attempts)
	}

	req := mock.Requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/api/deploy" {
		t.Errorf("got %s %s, want POST /api/deploy", req.Method, req.URL.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("got content type %q, want application/json", ct)
	}

	var payload map[string]interface{}
	decodeRequestBody(t, req, &payload)
	if payload["channel"] != float64(2) {
		t.Errorf("got channel %v, want 2", payload["channel"])
	}
	if payload["mode"] != "manual" {
		t.Errorf("got mode %v, want manual", payload["mode"])
	}
	if payload["burn_ms"] != float64(8000) {
		t.Errorf("got burn_ms %v, want 8000", payload["burn_ms"])
	}
}

func TestClientDeployAllOmitsDefaults(t *testing.T) {
	client, mock := newMockedClient()
	mock.AddResponse(http.StatusOK, `{"outcome":"deployed"}`)

	if _, err := client.DeployAll(0); err != nil {
		t.Fatalf("DeployAll failed: %v", err)
	}

	var payload map[string]interface{}
	decodeRequestBody(t, mock.Requests[0], &payload)
	if len(payload) != 0 {
		t.Errorf("got payload %v, want empty object with zero burn", payload)
	}
}

func TestClientAbort(t *testing.T) {
	client, mock := newMockedClient()
	mock.AddResponse(http.StatusOK, `{"status":"abort requested","channel":3}`)

	if err := client.Abort(3); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	var payload channelPayload
	decodeRequestBody(t, mock.Requests[0], &payload)
	if payload.Channel != 3 {
		t.Errorf("got channel %d, want 3", payload.Channel)
	}
}

func TestClientHistory(t *testing.T) {
	client, mock := newMockedClient()
	mock.AddResponse(http.StatusOK, `[{"run_id":"r1","operation":"deploy","channel":1,"mode":"automatic","attempts":1,"outcome":"deployed"}]`)

	runs, err := client.History(5)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Outcome != "deployed" {
		t.Fatalf("got runs %+v, want one deployed run", runs)
	}
	if got := mock.Requests[0].URL.RawQuery; got != "limit=5" {
		t.Errorf("got query %q, want limit=5", got)
	}
}

func TestClientAPIError(t *testing.T) {
	client, mock := newMockedClient()
	mock.AddResponse(http.StatusConflict, `{"error":"ants: deployment already in progress"}`)

	_, err := client.Deploy(1, "", 0)
	if err == nil {
		t.Fatal("expected an error for a 409 response")
	}
	if !strings.Contains(err.Error(), "already in progress") {
		t.Errorf("got error %q, want the daemon's message in it", err)
	}
}

func TestClientTransportError(t *testing.T) {
	client, mock := newMockedClient()
	wantErr := errors.New("connection refused")
	mock.AddErrorResponse(wantErr)

	_, err := client.Status(false)
	if !errors.Is(err, wantErr) {
		t.Errorf("got error %v, want it to wrap %v", err, wantErr)
	}
}
