// Package api exposes the deployment driver over HTTP. Deploy requests
// block until the run finishes and report its outcome; status and
// telemetry reads return the driver's current view of the controller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/meridianspace/antdeploy/internal/ants"
	"github.com/meridianspace/antdeploy/internal/buslink"
	"github.com/meridianspace/antdeploy/internal/frame"
	"github.com/meridianspace/antdeploy/internal/httputil"
	"github.com/meridianspace/antdeploy/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the driver surface the API serves. *ants.Driver
// implements it; tests substitute fakes.
type Controller interface {
	Deploy(ctx context.Context, ch uint8, mode ants.DeployMode, burn time.Duration) error
	DeployAll(ctx context.Context, burn time.Duration) error
	Abort(ch uint8) error
	ResetChannel(ch uint8) error
	DisableArmOverride(ctx context.Context) error
	Status() ants.SystemStatus
	PollOnce(ctx context.Context) (ants.Snapshot, error)
	Telemetry(ctx context.Context) (ants.Telemetry, error)
}

// History lists recorded deployment runs. *history.Store implements it.
type History interface {
	Runs(limit int) ([]ants.DeploymentRecord, error)
}

// Server routes HTTP requests to the deployment controller.
type Server struct {
	ctrl    Controller
	history History
}

// NewServer creates a Server over the given controller. A nil history
// disables the run listing endpoint.
func NewServer(ctrl Controller, history History) *Server {
	return &Server{
		ctrl:    ctrl,
		history: history,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table for the deployment API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/deploy", s.handleDeploy)
	mux.HandleFunc("/api/deploy-all", s.handleDeployAll)
	mux.HandleFunc("/api/abort", s.handleAbort)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/override/disable", s.handleOverrideDisable)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	return mux
}

type deployRequest struct {
	Channel uint8  `json:"channel"`
	Mode    string `json:"mode"`
	BurnMs  int    `json:"burn_ms"`
}

type deployAllRequest struct {
	BurnMs int `json:"burn_ms"`
}

type channelRequest struct {
	Channel uint8 `json:"channel"`
}

// runResponse reports the outcome of a finished deployment run.
type runResponse struct {
	Outcome  string             `json:"outcome"`
	Channel  uint8              `json:"channel,omitempty"`
	State    string             `json:"state,omitempty"`
	Attempts uint32             `json:"attempts,omitempty"`
	Channels []ants.ChannelInfo `json:"channels,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	mode, err := ants.ParseMode(req.Mode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.BurnMs < 0 {
		httputil.BadRequest(w, "burn_ms must not be negative")
		return
	}

	runErr := s.ctrl.Deploy(r.Context(), req.Channel, mode, time.Duration(req.BurnMs)*time.Millisecond)
	if !runFinished(runErr) {
		s.writeCommandError(w, runErr)
		return
	}

	info := s.ctrl.Status().Channels[req.Channel-1]
	resp := runResponse{
		Outcome:  ants.RunOutcome(runErr),
		Channel:  req.Channel,
		State:    info.State.String(),
		Attempts: info.AttemptCount,
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleDeployAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	// An empty body deploys everything with the default burn.
	var req deployAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.BurnMs < 0 {
		httputil.BadRequest(w, "burn_ms must not be negative")
		return
	}

	runErr := s.ctrl.DeployAll(r.Context(), time.Duration(req.BurnMs)*time.Millisecond)
	if !runFinished(runErr) {
		s.writeCommandError(w, runErr)
		return
	}

	channels := s.ctrl.Status().Channels
	resp := runResponse{
		Outcome:  ants.RunOutcome(runErr),
		Channels: channels[:],
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.ctrl.Abort(req.Channel); err != nil {
		s.writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "abort requested",
		"channel": req.Channel,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.ctrl.ResetChannel(req.Channel); err != nil {
		s.writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "reset",
		"channel": req.Channel,
	})
}

func (s *Server) handleOverrideDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if err := s.ctrl.DisableArmOverride(r.Context()); err != nil {
		s.writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "armed override disabled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	// refresh=1 polls the controller now instead of serving the cached
	// snapshot from the background cadence.
	if refresh := r.URL.Query().Get("refresh"); refresh != "" && refresh != "0" {
		if _, err := s.ctrl.PollOnce(r.Context()); err != nil {
			s.writeCommandError(w, err)
			return
		}
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	tel, err := s.ctrl.Telemetry(r.Context())
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, tel)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "history not configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.history.Runs(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []ants.DeploymentRecord{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "ok",
		"version": version.String(),
		"link_up": s.ctrl.Status().LinkUp,
	})
}

// runFinished reports whether a deployment run actually ran to an end
// state. Anything else is a rejection or a failure to talk to the
// controller and maps to an error status instead of an outcome.
func runFinished(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, ants.ErrAborted) || errors.Is(err, ants.ErrRetriesExhausted)
}

// writeCommandError maps driver errors onto HTTP statuses. Collisions
// with a running deployment are conflicts, operator mistakes are bad
// requests, a dead link is service unavailable, and a controller that
// cannot be talked to is a bad gateway.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ants.ErrAlreadyInProgress):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, ants.ErrUnknownChannel),
		errors.Is(err, ants.ErrInvalidState),
		errors.Is(err, ants.ErrBurnDuration):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, ants.ErrLinkDown):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, buslink.ErrTimeout),
		errors.Is(err, buslink.ErrLink),
		errors.Is(err, frame.ErrProtocol),
		errors.Is(err, ants.ErrRejected):
		httputil.BadGateway(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}
