// Package ants drives the antenna deployment controller. It layers a
// retrying deployment sequencer, a background status poller, and a
// driver facade over the shared bus link, and owns the channel state
// machine: Stowed, Arming, Deploying, Deployed, Error, Aborted.
package ants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/meridianspace/antdeploy/internal/frame"
)

// ChannelCount is the number of deployable antenna channels.
const ChannelCount = frame.Channels

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// but may be replaced by SetLogger. Tests or production code can redirect
// or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	// ErrAlreadyInProgress rejects a deployment or reset that collides
	// with one already running on the same channel.
	ErrAlreadyInProgress = errors.New("ants: deployment already in progress")

	// ErrRetriesExhausted reports a deployment that failed its final
	// permitted attempt.
	ErrRetriesExhausted = errors.New("ants: deploy retries exhausted")

	// ErrAborted reports a deployment stopped by an abort request.
	ErrAborted = errors.New("ants: deployment aborted")

	// ErrInvalidState rejects an operation the channel's current state
	// does not allow.
	ErrInvalidState = errors.New("ants: invalid channel state")

	// ErrUnknownChannel rejects a channel number outside 1..ChannelCount.
	ErrUnknownChannel = errors.New("ants: unknown channel")

	// ErrRejected reports a command the controller refused to accept.
	ErrRejected = errors.New("ants: command rejected by controller")

	// ErrLinkDown reports that consecutive poll failures crossed the
	// configured threshold.
	ErrLinkDown = errors.New("ants: link down")

	// ErrBurnDuration rejects a burn duration outside the allowed range.
	ErrBurnDuration = errors.New("ants: burn duration out of range")
)

// DeployState is the sequencer's state for one channel.
type DeployState uint8

const (
	StateStowed DeployState = iota
	StateArming
	StateDeploying
	StateDeployed
	StateError
	StateAborted
)

// Terminal reports whether the state ends a deployment run. Terminal
// channels stay put until an operator resets them.
func (s DeployState) Terminal() bool {
	switch s {
	case StateDeployed, StateError, StateAborted:
		return true
	}
	return false
}

func (s DeployState) String() string {
	switch s {
	case StateStowed:
		return "stowed"
	case StateArming:
		return "arming"
	case StateDeploying:
		return "deploying"
	case StateDeployed:
		return "deployed"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalJSON renders the state as its name so API clients never see the
// numeric value.
func (s DeployState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the state name produced by MarshalJSON.
func (s *DeployState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []DeployState{
		StateStowed, StateArming, StateDeploying,
		StateDeployed, StateError, StateAborted,
	} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown deploy state %q", name)
}

// DeployMode selects how the controller treats channels that already
// read released.
type DeployMode uint8

const (
	// ModeAutomatic skips a channel whose release switch is already open.
	ModeAutomatic DeployMode = iota

	// ModeManual burns regardless of what the release switch reads.
	ModeManual
)

func (m DeployMode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "automatic"
}

func (m DeployMode) wire() byte {
	if m == ModeManual {
		return frame.ModeManual
	}
	return frame.ModeAutomatic
}

// ParseMode maps mode strings from the API onto DeployMode. An empty
// string selects automatic.
func ParseMode(s string) (DeployMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "automatic", "auto":
		return ModeAutomatic, nil
	case "manual", "override":
		return ModeManual, nil
	}
	return ModeAutomatic, fmt.Errorf("unknown deploy mode %q", s)
}

// ChannelInfo is a snapshot of one channel's sequencer state.
type ChannelInfo struct {
	ID           uint8       `json:"id"`
	State        DeployState `json:"state"`
	AttemptCount uint32      `json:"attempt_count"`
	LastAttempt  time.Time   `json:"last_attempt,omitzero"`
}

// Snapshot is the result of one successful status poll.
type Snapshot struct {
	Armed          bool               `json:"armed"`
	Released       [ChannelCount]bool `json:"released"`
	Burning        [ChannelCount]bool `json:"burning"`
	RawTemperature uint16             `json:"raw_temperature"`
	SampledAt      time.Time          `json:"sampled_at"`
}

// SystemStatus merges the sequencer's channel states with the latest
// device snapshot. SampledAt is zero until the first successful poll.
type SystemStatus struct {
	LinkUp         bool                      `json:"link_up"`
	Armed          bool                      `json:"armed"`
	Channels       [ChannelCount]ChannelInfo `json:"channels"`
	Released       [ChannelCount]bool        `json:"released"`
	Burning        [ChannelCount]bool        `json:"burning"`
	RawTemperature uint16                    `json:"raw_temperature"`
	SampledAt      time.Time                 `json:"sampled_at,omitzero"`
}

// Telemetry is the controller's lifetime telemetry. ActivationTime is
// cumulative burn seconds per channel.
type Telemetry struct {
	RawTemperature  uint16               `json:"raw_temperature"`
	UptimeSeconds   uint32               `json:"uptime_seconds"`
	ActivationCount [ChannelCount]uint8  `json:"activation_count"`
	ActivationTime  [ChannelCount]uint16 `json:"activation_time_s"`
	SampledAt       time.Time            `json:"sampled_at"`
}

// Exchanger is the transport surface the sequencer and poller need.
type Exchanger interface {
	// Exchange writes one command frame and returns the raw response.
	Exchange(ctx context.Context, req []byte) ([]byte, error)
}

func channelIndex(ch uint8) (int, error) {
	if ch < 1 || ch > ChannelCount {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}
	return int(ch) - 1, nil
}

// roundTrip sends cmd and returns the decoded response after checking
// that it answers the request opcode.
func roundTrip(ctx context.Context, link Exchanger, cmd frame.Frame) (frame.Frame, error) {
	req, err := frame.Encode(cmd)
	if err != nil {
		return frame.Frame{}, err
	}
	raw, err := link.Exchange(ctx, req)
	if err != nil {
		return frame.Frame{}, err
	}
	resp, err := frame.Decode(raw)
	if err != nil {
		return frame.Frame{}, err
	}
	if !resp.IsResponse() || resp.Request() != cmd.Opcode {
		return frame.Frame{}, fmt.Errorf("%w: %v answered by %v", frame.ErrProtocol, cmd.Opcode, resp.Opcode)
	}
	return resp, nil
}

// sendCommand issues cmd and checks that the controller accepted it.
func sendCommand(ctx context.Context, link Exchanger, cmd frame.Frame) error {
	resp, err := roundTrip(ctx, link, cmd)
	if err != nil {
		return err
	}
	code, err := frame.ParseAck(resp.Payload)
	if err != nil {
		return err
	}
	if code != frame.AckOK {
		return fmt.Errorf("%w: %v ack 0x%02X", ErrRejected, cmd.Opcode, code)
	}
	return nil
}

func queryStatus(ctx context.Context, link Exchanger) (frame.StatusReport, error) {
	resp, err := roundTrip(ctx, link, frame.NewQueryStatus())
	if err != nil {
		return frame.StatusReport{}, err
	}
	return frame.ParseStatusReport(resp.Payload)
}

func queryTelemetry(ctx context.Context, link Exchanger) (frame.TelemetryReport, error) {
	resp, err := roundTrip(ctx, link, frame.NewQueryTelemetry())
	if err != nil {
		return frame.TelemetryReport{}, err
	}
	return frame.ParseTelemetryReport(resp.Payload)
}
