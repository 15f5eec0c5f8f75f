package ants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridianspace/antdeploy/internal/buslink"
	"github.com/meridianspace/antdeploy/internal/frame"
	"github.com/meridianspace/antdeploy/internal/timeutil"
)

// DriverConfig collects the tunables for a Driver. Zero fields fall back
// to the same defaults the config package documents.
type DriverConfig struct {
	RetryCeiling      int
	DefaultBurn       time.Duration
	MaxBurn           time.Duration
	PollInterval      time.Duration
	PollCadence       time.Duration
	LinkDownThreshold int
}

func (c DriverConfig) withDefaults() DriverConfig {
	if c.DefaultBurn <= 0 {
		c.DefaultBurn = 8 * time.Second
	}
	if c.MaxBurn <= 0 {
		c.MaxBurn = 30 * time.Second
	}
	return c
}

// Recorder persists completed deployment runs. The history package
// provides the SQLite-backed implementation.
type Recorder interface {
	RecordDeployment(rec DeploymentRecord) error
}

// DeploymentRecord describes one finished deployment run.
type DeploymentRecord struct {
	RunID      string        `json:"run_id"`
	Operation  string        `json:"operation"` // "deploy" or "deploy-all"
	Channel    uint8         `json:"channel"`   // zero for deploy-all
	Mode       string        `json:"mode"`
	Burn       time.Duration `json:"burn_ns"`
	Attempts   uint32        `json:"attempts"`
	Outcome    string        `json:"outcome"` // "deployed", "aborted", "error", or "interrupted"
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Driver is the operator-facing facade over the deployment stack. It
// owns the link handle and wires the sequencer and poller to it.
type Driver struct {
	link   *buslink.Link
	seq    *Sequencer
	poller *Poller
	clock  timeutil.Clock

	defaultBurn time.Duration
	recorder    Recorder
}

// NewDriver builds a Driver over an open link. A nil clock uses the real
// one.
func NewDriver(link *buslink.Link, cfg DriverConfig, clock timeutil.Clock) *Driver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg = cfg.withDefaults()

	return &Driver{
		link:        link,
		clock:       clock,
		defaultBurn: cfg.DefaultBurn,
		seq: NewSequencer(link, SequencerConfig{
			RetryCeiling: cfg.RetryCeiling,
			PollInterval: cfg.PollInterval,
			MaxBurn:      cfg.MaxBurn,
		}, clock),
		poller: NewPoller(link, PollerConfig{
			Cadence:           cfg.PollCadence,
			LinkDownThreshold: cfg.LinkDownThreshold,
		}, clock),
	}
}

// SetRecorder attaches a deployment history recorder. Pre-flight
// rejections are not recorded; every run that starts is.
func (d *Driver) SetRecorder(r Recorder) {
	d.recorder = r
}

// Deploy releases one channel. A zero burn selects the configured
// default burn duration.
func (d *Driver) Deploy(ctx context.Context, ch uint8, mode DeployMode, burn time.Duration) error {
	if burn == 0 {
		burn = d.defaultBurn
	}
	started := d.clock.Now()
	err := d.seq.Deploy(ctx, ch, mode, burn)
	d.record("deploy", ch, mode, burn, started, err)
	return err
}

// DeployAll releases every stowed channel in one run. A zero burn
// selects the configured default burn duration.
func (d *Driver) DeployAll(ctx context.Context, burn time.Duration) error {
	if burn == 0 {
		burn = d.defaultBurn
	}
	started := d.clock.Now()
	err := d.seq.DeployAll(ctx, burn)
	d.record("deploy-all", 0, ModeAutomatic, burn, started, err)
	return err
}

// Abort requests cooperative cancellation of a channel's deployment.
func (d *Driver) Abort(ch uint8) error {
	return d.seq.Abort(ch)
}

// ResetChannel is the operator override that returns a channel to Stowed
// and zeroes its attempt counter.
func (d *Driver) ResetChannel(ch uint8) error {
	return d.seq.ResetChannel(ch)
}

// DisableArmOverride commands the controller to disarm, closing any
// armed window left open by a deployment or a ground command.
func (d *Driver) DisableArmOverride(ctx context.Context) error {
	if err := sendCommand(ctx, d.link, frame.NewOverrideDisable()); err != nil {
		return err
	}
	Logf("armed override disabled")
	return nil
}

// Status merges the sequencer's channel states with the poller's latest
// device snapshot.
func (d *Driver) Status() SystemStatus {
	st := SystemStatus{
		LinkUp:   d.poller.LinkUp(),
		Channels: d.seq.Channels(),
	}
	if snap, ok := d.poller.Latest(); ok {
		st.Armed = snap.Armed
		st.Released = snap.Released
		st.Burning = snap.Burning
		st.RawTemperature = snap.RawTemperature
		st.SampledAt = snap.SampledAt
	}
	return st
}

// Telemetry queries the controller's lifetime telemetry.
func (d *Driver) Telemetry(ctx context.Context) (Telemetry, error) {
	rep, err := queryTelemetry(ctx, d.link)
	if err != nil {
		return Telemetry{}, err
	}
	return Telemetry{
		RawTemperature:  rep.RawTemperature,
		UptimeSeconds:   rep.UptimeSeconds,
		ActivationCount: rep.ActivationCount,
		ActivationTime:  rep.ActivationTime,
		SampledAt:       d.clock.Now(),
	}, nil
}

// PollOnce triggers an immediate status poll outside the regular cadence.
func (d *Driver) PollOnce(ctx context.Context) (Snapshot, error) {
	return d.poller.PollOnce(ctx)
}

// RunPoller runs the background status poller until the context ends.
func (d *Driver) RunPoller(ctx context.Context) error {
	return d.poller.Run(ctx)
}

// Close releases the link and its port.
func (d *Driver) Close() error {
	return d.link.Close()
}

func (d *Driver) record(op string, ch uint8, mode DeployMode, burn time.Duration, started time.Time, runErr error) {
	if d.recorder == nil {
		return
	}
	switch {
	case errors.Is(runErr, ErrAlreadyInProgress),
		errors.Is(runErr, ErrUnknownChannel),
		errors.Is(runErr, ErrInvalidState),
		errors.Is(runErr, ErrBurnDuration):
		// Rejected before any attempt ran.
		return
	}

	rec := DeploymentRecord{
		RunID:      uuid.New().String(),
		Operation:  op,
		Channel:    ch,
		Mode:       mode.String(),
		Burn:       burn,
		Outcome:    RunOutcome(runErr),
		StartedAt:  started,
		FinishedAt: d.clock.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if ch != 0 {
		if info, err := d.seq.Channel(ch); err == nil {
			rec.Attempts = info.AttemptCount
		}
	}
	if err := d.recorder.RecordDeployment(rec); err != nil {
		Logf("history: record %s run %s: %v", op, rec.RunID, err)
	}
}

// RunOutcome names the outcome of a finished deployment run: "deployed",
// "aborted", "error" for exhausted retries, or "interrupted" for a run
// cut short by context cancellation.
func RunOutcome(err error) string {
	switch {
	case err == nil:
		return "deployed"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrRetriesExhausted):
		return "error"
	}
	return "interrupted"
}
