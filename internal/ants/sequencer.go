package ants

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meridianspace/antdeploy/internal/frame"
	"github.com/meridianspace/antdeploy/internal/timeutil"
)

// SequencerConfig bounds the retry and polling behaviour of deployments.
type SequencerConfig struct {
	// RetryCeiling is the number of retries after the first attempt, so
	// a ceiling of 2 allows 3 attempts in total.
	RetryCeiling int

	// PollInterval is the wait between status polls during a burn.
	PollInterval time.Duration

	// MaxBurn is the upper bound on a single burn window.
	MaxBurn time.Duration
}

func (c SequencerConfig) withDefaults() SequencerConfig {
	if c.RetryCeiling < 0 {
		c.RetryCeiling = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaxBurn <= 0 {
		c.MaxBurn = 30 * time.Second
	}
	return c
}

// Sequencer runs deployments over the shared link. Each run arms the
// controller, issues the release command, and polls until the release
// switch opens or the burn window lapses, retrying failed attempts up to
// the retry ceiling. At most one run per channel is in flight; a
// deploy-all run claims every eligible channel at once.
//
// The sequencer holds no lock while talking to the controller, so abort
// requests and state reads stay responsive during a burn. Aborts are
// cooperative: they take effect at the next checkpoint, just before a
// command is issued or a poll is evaluated.
type Sequencer struct {
	link  Exchanger
	clock timeutil.Clock
	cfg   SequencerConfig

	mu       sync.Mutex
	channels [ChannelCount]channelState
}

type channelState struct {
	state          DeployState
	attempts       uint32
	lastAttempt    time.Time
	inflight       bool
	abortRequested bool
}

// errBurnLapsed is the attempt-failure cause when the burn window ends
// with the release switch still closed.
var errBurnLapsed = errors.New("burn window elapsed without release")

// NewSequencer creates a Sequencer over the given link. A nil clock uses
// the real one.
func NewSequencer(link Exchanger, cfg SequencerConfig, clock timeutil.Clock) *Sequencer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sequencer{
		link:  link,
		clock: clock,
		cfg:   cfg.withDefaults(),
	}
}

// Channels returns a snapshot of every channel's sequencer state.
func (s *Sequencer) Channels() [ChannelCount]ChannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [ChannelCount]ChannelInfo
	for i := range s.channels {
		cs := s.channels[i]
		out[i] = ChannelInfo{
			ID:           uint8(i + 1),
			State:        cs.state,
			AttemptCount: cs.attempts,
			LastAttempt:  cs.lastAttempt,
		}
	}
	return out
}

// Channel returns the snapshot for one 1-based channel.
func (s *Sequencer) Channel(ch uint8) (ChannelInfo, error) {
	idx, err := channelIndex(ch)
	if err != nil {
		return ChannelInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.channels[idx]
	return ChannelInfo{
		ID:           ch,
		State:        cs.state,
		AttemptCount: cs.attempts,
		LastAttempt:  cs.lastAttempt,
	}, nil
}

// Deploy runs the deployment sequence for one channel. Automatic mode on
// a channel that is already Deployed is a no-op; Error and Aborted
// channels must be reset by an operator first.
func (s *Sequencer) Deploy(ctx context.Context, ch uint8, mode DeployMode, burn time.Duration) error {
	idx, err := channelIndex(ch)
	if err != nil {
		return err
	}
	if err := s.checkBurn(burn); err != nil {
		return err
	}

	s.mu.Lock()
	cs := &s.channels[idx]
	switch {
	case cs.inflight:
		s.mu.Unlock()
		return fmt.Errorf("%w: channel %d", ErrAlreadyInProgress, ch)
	case cs.state == StateDeployed && mode == ModeAutomatic:
		s.mu.Unlock()
		return nil
	case cs.state == StateError || cs.state == StateAborted:
		st := cs.state
		s.mu.Unlock()
		return fmt.Errorf("%w: channel %d is %s and must be reset first", ErrInvalidState, ch, st)
	}
	cs.inflight = true
	cs.abortRequested = false
	s.mu.Unlock()
	defer s.clearInflight([]int{idx})

	Logf("channel %d: starting %s deploy, burn %v", ch, mode, burn)
	return s.run(ctx, []int{idx}, mode, burn, false)
}

// DeployAll runs one deployment sequence covering every channel that is
// still Stowed. Channels in Error or Aborted are left for the operator;
// if all channels are already Deployed the call is a no-op.
func (s *Sequencer) DeployAll(ctx context.Context, burn time.Duration) error {
	if err := s.checkBurn(burn); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.channels {
		if s.channels[i].inflight {
			s.mu.Unlock()
			return fmt.Errorf("%w: channel %d", ErrAlreadyInProgress, i+1)
		}
	}
	var targets []int
	deployed := 0
	for i := range s.channels {
		switch s.channels[i].state {
		case StateStowed:
			targets = append(targets, i)
		case StateDeployed:
			deployed++
		}
	}
	if len(targets) == 0 {
		s.mu.Unlock()
		if deployed == ChannelCount {
			return nil
		}
		return fmt.Errorf("%w: no stowed channels to deploy", ErrInvalidState)
	}
	for _, idx := range targets {
		s.channels[idx].inflight = true
		s.channels[idx].abortRequested = false
	}
	s.mu.Unlock()
	defer s.clearInflight(targets)

	Logf("deploy-all: starting over %d channels, burn %v", len(targets), burn)
	return s.run(ctx, targets, ModeAutomatic, burn, true)
}

// Abort requests cooperative cancellation of a channel's in-flight
// deployment. It takes effect at the run's next checkpoint. Channels
// with nothing in flight reject the abort.
func (s *Sequencer) Abort(ch uint8) error {
	idx, err := channelIndex(ch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := &s.channels[idx]
	if cs.state.Terminal() {
		return fmt.Errorf("%w: channel %d is already %s", ErrInvalidState, ch, cs.state)
	}
	if !cs.inflight {
		return fmt.Errorf("%w: channel %d has no deployment in progress", ErrInvalidState, ch)
	}
	cs.abortRequested = true
	Logf("channel %d: abort requested", ch)
	return nil
}

// ResetChannel is the operator override that re-arms a channel: it
// returns the channel to Stowed and zeroes its attempt counter.
func (s *Sequencer) ResetChannel(ch uint8) error {
	idx, err := channelIndex(ch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := &s.channels[idx]
	if cs.inflight {
		return fmt.Errorf("%w: channel %d", ErrAlreadyInProgress, ch)
	}
	cs.state = StateStowed
	cs.attempts = 0
	cs.lastAttempt = time.Time{}
	cs.abortRequested = false
	Logf("channel %d: reset to stowed", ch)
	return nil
}

func (s *Sequencer) checkBurn(burn time.Duration) error {
	if burn <= 0 || burn > s.cfg.MaxBurn || burn/time.Millisecond > 65535 {
		return fmt.Errorf("%w: %v (max %v)", ErrBurnDuration, burn, s.cfg.MaxBurn)
	}
	return nil
}

// run drives one deployment over the given 0-based targets. For a
// deploy-all run one wire command covers all channels; otherwise the
// single target gets its own command. Channels that release leave the
// pending set; channels that exhaust their attempts enter Error and the
// rest keep retrying.
func (s *Sequencer) run(ctx context.Context, targets []int, mode DeployMode, burn time.Duration, all bool) error {
	pending := append([]int(nil), targets...)
	exhausted := false
	var lastCause error

	for len(pending) > 0 {
		// Checkpoint before issuing commands.
		if s.abortsRequested(pending) {
			s.markAborted(pending)
			return ErrAborted
		}
		if err := ctx.Err(); err != nil {
			s.markAborted(pending)
			return err
		}

		s.beginAttempt(pending)

		if err := sendCommand(ctx, s.link, frame.NewArm()); err != nil {
			pending, exhausted, lastCause = s.failAttempt(pending, err, exhausted)
			continue
		}

		// Checkpoint between arming and the release command.
		if s.abortsRequested(pending) {
			s.markAborted(pending)
			return ErrAborted
		}
		if err := ctx.Err(); err != nil {
			s.markAborted(pending)
			return err
		}

		s.setStates(pending, StateDeploying)
		burnMs := uint16(burn / time.Millisecond)
		var cmd frame.Frame
		if all {
			cmd = frame.NewDeployAll(burnMs)
		} else {
			cmd = frame.NewDeployOne(uint8(pending[0]+1), mode.wire(), burnMs)
		}
		if err := sendCommand(ctx, s.link, cmd); err != nil {
			pending, exhausted, lastCause = s.failAttempt(pending, err, exhausted)
			continue
		}

		remaining, err := s.awaitRelease(ctx, pending, burn)
		if err != nil {
			if errors.Is(err, ErrAborted) {
				s.markAborted(remaining)
				return ErrAborted
			}
			if ctx.Err() != nil {
				s.markAborted(remaining)
				return ctx.Err()
			}
			pending, exhausted, lastCause = s.failAttempt(remaining, err, exhausted)
			continue
		}
		if len(remaining) == 0 {
			break
		}
		pending, exhausted, lastCause = s.failAttempt(remaining, errBurnLapsed, exhausted)
	}

	if exhausted {
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastCause)
	}
	return nil
}

// awaitRelease polls the controller until every pending channel reads
// released or the burn window lapses. At least one poll happens per
// attempt, even for burns shorter than the poll interval. It returns the
// channels still unreleased; a non-nil error reports an abort, a context
// cancellation, or a failed status exchange.
func (s *Sequencer) awaitRelease(ctx context.Context, pending []int, burn time.Duration) ([]int, error) {
	deadline := s.clock.Now().Add(burn)
	remaining := append([]int(nil), pending...)

	for {
		// Checkpoint before each poll.
		if s.abortsRequested(remaining) {
			return remaining, ErrAborted
		}
		if err := ctx.Err(); err != nil {
			return remaining, err
		}

		left := deadline.Sub(s.clock.Now())
		if left <= 0 {
			return remaining, nil
		}
		wait := s.cfg.PollInterval
		if wait > left {
			wait = left
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			return remaining, ctx.Err()
		}

		report, err := queryStatus(ctx, s.link)
		if err != nil {
			return remaining, err
		}

		var still []int
		for _, idx := range remaining {
			if report.Released[idx] {
				s.setStates([]int{idx}, StateDeployed)
				Logf("channel %d: released", idx+1)
			} else {
				still = append(still, idx)
			}
		}
		remaining = still
		if len(remaining) == 0 {
			return nil, nil
		}
	}
}

func (s *Sequencer) beginAttempt(pending []int) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range pending {
		cs := &s.channels[idx]
		cs.attempts++
		cs.lastAttempt = now
		cs.state = StateArming
	}
}

// failAttempt ends a failed attempt: channels past the ceiling enter
// Error, the rest fall back to Stowed and stay in the retry set.
func (s *Sequencer) failAttempt(pending []int, cause error, exhausted bool) ([]int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retry []int
	for _, idx := range pending {
		cs := &s.channels[idx]
		if cs.attempts >= uint32(s.cfg.RetryCeiling)+1 {
			cs.state = StateError
			exhausted = true
			Logf("channel %d: deploy failed after %d attempts: %v", idx+1, cs.attempts, cause)
		} else {
			cs.state = StateStowed
			retry = append(retry, idx)
			Logf("channel %d: attempt %d failed, retrying: %v", idx+1, cs.attempts, cause)
		}
	}
	return retry, exhausted, cause
}

func (s *Sequencer) abortsRequested(pending []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range pending {
		if s.channels[idx].abortRequested {
			return true
		}
	}
	return false
}

func (s *Sequencer) markAborted(pending []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range pending {
		cs := &s.channels[idx]
		cs.state = StateAborted
		cs.abortRequested = false
		Logf("channel %d: deployment aborted", idx+1)
	}
}

func (s *Sequencer) setStates(pending []int, st DeployState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range pending {
		s.channels[idx].state = st
	}
}

func (s *Sequencer) clearInflight(targets []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range targets {
		s.channels[idx].inflight = false
		s.channels[idx].abortRequested = false
	}
}
