package ants

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meridianspace/antdeploy/internal/buslink"
	"github.com/meridianspace/antdeploy/internal/timeutil"
)

// PollerConfig bounds the background status poller.
type PollerConfig struct {
	// Cadence is the interval between polls in Run.
	Cadence time.Duration

	// LinkDownThreshold is the number of consecutive timeout or link
	// failures that marks the link down.
	LinkDownThreshold int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Cadence <= 0 {
		c.Cadence = time.Second
	}
	if c.LinkDownThreshold <= 0 {
		c.LinkDownThreshold = 3
	}
	return c
}

// Poller keeps a cached status snapshot fresh by querying the controller
// on a fixed cadence. Each successful poll replaces the snapshot
// wholesale; no merging with stale fields ever happens. Consecutive
// timeout or link failures past the threshold mark the link down, and a
// single success clears the condition.
type Poller struct {
	link  Exchanger
	clock timeutil.Clock
	cfg   PollerConfig

	mu           sync.RWMutex
	latest       Snapshot
	haveSnapshot bool
	failures     int
	linkDown     bool
}

// NewPoller creates a Poller over the given link. A nil clock uses the
// real one.
func NewPoller(link Exchanger, cfg PollerConfig, clock timeutil.Clock) *Poller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Poller{
		link:  link,
		clock: clock,
		cfg:   cfg.withDefaults(),
	}
}

// PollOnce performs one status exchange and caches the result. Timeouts
// and link failures count toward the link-down threshold; a garbled
// response is dropped without touching the failure counter or the cached
// snapshot. Once the threshold is crossed, failures surface as
// ErrLinkDown until a poll succeeds.
func (p *Poller) PollOnce(ctx context.Context) (Snapshot, error) {
	report, err := queryStatus(ctx, p.link)
	if err != nil {
		return Snapshot{}, p.noteFailure(err)
	}

	snap := Snapshot{
		Armed:          report.Armed,
		Released:       report.Released,
		Burning:        report.Burning,
		RawTemperature: report.RawTemperature,
		SampledAt:      p.clock.Now(),
	}

	p.mu.Lock()
	p.latest = snap
	p.haveSnapshot = true
	if p.linkDown {
		Logf("status poller: link restored after %d failures", p.failures)
	}
	p.failures = 0
	p.linkDown = false
	p.mu.Unlock()

	return snap, nil
}

// Run polls on the configured cadence until the context ends. Failures
// are logged and reflected in LinkUp; the loop keeps polling so a
// recovered link clears the condition on its next success.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := p.PollOnce(ctx); err != nil {
				Logf("status poll: %v", err)
			}
		}
	}
}

// Latest returns the most recent successful snapshot. The second return
// is false until the first poll succeeds.
func (p *Poller) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.haveSnapshot
}

// LinkUp reports whether the link is considered healthy.
func (p *Poller) LinkUp() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.linkDown
}

func (p *Poller) noteFailure(err error) error {
	// Only transport-level failures count toward the threshold. Garbled
	// frames and cancellations pass through unchanged.
	if !errors.Is(err, buslink.ErrTimeout) && !errors.Is(err, buslink.ErrLink) {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	if p.failures >= p.cfg.LinkDownThreshold && !p.linkDown {
		p.linkDown = true
		Logf("status poller: %d consecutive failures, marking link down", p.failures)
	}
	if p.linkDown {
		return fmt.Errorf("%w: %v", ErrLinkDown, err)
	}
	return err
}
