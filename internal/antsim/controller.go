// Package antsim simulates the antenna deployment controller. It speaks
// the real wire protocol through the buslink Porter interface, so the
// daemon can run against it without hardware and tests can script release
// behaviour, stuck channels, and link faults.
package antsim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/meridianspace/antdeploy/internal/frame"
	"github.com/meridianspace/antdeploy/internal/timeutil"
)

// Controller is a simulated deployment controller behind a serial port.
//
// The burn model is poll-driven so tests stay deterministic: an accepted
// deploy marks the channel burning for a configurable number of status
// queries, after which the channel releases if it has accumulated enough
// burns. By default one burn releases a channel on the next query.
type Controller struct {
	mu    sync.Mutex
	clock timeutil.Clock

	armed    bool
	released [frame.Channels]bool

	burnsSeen      [frame.Channels]int
	burnsToRelease [frame.Channels]int
	pendingPolls   [frame.Channels]int
	pollsPerBurn   [frame.Channels]int

	activationCount [frame.Channels]uint8
	activationSecs  [frame.Channels]uint16

	rawTemperature uint16
	started        time.Time

	dropNext    int
	corruptNext int
	rejectNext  int

	commands map[frame.Opcode]int

	readBuf     bytes.Buffer
	readTimeout time.Duration
	closed      bool
}

// New creates a simulated controller in the stowed, disarmed state. A nil
// clock uses the real one.
func New(clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Controller{
		clock:          clock,
		rawTemperature: 0x0212,
		started:        clock.Now(),
		readTimeout:    50 * time.Millisecond,
		commands:       make(map[frame.Opcode]int),
	}
	for i := range c.burnsToRelease {
		c.burnsToRelease[i] = 1
		c.pollsPerBurn[i] = 1
	}
	return c
}

// Write accepts one command frame and queues the controller's response.
// Garbage that does not decode gets no response, like real hardware.
func (c *Controller) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.New("simulator closed")
	}

	f, err := frame.Decode(p)
	if err != nil {
		return len(p), nil
	}
	c.commands[f.Opcode]++

	if c.dropNext > 0 {
		c.dropNext--
		return len(p), nil
	}

	resp := c.handle(f)
	if resp == nil {
		return len(p), nil
	}
	buf, err := frame.Encode(*resp)
	if err != nil {
		return len(p), nil
	}
	if c.corruptNext > 0 {
		c.corruptNext--
		buf[len(buf)-2]++
	}
	c.readBuf.Write(buf)
	return len(p), nil
}

// Read returns queued response bytes, or (0, nil) after the read timeout
// if none arrive.
func (c *Controller) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, errors.New("simulator closed")
	}
	if c.readBuf.Len() == 0 {
		timeout := c.readTimeout
		c.mu.Unlock()
		time.Sleep(timeout)
		c.mu.Lock()
	}
	defer c.mu.Unlock()

	if c.readBuf.Len() == 0 {
		return 0, nil
	}
	return c.readBuf.Read(p)
}

// SetReadTimeout bounds reads from an empty response buffer.
func (c *Controller) SetReadTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimeout = d
	return nil
}

// Close shuts the simulated port.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Controller) handle(f frame.Frame) *frame.Frame {
	respond := func(payload []byte) *frame.Frame {
		return &frame.Frame{Opcode: f.Opcode | frame.ResponseFlag, Payload: payload}
	}
	ack := func(code uint8) *frame.Frame {
		return respond([]byte{code})
	}
	rejected := func() bool {
		if c.rejectNext > 0 {
			c.rejectNext--
			return true
		}
		return false
	}

	switch f.Opcode {
	case frame.OpArm:
		if rejected() {
			return ack(frame.AckRejected)
		}
		c.armed = true
		return ack(frame.AckOK)

	case frame.OpOverrideDisable:
		if rejected() {
			return ack(frame.AckRejected)
		}
		c.armed = false
		return ack(frame.AckOK)

	case frame.OpDeployOne:
		if len(f.Payload) != 4 {
			return ack(frame.AckBadParam)
		}
		ch := f.Payload[0]
		mode := f.Payload[1]
		burnMs := binary.LittleEndian.Uint16(f.Payload[2:4])
		if ch < 1 || ch > frame.Channels || burnMs == 0 {
			return ack(frame.AckBadParam)
		}
		if mode != frame.ModeAutomatic && mode != frame.ModeManual {
			return ack(frame.AckBadParam)
		}
		if rejected() || !c.armed {
			return ack(frame.AckRejected)
		}
		c.burn(int(ch)-1, mode, burnMs)
		return ack(frame.AckOK)

	case frame.OpDeployAll:
		if len(f.Payload) != 2 {
			return ack(frame.AckBadParam)
		}
		burnMs := binary.LittleEndian.Uint16(f.Payload)
		if burnMs == 0 {
			return ack(frame.AckBadParam)
		}
		if rejected() || !c.armed {
			return ack(frame.AckRejected)
		}
		for i := 0; i < frame.Channels; i++ {
			c.burn(i, frame.ModeAutomatic, burnMs)
		}
		return ack(frame.AckOK)

	case frame.OpQueryStatus:
		c.advancePolls()
		return respond(frame.EncodeStatusReport(c.statusLocked()))

	case frame.OpQueryTelemetry:
		return respond(frame.EncodeTelemetryReport(c.telemetryLocked()))

	default:
		return ack(frame.AckBadParam)
	}
}

func (c *Controller) burn(idx int, mode byte, burnMs uint16) {
	if mode == frame.ModeAutomatic && c.released[idx] {
		// The controller skips channels whose release switch already
		// reads open.
		return
	}
	c.burnsSeen[idx]++
	c.activationCount[idx]++
	c.activationSecs[idx] += uint16(burnMs / 1000)

	c.pendingPolls[idx] = c.pollsPerBurn[idx]
	if c.pendingPolls[idx] <= 0 {
		c.finishBurn(idx)
	}
}

func (c *Controller) finishBurn(idx int) {
	if c.burnsSeen[idx] >= c.burnsToRelease[idx] {
		c.released[idx] = true
	}
}

func (c *Controller) advancePolls() {
	for i := range c.pendingPolls {
		if c.pendingPolls[i] > 0 {
			c.pendingPolls[i]--
			if c.pendingPolls[i] == 0 {
				c.finishBurn(i)
			}
		}
	}
}

func (c *Controller) statusLocked() frame.StatusReport {
	r := frame.StatusReport{
		Armed:          c.armed,
		Released:       c.released,
		RawTemperature: c.rawTemperature,
	}
	for i := range c.pendingPolls {
		r.Burning[i] = c.pendingPolls[i] > 0
	}
	return r
}

func (c *Controller) telemetryLocked() frame.TelemetryReport {
	return frame.TelemetryReport{
		RawTemperature:  c.rawTemperature,
		UptimeSeconds:   uint32(c.clock.Since(c.started) / time.Second),
		ActivationCount: c.activationCount,
		ActivationTime:  c.activationSecs,
	}
}

// SetArmed forces the controller's armed state.
func (c *Controller) SetArmed(armed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = armed
}

// Armed reports the controller's armed state.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// SetReleased pre-seeds the release switch for a 1-based channel.
func (c *Controller) SetReleased(ch uint8, released bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch >= 1 && ch <= frame.Channels {
		c.released[ch-1] = released
	}
}

// Released reports the release switch for a 1-based channel.
func (c *Controller) Released(ch uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch < 1 || ch > frame.Channels {
		return false
	}
	return c.released[ch-1]
}

// SetBurnsToRelease makes a 1-based channel require n burns before its
// release switch opens, simulating a stuck antenna.
func (c *Controller) SetBurnsToRelease(ch uint8, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch >= 1 && ch <= frame.Channels {
		c.burnsToRelease[ch-1] = n
	}
}

// SetPollsPerBurn makes a burn on a 1-based channel stay visible as
// burning for n status queries before it completes.
func (c *Controller) SetPollsPerBurn(ch uint8, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch >= 1 && ch <= frame.Channels {
		c.pollsPerBurn[ch-1] = n
	}
}

// SetRawTemperature sets the raw temperature reading.
func (c *Controller) SetRawTemperature(raw uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawTemperature = raw
}

// ActivationCount reports lifetime burns for a 1-based channel.
func (c *Controller) ActivationCount(ch uint8) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch < 1 || ch > frame.Channels {
		return 0
	}
	return c.activationCount[ch-1]
}

// DropRequests makes the controller swallow the next n requests without
// responding, so the link times out.
func (c *Controller) DropRequests(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropNext = n
}

// CorruptResponses makes the controller damage the checksum of its next
// n responses.
func (c *Controller) CorruptResponses(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corruptNext = n
}

// RejectCommands makes the controller nack its next n commands.
func (c *Controller) RejectCommands(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNext = n
}

// CommandCount reports how many frames with the given opcode have arrived.
func (c *Controller) CommandCount(op frame.Opcode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands[op]
}
