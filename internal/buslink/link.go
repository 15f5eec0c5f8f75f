// Package buslink provides the bounded request/response transport to the
// antenna deployment controller. A Link owns the serial port exclusively:
// every exchange writes exactly one command frame and reads exactly one
// response frame, under a mutex, so callers can never interleave traffic.
//
// Two bounds apply to each exchange. The read timeout caps how long the
// link waits for a response to start arriving once the command has been
// written. The send timeout caps the whole exchange, including a response
// that starts promptly but trickles in. The link never retries; retry
// policy belongs to the deployment sequencer above it.
package buslink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meridianspace/antdeploy/internal/frame"
	"github.com/meridianspace/antdeploy/internal/timeutil"
)

const (
	// DefaultReadTimeout is the default bound on waiting for a response.
	DefaultReadTimeout = 50 * time.Millisecond

	// DefaultSendTimeout is the default bound on a whole exchange.
	DefaultSendTimeout = 1000 * time.Millisecond
)

// drainTimeout bounds the cleanup read after a timed-out or garbled
// exchange, discarding any late bytes so the next exchange starts aligned.
const drainTimeout = 5 * time.Millisecond

var (
	// ErrTimeout reports that a response did not arrive in time.
	ErrTimeout = errors.New("buslink: response timeout")

	// ErrLink reports a port-level failure such as a failed read or write.
	ErrLink = errors.New("buslink: link failure")
)

// Porter is the minimal serial port surface the link needs. It matches
// go.bug.st/serial ports and enables unit testing without real hardware.
type Porter interface {
	io.ReadWriter
	io.Closer

	// SetReadTimeout bounds how long a single Read may block. An expired
	// read returns (0, nil).
	SetReadTimeout(timeout time.Duration) error
}

// Timeouts carries the two bounds applied to every exchange.
type Timeouts struct {
	// Read bounds waiting for the response header after the command is
	// fully written.
	Read time.Duration

	// Send bounds the exchange end to end.
	Send time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Read <= 0 {
		t.Read = DefaultReadTimeout
	}
	if t.Send <= 0 {
		t.Send = DefaultSendTimeout
	}
	return t
}

// Link is the single shared connection to the deployment controller.
type Link struct {
	port  Porter
	clock timeutil.Clock

	readTimeout time.Duration
	sendTimeout time.Duration

	// exchangeMu serializes exchanges so response bytes can never be
	// attributed to the wrong command.
	exchangeMu sync.Mutex
}

// New wraps an open port in a Link. Zero timeout fields fall back to the
// defaults, and a nil clock uses the real one.
func New(port Porter, timeouts Timeouts, clock timeutil.Clock) *Link {
	t := timeouts.withDefaults()
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Link{
		port:        port,
		clock:       clock,
		readTimeout: t.Read,
		sendTimeout: t.Send,
	}
}

// Timeouts returns the bounds the link applies to each exchange.
func (l *Link) Timeouts() Timeouts {
	return Timeouts{Read: l.readTimeout, Send: l.sendTimeout}
}

// Exchange writes one encoded command frame and reads back one response
// frame, returning its raw bytes. It blocks other exchanges until the
// response is read or the exchange fails. Timeouts surface as ErrTimeout,
// port failures as ErrLink, and malformed response headers as the frame
// package's protocol errors.
func (l *Link) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	l.exchangeMu.Lock()
	defer l.exchangeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exchangeDeadline := l.clock.Now().Add(l.sendTimeout)

	n, err := l.port.Write(req)
	if err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrLink, err)
	}
	if n != len(req) {
		return nil, fmt.Errorf("%w: short write (%d of %d bytes)", ErrLink, n, len(req))
	}

	// The response must start arriving within the read timeout, and the
	// whole exchange stays under the send timeout regardless.
	headerDeadline := l.clock.Now().Add(l.readTimeout)
	if headerDeadline.After(exchangeDeadline) {
		headerDeadline = exchangeDeadline
	}

	header := make([]byte, frame.HeaderSize)
	if err := l.readFull(ctx, header, headerDeadline); err != nil {
		if errors.Is(err, ErrTimeout) {
			l.drainInput()
		}
		return nil, err
	}

	payloadLen, err := frame.PayloadLen(header)
	if err != nil {
		l.drainInput()
		return nil, err
	}

	rest := make([]byte, payloadLen+frame.TrailerSize)
	if err := l.readFull(ctx, rest, exchangeDeadline); err != nil {
		if errors.Is(err, ErrTimeout) {
			l.drainInput()
		}
		return nil, err
	}

	return append(header, rest...), nil
}

// Close releases the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}

// readFull reads exactly len(buf) bytes or fails with ErrTimeout once the
// deadline passes. The port's read timeout is re-armed with the remaining
// budget on every iteration.
func (l *Link) readFull(ctx context.Context, buf []byte, deadline time.Time) error {
	for got := 0; got < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := deadline.Sub(l.clock.Now())
		if remaining <= 0 {
			return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, got, len(buf))
		}
		if err := l.port.SetReadTimeout(remaining); err != nil {
			return fmt.Errorf("%w: set read timeout: %v", ErrLink, err)
		}

		n, err := l.port.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("%w: read: %v", ErrLink, err)
		}
		got += n
	}
	return nil
}

// drainInput discards any bytes still buffered on the port, such as a
// response that arrived after its deadline or the tail of a garbled
// frame. Without it those bytes would corrupt the next exchange.
func (l *Link) drainInput() {
	if err := l.port.SetReadTimeout(drainTimeout); err != nil {
		return
	}
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}
