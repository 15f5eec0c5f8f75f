package buslink

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// MockPort implements Porter with scriptable behaviour for tests. Reads
// honour the configured read timeout the way a real serial port does: an
// empty buffer blocks for the timeout and then returns (0, nil).
type MockPort struct {
	mu sync.Mutex

	readBuf bytes.Buffer
	writes  [][]byte

	readTimeout time.Duration

	// OnRequest, when set, is invoked with each complete write. Its
	// return value, if non-empty, is queued as read data.
	OnRequest func(req []byte) []byte

	// ReadErr is returned by the next Read call if set.
	ReadErr error

	// WriteErr is returned by the next Write call if set.
	WriteErr error

	// CloseErr is returned by Close if set.
	CloseErr error

	closed bool

	// ReadCalls and WriteCalls record call counts.
	ReadCalls  int
	WriteCalls int
}

// NewMockPort creates a MockPort with the default read timeout.
func NewMockPort() *MockPort {
	return &MockPort{readTimeout: DefaultReadTimeout}
}

// Read returns buffered data, or (0, nil) after the read timeout if the
// buffer stays empty.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	m.ReadCalls++

	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if m.ReadErr != nil {
		err := m.ReadErr
		m.ReadErr = nil
		m.mu.Unlock()
		return 0, err
	}

	if m.readBuf.Len() == 0 {
		timeout := m.readTimeout
		m.mu.Unlock()
		time.Sleep(timeout)
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	if m.readBuf.Len() == 0 {
		return 0, nil
	}
	return m.readBuf.Read(p)
}

// Write records the request and feeds it to the OnRequest hook.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	m.WriteCalls++

	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if m.WriteErr != nil {
		err := m.WriteErr
		m.WriteErr = nil
		m.mu.Unlock()
		return 0, err
	}

	req := append([]byte(nil), p...)
	m.writes = append(m.writes, req)
	hook := m.OnRequest
	m.mu.Unlock()

	if hook != nil {
		if resp := hook(req); len(resp) > 0 {
			m.QueueRead(resp)
		}
	}
	return len(p), nil
}

// SetReadTimeout sets the bound applied to reads from an empty buffer.
func (m *MockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = d
	return nil
}

// Close marks the port as closed.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

// Closed reports whether Close was called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// QueueRead appends data to be returned by subsequent reads.
func (m *MockPort) QueueRead(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.Write(data)
}

// Writes returns a copy of every write the port has seen.
func (m *MockPort) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// LastWrite returns the most recent write, or nil if none.
func (m *MockPort) LastWrite() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil
	}
	return m.writes[len(m.writes)-1]
}
