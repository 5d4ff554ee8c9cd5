package h1

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/h1conn/internal/config"
	"example.com/h1conn/internal/logger"
)

// readStep is one scripted result of mockStream.Read: either data or an error.
type readStep struct {
	data []byte
	err  error
}

func data(s string) readStep { return readStep{data: []byte(s)} }

// timeout mimics an expired net.Conn deadline.
var timeout = readStep{err: os.ErrDeadlineExceeded}

// mockStream is a scripted duplex stream. Reads follow the script and then
// report io.EOF; writes are captured.
type mockStream struct {
	mu       sync.Mutex
	steps    []readStep
	writeBuf bytes.Buffer

	// writeTimeouts fails that many Write calls with a deadline error.
	writeTimeouts int
	// maxWrite caps how many bytes one Write accepts; 0 means unlimited.
	maxWrite int
	writes   int

	closed      bool
	writeClosed bool
}

func newMockStream(steps ...readStep) *mockStream {
	return &mockStream{steps: steps}
}

func (m *mockStream) feed(steps ...readStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

func (m *mockStream) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.steps) == 0 {
		return 0, io.EOF
	}
	step := &m.steps[0]
	if step.err != nil {
		err := step.err
		m.steps = m.steps[1:]
		return 0, err
	}
	n := copy(b, step.data)
	step.data = step.data[n:]
	if len(step.data) == 0 {
		m.steps = m.steps[1:]
	}
	return n, nil
}

func (m *mockStream) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeTimeouts > 0 {
		m.writeTimeouts--
		return 0, os.ErrDeadlineExceeded
	}
	if m.maxWrite > 0 && len(b) > m.maxWrite {
		b = b[:m.maxWrite]
	}
	return m.writeBuf.Write(b)
}

func (m *mockStream) CloseWrite() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeClosed = true
	return nil
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// written returns and resets everything written so far.
func (m *mockStream) written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.writeBuf.String()
	m.writeBuf.Reset()
	return s
}

// testOptions disables the Date header so output is deterministic.
func testOptions() Options {
	opts := DefaultOptions()
	opts.DateHeader = false
	return opts
}

func newTestConn(t *testing.T, role Role, opts Options, steps ...readStep) (*Conn, *mockStream) {
	t.Helper()
	stream := newMockStream(steps...)
	var logBuf bytes.Buffer
	lg := logger.NewTestLogger(&logBuf, config.LogLevelDebug)
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("conn log:\n%s", logBuf.String())
		}
	})
	return NewConn(stream, role, lg, opts), stream
}

// readAllBody drains the incoming body until io.EOF or the body state ends.
func readAllBody(t *testing.T, c *Conn) string {
	t.Helper()
	var out []byte
	for c.CanReadBody() {
		chunk, err := c.ReadBody()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, chunk...)
	}
	return string(out)
}
