package transfer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBroken = errors.New("broken pipe")

// memConn is an in-memory Conn. Tests feed frames in and inspect what the session sent.
type memConn struct {
	frames chan Frame
	texts  chan []byte
	closed chan struct{}

	mu          sync.Mutex
	pings       int
	pongs       [][]byte
	closeReason *CloseReason
	closeCount  int
	failPing    bool
	failWrites  bool
}

func newMemConn() *memConn {
	return &memConn{
		frames: make(chan Frame, 64),
		texts:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *memConn) Frames() <-chan Frame { return c.frames }

func (c *memConn) WriteText(data []byte) error {
	c.mu.Lock()
	fail := c.failWrites
	c.mu.Unlock()
	if fail {
		return errBroken
	}
	c.texts <- data
	return nil
}

func (c *memConn) Ping(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPing {
		return errBroken
	}
	c.pings++
	return nil
}

func (c *memConn) Pong(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongs = append(c.pongs, data)
	return nil
}

func (c *memConn) Close(reason *CloseReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closeCount == 1 {
		c.closeReason = reason
		close(c.closed)
	}
	return nil
}

func (c *memConn) sendText(t *testing.T, s string) {
	t.Helper()
	c.frames <- Frame{Type: FrameText, Data: []byte(s)}
}

func (c *memConn) sendBinary(t *testing.T, s string) {
	t.Helper()
	c.frames <- Frame{Type: FrameBinary, Data: []byte(s)}
}

func (c *memConn) sendAnnouncement(t *testing.T, name string, size uint64) {
	t.Helper()
	b, err := FileMessage(name, size).MarshalJSON()
	require.NoError(t, err)
	c.frames <- Frame{Type: FrameText, Data: b}
}

// mustReadMessage waits for the next text frame the session sent.
func (c *memConn) mustReadMessage(t *testing.T) Message {
	t.Helper()
	select {
	case b := <-c.texts:
		m, err := ParseMessage(b)
		require.NoError(t, err, "session sent unparseable message %s", string(b))
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a message from the session")
	}
	return Message{}
}

func (c *memConn) mustNotSend(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case b := <-c.texts:
		t.Fatalf("session sent unexpected message %s", string(b))
	case <-time.After(within):
	}
}

func (c *memConn) mustClose(t *testing.T) *CloseReason {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the session to close")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *memConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
