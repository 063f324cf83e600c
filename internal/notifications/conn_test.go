package notifications

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var errConnClosed = errors.New("use of closed network connection")

// fakeConn is an in-memory Conn. Frames pushed on in are read by the
// session; text frames written by the session arrive on writes.
type fakeConn struct {
	in        chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
	stallWrites   bool
	closeCode     int

	// autoPong answers pings the way a live browser does.
	autoPong bool
	pong     func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		writes: make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		dl := f.readDeadline
		f.mu.Unlock()

		var timer <-chan time.Time
		if !dl.IsZero() {
			timer = time.After(time.Until(dl))
		}
		select {
		case b := <-f.in:
			return websocket.TextMessage, b, nil
		case <-f.closed:
			return 0, nil, errConnClosed
		case <-timer:
			// A pong may have pushed the deadline out while we waited.
			f.mu.Lock()
			moved := f.readDeadline.After(dl)
			f.mu.Unlock()
			if !moved {
				return 0, nil, timeoutErr{}
			}
		}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	stall, dl := f.stallWrites, f.writeDeadline
	f.mu.Unlock()

	if stall {
		select {
		case <-time.After(time.Until(dl)):
			return timeoutErr{}
		case <-f.closed:
			return errConnClosed
		}
	}
	switch messageType {
	case websocket.TextMessage:
		f.writes <- data
	case websocket.PingMessage:
		f.mu.Lock()
		pong := f.pong
		if !f.autoPong {
			pong = nil
		}
		f.mu.Unlock()
		if pong != nil {
			return pong(string(data))
		}
	}
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.readDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	f.writeDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pong = h
	f.mu.Unlock()
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sentCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

// wireEvent is a decoded outbound frame. Raw holds the whole flat frame.
type wireEvent struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	Raw  json.RawMessage `json:"-"`
}

func nextEvent(t *testing.T, f *fakeConn) wireEvent {
	t.Helper()
	select {
	case data := <-f.writes:
		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		ev.Raw = data
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return wireEvent{}
	}
}
