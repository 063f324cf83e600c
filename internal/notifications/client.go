package notifications

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// Grace period for writing the close frame.
	closeWait = time.Second

	defaultSendQueue   = 256
	defaultSendTimeout = 5 * time.Second
	defaultIdleTimeout = 90 * time.Second
	defaultMaxFrame    = 64 * 1024
	defaultFrameRate   = 10
	defaultFrameBurst  = 20
)

// Conn is the subset of a WebSocket connection used by a session. Both the
// Fiber and the gorilla connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ClientConfig bounds a session's resources.
type ClientConfig struct {
	SendQueue   int
	SendTimeout time.Duration
	IdleTimeout time.Duration
	MaxFrame    int64
	FrameRate   float64
	FrameBurst  int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = defaultMaxFrame
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = defaultFrameBurst
	}
	return c
}

// Client is one duplex session bound to a single room.
type Client struct {
	ID       string
	UserID   uint
	Username string
	Room     RoomKey

	// OnFrame handles inbound frames that passed the rate limit. It runs on
	// the session's read goroutine.
	OnFrame func(*Client, []byte)

	conn    Conn
	cfg     ClientConfig
	send    chan []byte
	limiter *rate.Limiter

	// Unix nanos of the last inbound data frame. Pongs do not count.
	lastFrame atomic.Int64

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

// NewClient creates a session over conn.
func NewClient(conn Conn, userID uint, username string, room RoomKey, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Room:     room,
		conn:     conn,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendQueue),
		limiter:  rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst),
		done:     make(chan struct{}),
	}
}

// Done is closed once the session starts closing.
func (c *Client) Done() <-chan struct{} { return c.done }

// CloseCode is the code the session closed with, or 0 while open.
func (c *Client) CloseCode() int {
	select {
	case <-c.done:
		return c.closeCode
	default:
		return 0
	}
}

// Close starts closing the session with code. Only the first call has effect.
func (c *Client) Close(code int) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = CloseReason(code)
		if code >= 4000 {
			observability.WebSocketClosesTotal.WithLabelValues(c.closeReason).Inc()
		}
		close(c.done)
		closed = true
	})
	return closed
}

// TrySend queues data without blocking. A full queue closes the session
// with slow_consumer; other sessions are unaffected.
func (c *Client) TrySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.Close(CloseSlowConsumer)
		return false
	}
}

// SendEvent marshals ev and queues it.
func (c *Client) SendEvent(ev *Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return c.TrySend(data)
}

// run pumps the connection until the session closes.
func (c *Client) run() {
	c.lastFrame.Store(time.Now().UnixNano())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump()
	c.Close(websocket.CloseNormalClosure)
	<-writerDone
}

// idleFor reports how long the peer has gone without sending a data frame.
func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastFrame.Load()))
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(c.cfg.MaxFrame)
	// The read deadline only catches dead peers; pongs extend it. Idle
	// sessions are closed by the write pump.
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.Close(CloseIdleTimeout)
			}
			return
		}
		now := time.Now()
		c.lastFrame.Store(now.UnixNano())
		_ = c.conn.SetReadDeadline(now.Add(c.cfg.IdleTimeout))

		if !c.limiter.Allow() {
			observability.WebSocketFramesTotal.WithLabelValues("any", "rate_limited").Inc()
			c.SendEvent(NewEvent(EventError, ErrorPayload{
				ErrorType: "RateLimited",
				Message:   "Too many frames",
			}))
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(c, message)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.IdleTimeout / 4)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.writeClose()
			return
		default:
		}

		select {
		case <-c.done:
			c.writeClose()
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if isTimeout(err) {
					c.Close(CloseSlowConsumer)
				} else {
					c.Close(websocket.CloseAbnormalClosure)
				}
				return
			}
		case now := <-ticker.C:
			if c.idleFor(now) > c.cfg.IdleTimeout {
				c.Close(CloseIdleTimeout)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

func (c *Client) writeClose() {
	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
}

// Reject closes a connection that never became a session.
func Reject(conn Conn, code int) {
	observability.WebSocketClosesTotal.WithLabelValues(CloseReason(code)).Inc()
	msg := websocket.FormatCloseMessage(code, CloseReason(code))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	_ = conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
