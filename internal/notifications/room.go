package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"huddle/internal/observability"
)

const (
	roomQueueSize = 256
	jobTimeout    = 10 * time.Second
)

// JobFunc runs inside a room's writer goroutine. A returned event is
// broadcast to the room after the function returns.
type JobFunc func(ctx context.Context) (*Event, error)

type jobResult struct {
	ev  *Event
	err error
}

type job struct {
	ctx      context.Context
	fn       JobFunc
	enqueued time.Time
	reply    chan jobResult
}

// room serializes every persisted or broadcast event of one room through a
// single goroutine, so the order clients observe is the order of persistence.
type room struct {
	key     RoomKey
	hub     *Hub
	queue   chan *job
	stop    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}
	pending int
	closed  bool
}

func newRoom(h *Hub, key RoomKey, prev *room) *room {
	r := &room{
		key:     key,
		hub:     h,
		queue:   make(chan *job, roomQueueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		clients: make(map[*Client]struct{}),
	}
	go r.loop(prev)
	return r
}

// acquire reserves a slot for one job; false once the room is shutting down.
func (r *room) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.pending++
	return true
}

func (r *room) remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

func (r *room) loop(prev *room) {
	// A retired room for the same key finishes its queue first.
	if prev != nil {
		<-prev.stopped
	}

	for {
		select {
		case j := <-r.queue:
			r.run(j)
		case <-r.stop:
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			for r.remaining() > 0 {
				r.run(<-r.queue)
			}
			close(r.stopped)
			r.hub.forgetRetired(r)
			return
		}
	}
}

func (r *room) run(j *job) {
	defer func() {
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), jobTimeout)
	defer cancel()

	ev, err := r.hub.execute(ctx, r.key, j.fn)
	if err == nil && ev != nil {
		r.broadcast(ctx, ev)
		observability.BroadcastLatency.WithLabelValues(string(r.key.Kind)).Observe(time.Since(j.enqueued).Seconds())
	}
	j.reply <- jobResult{ev: ev, err: err}
}

func (r *room) broadcast(ctx context.Context, ev *Event) {
	ev.Room = r.key.String()
	data, err := json.Marshal(ev)
	if err != nil {
		r.hub.logger.LogError(ctx, 0, r.key.String(), err, ev.Type)
		return
	}
	r.deliver(data)
	r.hub.mirrorRoom(ctx, r.key, data)
}

// deliver queues data on every local session of the room.
func (r *room) deliver(data []byte) {
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.TrySend(data)
	}
}

func (r *room) add(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// remove drops c and reports whether the room is now empty.
func (r *room) remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
	return len(r.clients) == 0
}

func (r *room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
