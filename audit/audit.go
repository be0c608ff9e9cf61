// Package audit provides an asynchronous audit trail for authentication
// events: logins, refreshes and per-request authentication outcomes.
//
// Events are handed to handlers off the request path through a buffered
// queue, so a slow sink never stalls authentication.
package audit

import (
	"log/slog"
	"sync"
	"time"
)

// Actions recorded by this module.
const (
	ActionLogin   = "login"
	ActionRefresh = "refresh"
	ActionRequest = "request_auth"
)

// Event is one recorded authentication event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"` // authenticated, anonymous, rejected, error
	Subject   string    `json:"subject,omitempty"`
	Username  string    `json:"username,omitempty"`
	Path      string    `json:"path,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Handler processes audit events. Handlers run on the trail's own
// goroutine and should not block.
type Handler func(Event)

// Trail collects authentication events and dispatches them to handlers
// asynchronously.
type Trail struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures the Trail.
type Option func(*Trail)

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(t *Trail) { t.handlers = append(t.handlers, h) }
}

// WithSlogHandler adds a handler that emits each event through the given
// structured logger at info level.
func WithSlogHandler(l *slog.Logger) Option {
	return func(t *Trail) {
		t.handlers = append(t.handlers, func(e Event) {
			l.Info("auth event",
				"action", e.Action,
				"outcome", e.Outcome,
				"subject", e.Subject,
				"username", e.Username,
				"path", e.Path,
				"ip", e.IP,
				"reason", e.Reason,
			)
		})
	}
}

// New creates a trail and starts its dispatch goroutine. bufferSize caps
// the number of pending events (default 1000); events beyond it are
// dropped rather than blocking the caller.
func New(bufferSize int, opts ...Option) *Trail {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	t := &Trail{
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}

	t.wg.Add(1)
	go t.dispatch()
	return t
}

// Record emits an event. Safe to call concurrently; never blocks.
func (t *Trail) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case t.queue <- e:
	default:
		// Queue full or trail closed, the event is dropped.
	}
}

func (t *Trail) dispatch() {
	defer t.wg.Done()
	for {
		select {
		case e := <-t.queue:
			for _, h := range t.handlers {
				h(e)
			}
		case <-t.done:
			for {
				select {
				case e := <-t.queue:
					for _, h := range t.handlers {
						h(e)
					}
				default:
					return
				}
			}
		}
	}
}

// Close flushes pending events and stops the dispatch goroutine.
func (t *Trail) Close() error {
	close(t.done)
	t.wg.Wait()
	return nil
}
