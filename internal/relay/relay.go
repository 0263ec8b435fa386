// Package relay delivers request/response messages between the coordinator
// and the scripts attached to browser tabs.
//
// Every request carries a correlation id. Handlers run in their own
// goroutine; a panicking handler is recovered and reported as
// ErrHandlerPanic instead of taking the process down.
package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"formdeploy/internal/logging"
	"formdeploy/internal/message"

	"github.com/google/uuid"
)

var (
	// ErrNoReceiver is returned when nothing is listening at the destination,
	// or when every handler there declined the message.
	ErrNoReceiver = errors.New("relay: receiving end does not exist")
	// ErrTimeout is returned when no reply arrives within the hub timeout.
	ErrTimeout = errors.New("relay: timed out waiting for response")
	// ErrHandlerPanic is returned when the receiving handler panicked.
	ErrHandlerPanic = errors.New("relay: handler panicked")
	// ErrClosed is returned by a closed hub.
	ErrClosed = errors.New("relay: hub closed")
	// ErrUnhandled is returned by a handler that does not own the message
	// type, so a Chain can try the next one.
	ErrUnhandled = errors.New("relay: message not handled")
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
const DefaultTimeout = 30 * time.Second

// Request is a message in flight.
type Request struct {
	ID   string
	From message.Sender
	To   message.TabID // empty for the coordinator
	Msg  message.Message
	Sent time.Time
}

// Handler answers a request. Returning an error other than ErrUnhandled
// turns into a failed Response for the sender.
type Handler func(ctx context.Context, req Request) (message.Response, error)

// Chain tries each handler in order until one handles the message.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, req Request) (message.Response, error) {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			resp, err := h(ctx, req)
			if errors.Is(err, ErrUnhandled) {
				continue
			}
			return resp, err
		}
		return message.Response{}, ErrUnhandled
	}
}

type reply struct {
	resp message.Response
	err  error
}

type pending struct {
	to message.TabID
	ch chan reply
}

// Hub routes messages to the coordinator and to per-tab endpoints.
type Hub struct {
	mu         sync.RWMutex
	background Handler
	tabs       map[message.TabID]Handler
	pending    map[string]pending
	closed     bool

	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithTimeout sets the per-request reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		tabs:    make(map[message.TabID]Handler),
		pending: make(map[string]pending),
		timeout: DefaultTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetBackground installs the coordinator's handler.
func (h *Hub) SetBackground(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.background = fn
}

// Register installs (or replaces) the handler for a tab.
func (h *Hub) Register(tab message.TabID, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs[tab] = fn
	logging.RelayDebug("Registered endpoint for tab %s", tab)
}

// Unregister removes a tab's handler. Requests still waiting on that tab
// fail with ErrNoReceiver.
func (h *Hub) Unregister(tab message.TabID) {
	h.mu.Lock()
	delete(h.tabs, tab)
	var orphaned []pending
	for id, p := range h.pending {
		if p.to == tab {
			orphaned = append(orphaned, p)
			delete(h.pending, id)
		}
	}
	h.mu.Unlock()

	for _, p := range orphaned {
		p.ch <- reply{err: fmt.Errorf("%w: tab %s went away", ErrNoReceiver, tab)}
	}
	logging.RelayDebug("Unregistered endpoint for tab %s (%d pending failed)", tab, len(orphaned))
}

// Registered reports whether a tab currently has a handler.
func (h *Hub) Registered(tab message.TabID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.tabs[tab]
	return ok
}

// SendToBackground delivers msg to the coordinator.
func (h *Hub) SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error) {
	h.mu.RLock()
	fn := h.background
	h.mu.RUnlock()
	if fn == nil {
		return message.Response{}, fmt.Errorf("%w: no coordinator", ErrNoReceiver)
	}
	return h.send(ctx, "", from, msg, fn)
}

// SendToTab delivers msg to the scripts attached to tab.
func (h *Hub) SendToTab(ctx context.Context, tab message.TabID, msg message.Message) (message.Response, error) {
	h.mu.RLock()
	fn, ok := h.tabs[tab]
	h.mu.RUnlock()
	if !ok {
		return message.Response{}, fmt.Errorf("%w: tab %s", ErrNoReceiver, tab)
	}
	return h.send(ctx, tab, message.Sender{}, msg, fn)
}

func (h *Hub) send(ctx context.Context, to message.TabID, from message.Sender, msg message.Message, fn Handler) (message.Response, error) {
	req := Request{
		ID:   uuid.NewString(),
		From: from,
		To:   to,
		Msg:  msg,
		Sent: time.Now(),
	}
	ch := make(chan reply, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return message.Response{}, ErrClosed
	}
	h.pending[req.ID] = pending{to: to, ch: ch}
	h.wg.Add(1)
	h.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	logging.RelayDebug("-> %s %s (to=%q from=%q)", req.ID, msg.Type, to, from.TabID)
	go h.dispatch(reqCtx, fn, req)

	select {
	case r := <-ch:
		if r.err != nil {
			logging.RelayDebug("<- %s %s failed: %v", req.ID, msg.Type, r.err)
		}
		return r.resp, r.err
	case <-reqCtx.Done():
		h.forget(req.ID)
		if h.ctx.Err() != nil {
			return message.Response{}, ErrClosed
		}
		if ctx.Err() != nil {
			return message.Response{}, ctx.Err()
		}
		logging.RelayWarn("Request %s (%s) timed out after %s", req.ID, msg.Type, h.timeout)
		return message.Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, msg.Type, h.timeout)
	}
}

func (h *Hub) dispatch(ctx context.Context, fn Handler, req Request) {
	defer h.wg.Done()

	resp, err := h.safeCall(ctx, fn, req)
	switch {
	case errors.Is(err, ErrUnhandled):
		err = fmt.Errorf("%w: nobody handled %s", ErrNoReceiver, req.Msg.Type)
	case err != nil && !errors.Is(err, ErrHandlerPanic):
		resp, err = message.Fail(err.Error()), nil
	}
	h.deliver(req.ID, reply{resp: resp, err: err})
}

// safeCall invokes a handler and recovers from any panics.
func (h *Hub) safeCall(ctx context.Context, fn Handler, req Request) (resp message.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.RelayError("handler panicked for %s (%s): %v\n%s", req.Msg.Type, req.ID, r, debug.Stack())
			resp, err = message.Response{}, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn(ctx, req)
}

func (h *Hub) deliver(id string, r reply) {
	h.mu.Lock()
	p, ok := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()

	if !ok {
		logging.RelayDebug("Dropping late reply for %s", id)
		return
	}
	p.ch <- r
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// Pending returns the number of requests awaiting a reply.
func (h *Hub) Pending() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending)
}

// Close rejects new requests, cancels in-flight handlers and waits for them.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	logging.Relay("Relay hub closed")
}
