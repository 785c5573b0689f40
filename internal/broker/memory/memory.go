// Package memory provides an in-process broker.Transport.
//
// A Hub plays the broker: every Transport attached to the same Hub sees the
// messages the others publish, including its own (as an MQTT broker echoes a
// publish back to a subscribed sender). Transports also carry fault injection
// knobs so tests can script failures and timeouts without a network.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/chatlink/internal/broker"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("memory: injected failure")

// Hub routes published payloads to subscribed transports.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Transport]broker.MessageHandler
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Transport]broker.MessageHandler)}
}

func (h *Hub) subscribe(channel string, t *Transport, handler broker.MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Transport]broker.MessageHandler)
	}
	h.subs[channel][t] = handler
}

func (h *Hub) detach(t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, subs := range h.subs {
		delete(subs, t)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
}

// Publish delivers payload to every transport subscribed to channel.
// Handlers run synchronously on the calling goroutine.
func (h *Hub) Publish(channel string, payload []byte) int {
	h.mu.RLock()
	handlers := make([]broker.MessageHandler, 0, len(h.subs[channel]))
	for _, handler := range h.subs[channel] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(append([]byte(nil), payload...))
	}
	return len(handlers)
}

// Subscribers returns how many transports listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Transport is an in-memory broker.Transport attached to a Hub.
type Transport struct {
	hub *Hub

	mu       sync.Mutex
	open     bool
	opts     broker.OpenOptions
	handlers map[string]broker.MessageHandler

	// fault injection
	openFailures int
	openErr      error
	hangOpen     bool
	closeErr     error
	subscribeErr error
	publishErr   error

	// counters
	openCalls      int
	closeCalls     int
	subscribeCalls int
	publishCalls   int
	published      [][]byte
}

// New creates a transport attached to hub. A nil hub gets a private one.
func New(hub *Hub) *Transport {
	if hub == nil {
		hub = NewHub()
	}
	return &Transport{
		hub:      hub,
		handlers: make(map[string]broker.MessageHandler),
	}
}

// Hub returns the hub this transport is attached to.
func (t *Transport) Hub() *Hub {
	return t.hub
}

// Open marks the session open unless a failure has been injected.
func (t *Transport) Open(ctx context.Context, opts broker.OpenOptions) error {
	t.mu.Lock()
	t.openCalls++
	hang := t.hangOpen
	if !hang && t.openFailures > 0 {
		t.openFailures--
		err := t.openErr
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.mu.Lock()
	t.open = true
	t.opts = opts
	t.mu.Unlock()
	return nil
}

// Close ends the session and detaches all subscriptions.
func (t *Transport) Close(_ context.Context) error {
	t.mu.Lock()
	t.closeCalls++
	err := t.closeErr
	t.open = false
	t.handlers = make(map[string]broker.MessageHandler)
	t.mu.Unlock()

	t.hub.detach(t)
	return err
}

// Subscribe attaches handler to channel on the hub.
func (t *Transport) Subscribe(_ context.Context, channel string, qos byte, handler broker.MessageHandler) error {
	if err := broker.ValidateChannel(channel); err != nil {
		return err
	}
	if err := broker.ValidateQoS(qos); err != nil {
		return err
	}

	t.mu.Lock()
	t.subscribeCalls++
	if !t.open {
		t.mu.Unlock()
		return broker.ErrNotOpen
	}
	if t.subscribeErr != nil {
		err := t.subscribeErr
		t.mu.Unlock()
		return err
	}
	t.handlers[channel] = handler
	t.mu.Unlock()

	t.hub.subscribe(channel, t, handler)
	return nil
}

// Publish routes payload through the hub.
func (t *Transport) Publish(_ context.Context, channel string, payload []byte, qos byte) error {
	if err := broker.ValidateChannel(channel); err != nil {
		return err
	}
	if err := broker.ValidateQoS(qos); err != nil {
		return err
	}
	if err := broker.ValidatePayload(payload); err != nil {
		return err
	}

	t.mu.Lock()
	t.publishCalls++
	if !t.open {
		t.mu.Unlock()
		return broker.ErrNotOpen
	}
	if t.publishErr != nil {
		err := t.publishErr
		t.mu.Unlock()
		return err
	}
	t.published = append(t.published, append([]byte(nil), payload...))
	t.mu.Unlock()

	t.hub.Publish(channel, payload)
	return nil
}

// Deliver invokes this transport's handler for channel directly, as if the
// broker had sent payload to this session only. It reports whether a handler
// was registered.
func (t *Transport) Deliver(channel string, payload []byte) bool {
	t.mu.Lock()
	handler, ok := t.handlers[channel]
	t.mu.Unlock()
	if !ok {
		return false
	}
	handler(payload)
	return true
}

// DropConnection simulates the broker dropping an open session.
func (t *Transport) DropConnection(err error) {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	t.handlers = make(map[string]broker.MessageHandler)
	lost := t.opts.OnConnectionLost
	t.mu.Unlock()

	t.hub.detach(t)
	if wasOpen && lost != nil {
		if err == nil {
			err = fmt.Errorf("%w: connection dropped", ErrInjected)
		}
		lost(err)
	}
}

// FailOpen makes the next n Open calls fail with err (ErrInjected if nil).
func (t *Transport) FailOpen(n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	t.mu.Lock()
	t.openFailures = n
	t.openErr = err
	t.mu.Unlock()
}

// HangOpen makes Open block until its context is done.
func (t *Transport) HangOpen(hang bool) {
	t.mu.Lock()
	t.hangOpen = hang
	t.mu.Unlock()
}

// FailClose makes Close return err (nil clears it).
func (t *Transport) FailClose(err error) {
	t.mu.Lock()
	t.closeErr = err
	t.mu.Unlock()
}

// FailSubscribe makes Subscribe return err (nil clears it).
func (t *Transport) FailSubscribe(err error) {
	t.mu.Lock()
	t.subscribeErr = err
	t.mu.Unlock()
}

// FailPublish makes Publish return err (nil clears it).
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	t.publishErr = err
	t.mu.Unlock()
}

// IsOpen reports whether a session is open.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// LastOpenOptions returns the options of the most recent successful Open.
func (t *Transport) LastOpenOptions() broker.OpenOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opts
}

// OpenCalls returns how many times Open was called.
func (t *Transport) OpenCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCalls
}

// CloseCalls returns how many times Close was called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// SubscribeCalls returns how many times Subscribe was called.
func (t *Transport) SubscribeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeCalls
}

// PublishCalls returns how many times Publish was called.
func (t *Transport) PublishCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishCalls
}

// Published returns copies of every payload accepted by Publish.
func (t *Transport) Published() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.published))
	for i, p := range t.published {
		out[i] = append([]byte(nil), p...)
	}
	return out
}
