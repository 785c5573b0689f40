package chatlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/chatlink/internal/broker"
)

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdPublish
	cmdReset
	cmdDispose
)

type command struct {
	kind  commandKind
	text  string
	reply chan error
}

type eventKind int

const (
	evOpenDone eventKind = iota
	evCloseDone
	evSubscribeDone
	evPublishDone
	evInbound
	evConnectionLost
	evTimer
)

type timerPurpose int

const (
	timerRetry timerPurpose = iota
	timerSettle
)

// event is a completion or notification delivered to the loop. seq ties it
// to the operation, session or timer that produced it.
type event struct {
	kind    eventKind
	seq     uint64
	err     error
	payload []byte
	purpose timerPurpose
}

// run is the link's only writer of loop state. Every command and event is
// applied in arrival order, then a snapshot is published if anything changed.
func (l *Link) run(parent context.Context) {
	defer close(l.done)

	for {
		select {
		case <-parent.Done():
			l.logger.Info("chat link context done, disposing")
			l.teardown()
			return

		case cmd := <-l.cmds:
			if cmd.kind == cmdDispose {
				l.disposed.Store(true)
				cmd.reply <- nil
				l.teardown()
				return
			}
			cmd.reply <- l.handleCommand(cmd)

		case ev := <-l.events:
			l.handleEvent(ev)
		}
		l.commit()
	}
}

func (l *Link) handleCommand(cmd command) error {
	switch cmd.kind {
	case cmdConnect:
		return l.connect()
	case cmdDisconnect:
		return l.disconnect()
	case cmdPublish:
		return l.publish(cmd.text)
	case cmdReset:
		return l.reset()
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (l *Link) handleEvent(ev event) {
	switch ev.kind {
	case evOpenDone:
		l.onOpenDone(ev)
	case evCloseDone:
		l.onCloseDone(ev)
	case evSubscribeDone:
		l.onSubscribeDone(ev)
	case evPublishDone:
		l.onPublishDone(ev)
	case evInbound:
		l.onInbound(ev)
	case evConnectionLost:
		l.onConnectionLost(ev)
	case evTimer:
		l.onTimer(ev)
	}
}

// --- commands ---

func (l *Link) connect() error {
	switch l.state {
	case StateConnecting, StateDisconnecting:
		return ErrAlreadyInProgress
	case StateConnected:
		return nil
	}
	l.resetPending = false
	l.startConnect()
	return nil
}

func (l *Link) disconnect() error {
	l.resetPending = false
	switch l.state {
	case StateUninitialized, StateDisconnected:
		l.cancelTimer()
		return nil
	case StateDisconnecting:
		return nil
	}
	l.startDisconnect("Disconnecting...")
	return nil
}

func (l *Link) publish(text string) error {
	if l.state != StateConnected {
		return ErrNotConnected
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPayload
	}
	payload := []byte(text)
	if err := broker.ValidatePayload(payload); err != nil {
		return err
	}

	seq := l.sessionSeq
	channel, qos, timeout := l.opts.Channel, l.opts.QoS, l.opts.PublishTimeout
	go func() {
		err := runBounded(l.ctx, timeout, func(ctx context.Context) error {
			return l.transport.Publish(ctx, channel, payload, qos)
		})
		l.post(event{kind: evPublishDone, seq: seq, err: err})
	}()
	return nil
}

func (l *Link) reset() error {
	l.logger.Info("resetting chat link connection", "state", l.state, "attempts", l.attempts)
	l.attempts = 0
	l.markDirty()

	switch l.state {
	case StateConnecting, StateConnected, StateFailed:
		l.resetPending = true
		l.startDisconnect("Resetting connection...")
	case StateDisconnecting:
		l.resetPending = true
		l.cancelTimer()
		l.setStatus("Resetting connection...")
	default:
		l.resetPending = false
		l.setStatus("Resetting connection...")
		l.startTimer(timerSettle, l.opts.SettleDelay)
	}
	return nil
}

// --- operations ---

func (l *Link) startConnect() {
	l.cancelTimer()
	l.cancelOp()

	l.opSeq++
	seq := l.opSeq
	l.sessionSeq = 0
	l.subscribed = false
	l.setState(StateConnecting, "Connecting...")
	l.logger.Info("connecting to broker",
		"broker", fmt.Sprintf("%s:%d", l.opts.Host, l.opts.Port),
		"client_id", l.opts.ClientID,
		"attempts", l.attempts,
	)

	ctx, cancel := context.WithCancel(l.ctx)
	l.opCancel = cancel

	open := l.opts.openOptions()
	open.OnConnectionLost = func(err error) {
		l.post(event{kind: evConnectionLost, seq: seq, err: err})
	}
	timeout := l.opts.ConnectTimeout

	go func() {
		err := runBounded(ctx, timeout, func(ctx context.Context) error {
			return l.transport.Open(ctx, open)
		})
		l.post(event{kind: evOpenDone, seq: seq, err: err})
	}()
}

func (l *Link) startDisconnect(status string) {
	l.cancelTimer()
	l.cancelOp()

	l.opSeq++
	seq := l.opSeq
	l.sessionSeq = 0
	l.subscribed = false
	l.setState(StateDisconnecting, status)
	l.logger.Info("disconnecting from broker")

	timeout := l.opts.DisconnectTimeout
	go func() {
		err := runBounded(l.ctx, timeout, l.transport.Close)
		l.post(event{kind: evCloseDone, seq: seq, err: err})
	}()
}

func (l *Link) startSubscribe(seq uint64) {
	channel, qos, timeout := l.opts.Channel, l.opts.QoS, l.opts.SubscribeTimeout
	handler := func(payload []byte) {
		l.post(event{kind: evInbound, seq: seq, payload: payload})
	}

	go func() {
		err := runBounded(l.ctx, timeout, func(ctx context.Context) error {
			return l.transport.Subscribe(ctx, channel, qos, handler)
		})
		l.post(event{kind: evSubscribeDone, seq: seq, err: err})
	}()
}

// scheduleRetry counts a failed open and arms the retry timer while the
// policy allows another attempt.
func (l *Link) scheduleRetry() {
	attempts, retry := l.opts.Reconnect.Next(l.attempts)
	l.attempts = attempts
	l.markDirty()

	if !retry {
		l.logger.Warn("reconnect attempts exhausted, waiting for reset",
			"attempts", l.attempts,
			"max_attempts", l.opts.Reconnect.MaxAttempts,
		)
		return
	}
	l.logger.Info("scheduling reconnect",
		"attempt", l.attempts+1,
		"max_attempts", l.opts.Reconnect.MaxAttempts,
		"delay", l.opts.Reconnect.Delay,
	)
	l.startTimer(timerRetry, l.opts.Reconnect.Delay)
}

// --- completions ---

func (l *Link) onOpenDone(ev event) {
	if ev.seq != l.opSeq || l.state != StateConnecting {
		l.logger.Debug("ignoring stale open result", "seq", ev.seq, "error", ev.err)
		return
	}
	l.cancelOp()

	if ev.err != nil {
		l.logger.Warn("broker connection failed", "error", ev.err, "attempts", l.attempts)
		l.setState(StateFailed, "Error: "+ev.err.Error())
		l.scheduleRetry()
		return
	}

	l.sessionSeq = ev.seq
	l.attempts = 0
	l.setState(StateConnected, "Connected")
	l.logger.Info("connected to broker", "channel", l.opts.Channel)
	l.startSubscribe(ev.seq)
}

func (l *Link) onCloseDone(ev event) {
	if ev.seq != l.opSeq || l.state != StateDisconnecting {
		l.logger.Debug("ignoring stale close result", "seq", ev.seq, "error", ev.err)
		return
	}

	if ev.err != nil {
		l.logger.Warn("broker disconnect failed", "error", ev.err)
		l.setState(StateDisconnected, "Disconnect error: "+ev.err.Error())
	} else {
		l.logger.Info("disconnected from broker")
		l.setState(StateDisconnected, "Disconnected")
	}

	if l.resetPending {
		l.resetPending = false
		l.startTimer(timerSettle, l.opts.SettleDelay)
	}
}

func (l *Link) onSubscribeDone(ev event) {
	if ev.seq != l.sessionSeq || l.state != StateConnected {
		return
	}
	if ev.err != nil {
		l.logger.Warn("chat channel subscribe failed", "channel", l.opts.Channel, "error", ev.err)
		l.setStatus("Subscribe failed: " + ev.err.Error())
		return
	}
	l.subscribed = true
	l.setStatus("Subscribed to " + l.opts.Channel)
	l.logger.Info("subscribed to chat channel", "channel", l.opts.Channel)
}

func (l *Link) onPublishDone(ev event) {
	if ev.seq != l.sessionSeq {
		return
	}
	if ev.err != nil {
		l.logger.Warn("chat publish failed", "error", ev.err)
		l.setStatus("Publish failed: " + ev.err.Error())
		return
	}
	l.setStatus("Message published")
}

func (l *Link) onInbound(ev event) {
	if ev.seq != l.sessionSeq {
		return
	}
	text := strings.ToValidUTF8(string(ev.payload), "\uFFFD")
	if text == "" {
		l.logger.Debug("skipping empty chat message")
		return
	}
	l.messages = append(l.messages, ChatMessage{
		Index:      len(l.messages),
		Text:       text,
		ReceivedAt: l.now(),
	})
	l.markDirty()
}

func (l *Link) onConnectionLost(ev event) {
	if ev.seq != l.sessionSeq || l.state != StateConnected {
		return
	}
	l.logger.Warn("broker connection lost", "error", ev.err)

	l.sessionSeq = 0
	l.subscribed = false
	reason := "unknown error"
	if ev.err != nil {
		reason = ev.err.Error()
	}
	l.setState(StateFailed, "Connection lost: "+reason)
	l.scheduleRetry()
}

func (l *Link) onTimer(ev event) {
	if ev.seq != l.timerSeq || l.timer == nil {
		return
	}
	l.timer = nil

	switch ev.purpose {
	case timerRetry:
		if l.state == StateFailed {
			l.startConnect()
		}
	case timerSettle:
		if l.state != StateConnecting && l.state != StateConnected && l.state != StateDisconnecting {
			l.startConnect()
		}
	}
}

// --- teardown ---

func (l *Link) teardown() {
	l.disposed.Store(true)
	l.cancelTimer()
	l.cancelOp()
	l.resetPending = false

	hadSession := l.state.hasSession()
	l.opSeq++
	l.sessionSeq = 0
	l.cancel()

	if hadSession {
		if err := runBounded(context.Background(), l.opts.DisconnectTimeout, l.transport.Close); err != nil {
			l.logger.Warn("closing transport on dispose", "error", err)
		}
	}

	l.subscribed = false
	l.setState(StateDisconnected, "Disposed")
	l.commit()
	l.closeWatchers()
	l.logger.Info("chat link disposed", "messages", len(l.messages))
}

// --- helpers ---

func (l *Link) setState(state ConnectionState, status string) {
	if l.state != state {
		l.logger.Debug("chat link state changed", "from", l.state, "to", state)
	}
	l.state = state
	l.status = status
	l.dirty = true
}

func (l *Link) setStatus(status string) {
	l.status = status
	l.dirty = true
}

func (l *Link) markDirty() {
	l.dirty = true
}

func (l *Link) cancelOp() {
	if l.opCancel != nil {
		l.opCancel()
		l.opCancel = nil
	}
}

func (l *Link) startTimer(purpose timerPurpose, d time.Duration) {
	l.cancelTimer()
	seq := l.timerSeq
	l.timer = time.AfterFunc(d, func() {
		l.post(event{kind: evTimer, seq: seq, purpose: purpose})
	})
}

// cancelTimer stops the pending timer. Bumping timerSeq also voids a timer
// that already fired but whose event is still queued.
func (l *Link) cancelTimer() {
	l.timerSeq++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// runBounded runs op with a deadline and maps the outcome onto the link's
// error taxonomy. It returns when the deadline passes even if op does not.
func runBounded(parent context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- op(ctx) }()

	select {
	case err := <-errc:
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransport):
			return err
		default:
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return ctx.Err()
	}
}
