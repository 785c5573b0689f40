package chatlink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/chatlink/internal/broker"
)

// eventBufferSize bounds queued transport events before callbacks block.
const eventBufferSize = 64

// Logger defines the logging interface for a link.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Link is a chat client bound to one broker transport and one channel.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Link state is only written by the link's own goroutine.
type Link struct {
	transport broker.Transport
	opts      Options
	logger    Logger
	now       func() time.Time

	cmds   chan command
	events chan event
	done   chan struct{}

	started  atomic.Bool
	disposed atomic.Bool

	// snapMu guards the published snapshot and the watcher set.
	snapMu   sync.RWMutex
	snap     Snapshot
	watchers map[*watcher]struct{}
	closed   bool

	// Everything below is owned by the loop goroutine.
	ctx        context.Context
	cancel     context.CancelFunc
	state      ConnectionState
	status     string
	attempts   int
	subscribed bool
	messages   []ChatMessage
	version    uint64
	dirty      bool

	// opSeq identifies the current open/close operation; sessionSeq is the
	// opSeq of the open session (0 when none). Results carrying another
	// sequence belong to a superseded operation.
	opSeq      uint64
	sessionSeq uint64
	opCancel   context.CancelFunc

	// resetPending arms the settle timer once the current close completes.
	resetPending bool

	timer    *time.Timer
	timerSeq uint64
}

// New creates a link driving transport with opts.
//
// Zero durations in opts are replaced with the defaults. The link is inert
// until Start is called.
func New(transport broker.Transport, opts Options) (*Link, error) {
	if transport == nil {
		return nil, ErrTransportUninitialized
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	l := &Link{
		transport: transport,
		opts:      opts,
		logger:    noopLogger{},
		now:       time.Now,
		cmds:      make(chan command),
		events:    make(chan event, eventBufferSize),
		done:      make(chan struct{}),
		watchers:  make(map[*watcher]struct{}),
		state:     StateUninitialized,
		status:    "Initializing",
	}
	l.snap = l.buildSnapshot()
	return l, nil
}

// SetLogger sets the logger. Call before Start.
func (l *Link) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

// Options returns the options the link was created with, defaults applied.
func (l *Link) Options() Options {
	return l.opts
}

// Start launches the link's goroutine. Cancelling ctx disposes the link.
func (l *Link) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: link already started", ErrAlreadyInProgress)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.logger.Info("chat link started",
		"client_id", l.opts.ClientID,
		"broker", fmt.Sprintf("%s:%d", l.opts.Host, l.opts.Port),
		"channel", l.opts.Channel,
	)
	go l.run(ctx)
	return nil
}

// Done is closed once the link has been disposed and its transport closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Connect starts a connection attempt.
//
// It returns ErrAlreadyInProgress while an attempt is running and nil
// without side effects when already connected. The outcome of the attempt
// is reported through snapshots.
func (l *Link) Connect() error {
	return l.do(command{kind: cmdConnect})
}

// Disconnect closes the session. It is a no-op when the link never
// connected or is already disconnected. The reconnect counter is kept.
func (l *Link) Disconnect() error {
	return l.do(command{kind: cmdDisconnect})
}

// Publish sends text on the chat channel.
//
// It returns ErrNotConnected unless the link is connected and
// ErrEmptyPayload for blank text; a rejected call has no side effects.
// Delivery failures are reported through the status text only.
func (l *Link) Publish(text string) error {
	return l.do(command{kind: cmdPublish, text: text})
}

// ResetConnection clears the reconnect counter, forces a disconnect and
// connects again after the settle delay. It is the only way to resume after
// the reconnect budget is spent.
func (l *Link) ResetConnection() error {
	return l.do(command{kind: cmdReset})
}

// Dispose cancels pending timers and in-flight operations, closes the
// transport and stops the link. Every later command, Dispose included,
// returns ErrDisposed. Wait on Done for teardown to finish.
func (l *Link) Dispose() error {
	return l.do(command{kind: cmdDispose})
}

// do hands a command to the loop and waits for its immediate answer.
func (l *Link) do(cmd command) error {
	if !l.started.Load() {
		return ErrTransportUninitialized
	}
	if l.disposed.Load() {
		return ErrDisposed
	}

	cmd.reply = make(chan error, 1)
	select {
	case l.cmds <- cmd:
	case <-l.done:
		return ErrDisposed
	}
	return <-cmd.reply
}

// post queues an event for the loop. Events posted after teardown are dropped.
func (l *Link) post(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// Snapshot returns the most recently published snapshot.
func (l *Link) Snapshot() Snapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	return l.snap
}

// State returns the current connection state.
func (l *Link) State() ConnectionState {
	return l.Snapshot().State
}

// Status returns the current status text.
func (l *Link) Status() string {
	return l.Snapshot().Status
}

// IsConnected reports whether the link is connected.
func (l *Link) IsConnected() bool {
	return l.Snapshot().Connected
}

// Messages returns the received message log in arrival order.
func (l *Link) Messages() []ChatMessage {
	return l.Snapshot().Messages
}

// HealthCheck returns nil when the link is connected.
func (l *Link) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("chatlink health check: %w", ctx.Err())
	default:
	}

	if l.disposed.Load() {
		return ErrDisposed
	}
	if !l.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
