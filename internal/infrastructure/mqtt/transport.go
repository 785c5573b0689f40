package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/chatlink/internal/broker"
)

// subackFailure is the MQTT 3.1.1 SUBACK return code for a refused filter.
const subackFailure = 0x80

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds transport settings that are not part of a session request.
type Config struct {
	// Channel scopes the presence topics. Required when Presence is set.
	Channel string

	// Presence enables online/offline documents and the last will.
	Presence bool

	// ConnectTimeout bounds paho's own network dial. The caller's context
	// still bounds the whole Open.
	ConnectTimeout time.Duration

	// DisconnectQuiesce is how long paho may flush pending work on Close.
	DisconnectQuiesce time.Duration
}

// Transport implements broker.Transport with paho.mqtt.golang.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Message handlers run on paho's router goroutine, in broker order.
type Transport struct {
	cfg       Config
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu       sync.RWMutex
	client   pahomqtt.Client
	clientID string
	gen      uint64 // bumped by Open and Close; voids older in-flight Opens

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates an MQTT transport. No network activity happens until Open.
func New(cfg Config) *Transport {
	if cfg.DisconnectQuiesce <= 0 {
		cfg.DisconnectQuiesce = defaultDisconnectQuiesce
	}
	return &Transport{
		cfg:       cfg,
		newClient: pahomqtt.NewClient,
		logger:    noopLogger{},
	}
}

// SetLogger sets a logger for handler errors and panics.
func (t *Transport) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// Open connects a new paho client. Any previous client is disconnected first.
//
// Open returns when the broker acknowledges the connection or ctx is done,
// whichever comes first. A client abandoned by ctx, or overtaken by a Close
// or a newer Open while connecting, is disconnected.
func (t *Transport) Open(ctx context.Context, opts broker.OpenOptions) error {
	if opts.ClientID == "" {
		return ErrInvalidClientID
	}

	t.mu.Lock()
	previous := t.client
	t.client = nil
	t.gen++
	gen := t.gen
	t.mu.Unlock()
	if previous != nil {
		previous.Disconnect(0)
	}

	po := buildClientOptions(opts, t.cfg.ConnectTimeout)
	topics := Topics{Channel: t.cfg.Channel}
	if t.cfg.Presence {
		configureLWT(po, topics, opts.ClientID)
	}

	var client pahomqtt.Client
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.handleConnectionLost(client, opts.OnConnectionLost, err)
	})

	client = t.newClient(po)
	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := t.adopt(ctx, gen, client, opts.ClientID); err != nil {
		client.Disconnect(0)
		return err
	}

	if t.cfg.Presence {
		// Fire and forget: presence is advisory.
		client.Publish(topics.Presence(opts.ClientID), presenceQoS, true, buildOnlinePayload(opts.ClientID))
	}
	return nil
}

// adopt makes client current unless ctx ended or gen was superseded.
func (t *Transport) adopt(ctx context.Context, gen uint64, client pahomqtt.Client, clientID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.gen != gen {
		return broker.ErrOpenAborted
	}
	t.client = client
	t.clientID = clientID
	return nil
}

// handleConnectionLost detaches client if it is still current and reports err.
func (t *Transport) handleConnectionLost(client pahomqtt.Client, notify func(error), err error) {
	t.mu.Lock()
	current := t.client == client
	if current {
		t.client = nil
	}
	t.mu.Unlock()

	if !current {
		return
	}
	t.getLogger().Warn("MQTT connection lost", "error", err)
	if notify != nil {
		notify(err)
	}
}

// Close disconnects the current client. Closing a closed transport is not an error.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	clientID := t.clientID
	t.client = nil
	t.gen++
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	if t.cfg.Presence && client.IsConnected() {
		topic := Topics{Channel: t.cfg.Channel}.Presence(clientID)
		token := client.Publish(topic, presenceQoS, true, buildOfflinePayload(clientID, "graceful_shutdown"))
		if err := waitToken(ctx, token); err != nil {
			t.getLogger().Debug("offline presence not delivered", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		client.Disconnect(uint(t.cfg.DisconnectQuiesce / time.Millisecond))
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler for channel on the current session.
func (t *Transport) Subscribe(ctx context.Context, channel string, qos byte, handler broker.MessageHandler) error {
	if err := broker.ValidateChannel(channel); err != nil {
		return err
	}
	if err := broker.ValidateQoS(qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	client, err := t.connectedClient()
	if err != nil {
		return err
	}

	token := client.Subscribe(channel, qos, t.wrapHandler(handler))
	if err := waitToken(ctx, token); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[channel]; found && code == subackFailure {
			return fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, channel)
		}
	}
	return nil
}

// Publish sends payload to channel, never retained.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte, qos byte) error {
	if err := broker.ValidateChannel(channel); err != nil {
		return err
	}
	if err := broker.ValidateQoS(qos); err != nil {
		return err
	}
	if err := broker.ValidatePayload(payload); err != nil {
		return err
	}

	client, err := t.connectedClient()
	if err != nil {
		return err
	}

	if err := waitToken(ctx, client.Publish(channel, qos, false, payload)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports whether a client is attached and paho considers it connected.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil && t.client.IsConnected()
}

// HealthCheck verifies the MQTT connection is alive.
func (t *Transport) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !t.IsConnected() {
		return broker.ErrNotOpen
	}
	return nil
}

func (t *Transport) connectedClient() (pahomqtt.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil || !t.client.IsConnected() {
		return nil, broker.ErrNotOpen
	}
	return t.client, nil
}

// wrapHandler wraps a MessageHandler with panic recovery.
func (t *Transport) wrapHandler(handler broker.MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				t.getLogger().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		handler(msg.Payload())
	}
}

// waitToken blocks until token completes or ctx is done.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
