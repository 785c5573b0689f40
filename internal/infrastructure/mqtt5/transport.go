// Package mqtt5 provides a broker.Transport over MQTT 5 using the
// eclipse/paho.golang autopaho connection manager.
//
// autopaho reconnects by itself; this transport switches that off after the
// first established connection drops, reports the drop through
// broker.OpenOptions.OnConnectionLost and leaves retry policy to the caller.
package mqtt5

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nerrad567/chatlink/internal/broker"
)

// Domain-specific errors for MQTT 5 operations.
var (
	ErrConnectionFailed = errors.New("mqtt5: connection failed")
	ErrPublishFailed    = errors.New("mqtt5: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt5: subscribe failed")
)

// abandonTimeout bounds the DISCONNECT of a session an Open no longer wants.
const abandonTimeout = 5 * time.Second

// reasonFailure is the first MQTT 5 reason code that signals failure.
const reasonFailure = 0x80

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds transport settings that are not part of a session request.
type Config struct {
	// SessionExpiry is sent as the MQTT 5 session expiry interval.
	// Zero ends the session with the connection.
	SessionExpiry time.Duration
}

// session is one autopaho connection manager and its bookkeeping.
type session struct {
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
	router *paho.StandardRouter

	mu      sync.Mutex
	up      bool
	closing bool
	lastErr error
}

func (s *session) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// down marks the session dead and reports whether the owner must be told.
func (s *session) down() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notify := s.up && !s.closing
	s.up = false
	err := s.lastErr
	if err == nil {
		err = errors.New("mqtt5: connection down")
	}
	return notify, err
}

// Transport implements broker.Transport with autopaho.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Transport struct {
	cfg    Config
	logger Logger

	mu      sync.RWMutex
	current *session
	gen     uint64 // bumped by Open and Close; voids older in-flight Opens
}

// New creates an MQTT 5 transport. No network activity happens until Open.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger. Call before Open.
func (t *Transport) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// serverURL returns the broker URL for opts.
func serverURL(opts broker.OpenOptions) (*url.URL, error) {
	scheme := "mqtt"
	if opts.TLS {
		scheme = "mqtts"
	}
	u, err := url.Parse(fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port))
	if err != nil {
		return nil, fmt.Errorf("mqtt5 invalid URL: %w", err)
	}
	return u, nil
}

// buildClientConfig maps a session request onto autopaho settings. Callbacks
// are attached by Open.
func buildClientConfig(opts broker.OpenOptions, cfg Config, router paho.Router) (autopaho.ClientConfig, error) {
	u, err := serverURL(opts)
	if err != nil {
		return autopaho.ClientConfig{}, err
	}

	cc := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     uint16(opts.KeepAlive / time.Second),
		CleanStartOnInitialConnection: opts.CleanSession,
		SessionExpiryInterval:         uint32(cfg.SessionExpiry / time.Second),
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
			Router:   router,
		},
	}
	if opts.Username != "" {
		cc.ConnectUsername = opts.Username
		cc.ConnectPassword = []byte(opts.Password)
	}
	if opts.TLS {
		cc.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cc, nil
}

// Open starts a connection manager and waits for the first connection.
// A previous session is shut down first. A session overtaken by ctx, a Close
// or a newer Open while connecting is stopped again.
func (t *Transport) Open(ctx context.Context, opts broker.OpenOptions) error {
	if opts.ClientID == "" {
		return fmt.Errorf("%w: client id cannot be empty", ErrConnectionFailed)
	}
	if err := t.shutdown(ctx); err != nil {
		t.logger.Debug("MQTT5 previous session not closed cleanly", "error", err)
	}
	gen := t.nextGen()

	router := paho.NewStandardRouter()
	cc, err := buildClientConfig(opts, t.cfg, router)
	if err != nil {
		return err
	}

	s := &session{router: router}
	connectErr := make(chan error, 1)

	cc.OnConnectionUp = func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
		s.mu.Lock()
		s.up = true
		s.mu.Unlock()
	}
	cc.OnConnectError = func(err error) {
		select {
		case connectErr <- err:
		default:
		}
	}
	cc.OnConnectionDown = func() bool {
		notify, err := s.down()
		if notify {
			t.logger.Warn("MQTT5 connection lost", "error", err)
			if opts.OnConnectionLost != nil {
				opts.OnConnectionLost(err)
			}
		}
		return false
	}
	cc.ClientConfig.OnClientError = s.recordError
	cc.ClientConfig.OnServerDisconnect = func(d *paho.Disconnect) {
		s.recordError(fmt.Errorf("mqtt5: server disconnect, reason code %d", d.ReasonCode))
	}

	// The manager outlives Open, so it gets its own context.
	sessionCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	cm, err := autopaho.NewConnection(sessionCtx, cc)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	s.cm = cm

	awaited := make(chan error, 1)
	go func() { awaited <- cm.AwaitConnection(ctx) }()

	select {
	case err := <-awaited:
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	case err := <-connectErr:
		cancel()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := t.adopt(ctx, gen, s); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
		defer cancel()
		if stopErr := s.stop(stopCtx); stopErr != nil {
			t.logger.Debug("MQTT5 abandoned session disconnect failed", "error", stopErr)
		}
		return err
	}
	t.logger.Debug("MQTT5 connected", "client_id", opts.ClientID)
	return nil
}

func (t *Transport) nextGen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	return t.gen
}

// adopt makes s current unless ctx ended or gen was superseded.
func (t *Transport) adopt(ctx context.Context, gen uint64, s *session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.gen != gen {
		return broker.ErrOpenAborted
	}
	t.current = s
	return nil
}

// stop sends DISCONNECT and ends the connection manager.
func (s *session) stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.cm.Disconnect(ctx)
	s.cancel()
	return err
}

// shutdown stops the current session, if any.
func (t *Transport) shutdown(ctx context.Context) error {
	t.mu.Lock()
	s := t.current
	t.current = nil
	t.gen++
	t.mu.Unlock()
	if s == nil {
		return nil
	}

	err := s.stop(ctx)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		t.logger.Debug("MQTT5 disconnect on dead connection", "error", err)
	}
	return nil
}

// Close sends DISCONNECT and stops the connection manager.
func (t *Transport) Close(ctx context.Context) error {
	return t.shutdown(ctx)
}

func (t *Transport) active() (*session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, broker.ErrNotOpen
	}
	return t.current, nil
}

// Subscribe registers handler on the session router and subscribes to channel.
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
	s, err := t.active()
	if err != nil {
		return err
	}

	s.router.RegisterHandler(channel, func(p *paho.Publish) {
		handler(p.Payload)
	})

	suback, err := s.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: channel, QoS: qos},
		},
	})
	if err != nil {
		s.router.UnregisterHandler(channel)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if suback != nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= reasonFailure {
		s.router.UnregisterHandler(channel)
		return fmt.Errorf("%w: reason code %d", ErrSubscribeFailed, suback.Reasons[0])
	}
	return nil
}

// Publish sends payload to channel.
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
	s, err := t.active()
	if err != nil {
		return err
	}

	if _, err := s.cm.Publish(ctx, &paho.Publish{
		Topic:   channel,
		QoS:     qos,
		Payload: payload,
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
