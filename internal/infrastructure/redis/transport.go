// Package redis provides a broker.Transport over Redis pub/sub using
// redis/go-redis.
//
// A chat channel maps one-to-one onto a Redis channel. Redis has no QoS or
// session state, so QoS is validated and otherwise ignored, and clean
// sessions are the only kind. A keepalive loop pings the server at the
// requested interval and reports the session lost on the first failure.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/chatlink/internal/broker"
)

// Domain-specific errors for Redis operations.
var (
	ErrConnectionFailed = errors.New("redis: connection failed")
	ErrPublishFailed    = errors.New("redis: publish failed")
	ErrSubscribeFailed  = errors.New("redis: subscribe failed")
)

// pingTimeout bounds each keepalive ping.
const pingTimeout = 5 * time.Second

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
	// DB selects the Redis logical database. Pub/sub ignores it but the
	// keepalive connection honours it.
	DB int
}

// session is one client plus its subscriptions and keepalive loop.
type session struct {
	client *goredis.Client
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	subs    []*goredis.PubSub
	closing bool
}

func (s *session) markClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.closing = true
	return true
}

// Transport implements broker.Transport with Redis pub/sub.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Each subscription delivers on its own goroutine, in server order.
type Transport struct {
	cfg    Config
	logger Logger

	mu      sync.RWMutex
	current *session
	gen     uint64 // bumped by Open and Close; voids older in-flight Opens
}

// New creates a Redis transport. No network activity happens until Open.
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

// buildOptions maps a session request onto go-redis options.
func buildOptions(opts broker.OpenOptions, cfg Config) *goredis.Options {
	ro := &goredis.Options{
		Addr:       opts.Address(),
		ClientName: opts.ClientID,
		Username:   opts.Username,
		Password:   opts.Password,
		DB:         cfg.DB,
		// The caller owns retry policy.
		MaxRetries: -1,
	}
	if opts.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return ro
}

// Open creates a client and verifies it with PING.
func (t *Transport) Open(ctx context.Context, opts broker.OpenOptions) error {
	if opts.ClientID == "" {
		return fmt.Errorf("%w: client id cannot be empty", ErrConnectionFailed)
	}
	if err := t.Close(ctx); err != nil {
		t.logger.Debug("redis previous session not closed cleanly", "error", err)
	}
	gen := t.nextGen()

	client := goredis.NewClient(buildOptions(opts, t.cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s := &session{client: client, stop: make(chan struct{})}
	if opts.KeepAlive > 0 {
		s.wg.Add(1)
		go t.keepalive(s, opts.KeepAlive, opts.OnConnectionLost)
	}

	if err := t.adopt(ctx, gen, s); err != nil {
		if s.markClosing() {
			if closeErr := t.closeSession(s); closeErr != nil && !errors.Is(closeErr, goredis.ErrClosed) {
				t.logger.Debug("redis abandoned session close failed", "error", closeErr)
			}
		}
		s.wg.Wait()
		return err
	}
	t.logger.Debug("redis connected", "addr", opts.Address(), "client_id", opts.ClientID)
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

// keepalive pings the server every interval until the session stops or a
// ping fails.
func (t *Transport) keepalive(s *session, interval time.Duration, notify func(error)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := s.client.Ping(ctx).Err()
			cancel()
			if err == nil {
				continue
			}
			if !t.detach(s) {
				return
			}
			t.logger.Warn("redis connection lost", "error", err)
			go t.closeSession(s)
			if notify != nil {
				notify(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
			}
			return
		}
	}
}

// detach clears s as the current session. It reports false if s was
// already closing.
func (t *Transport) detach(s *session) bool {
	if !s.markClosing() {
		return false
	}
	t.mu.Lock()
	if t.current == s {
		t.current = nil
	}
	t.mu.Unlock()
	return true
}

func (t *Transport) closeSession(s *session) error {
	close(s.stop)

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close unsubscribes and closes the client.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	s := t.current
	t.gen++
	t.mu.Unlock()
	if s == nil || !t.detach(s) {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- t.closeSession(s) }()

	select {
	case err := <-done:
		s.wg.Wait()
		if err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) active() (*session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, broker.ErrNotOpen
	}
	return t.current, nil
}

// Subscribe subscribes to channel and delivers payloads to handler.
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

	ps := s.client.Subscribe(ctx, channel)
	// Receive returns the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ps.Close()
		return broker.ErrNotOpen
	}
	s.subs = append(s.subs, ps)
	s.mu.Unlock()

	messages := ps.Channel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range messages {
			handler([]byte(msg.Payload))
		}
	}()
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

	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
