package chatlink

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/chatlink/internal/broker"
)

// Default timing, matching the reference chat client.
const (
	DefaultConnectTimeout    = 15 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultPublishTimeout    = 10 * time.Second
	DefaultSubscribeTimeout  = 10 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	DefaultKeepAlive         = 60 * time.Second

	// DefaultChannel is the public channel the reference client chats on.
	DefaultChannel = "chat/publico/kotlin_compose"
)

// Options configures a Link. They are fixed for the link's lifetime.
type Options struct {
	// ClientID identifies the session to the broker. Supplied by the caller;
	// the link never generates one.
	ClientID string

	Host      string
	Port      int
	TLS       bool
	Username  string
	Password  string
	KeepAlive time.Duration

	// Channel is the single channel the link subscribes and publishes to.
	Channel string
	QoS     byte

	Reconnect ReconnectPolicy

	// SettleDelay separates the forced disconnect and the new connect of
	// ResetConnection.
	SettleDelay time.Duration

	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	PublishTimeout    time.Duration
	SubscribeTimeout  time.Duration
}

// DefaultOptions returns the reference configuration for clientID:
// test.mosquitto.org:1883, the public chat channel, QoS 0.
func DefaultOptions(clientID string) Options {
	return Options{
		ClientID:          clientID,
		Host:              "test.mosquitto.org",
		Port:              1883,
		KeepAlive:         DefaultKeepAlive,
		Channel:           DefaultChannel,
		QoS:               broker.QoSAtMostOnce,
		Reconnect:         DefaultReconnectPolicy(),
		SettleDelay:       DefaultSettleDelay,
		ConnectTimeout:    DefaultConnectTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
		PublishTimeout:    DefaultPublishTimeout,
		SubscribeTimeout:  DefaultSubscribeTimeout,
	}
}

// withDefaults fills zero durations. Reconnect is left alone: zero attempts
// is a valid "never retry" policy.
func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = DefaultSubscribeTimeout
	}
	return o
}

// Validate checks the options for errors.
func (o Options) Validate() error {
	var errs []string

	if strings.TrimSpace(o.ClientID) == "" {
		errs = append(errs, "client id is required")
	}
	if o.Host == "" {
		errs = append(errs, "host is required")
	}
	if o.Port < 1 || o.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if err := broker.ValidateChannel(o.Channel); err != nil {
		errs = append(errs, err.Error())
	}
	if err := broker.ValidateQoS(o.QoS); err != nil {
		errs = append(errs, err.Error())
	}
	if err := o.Reconnect.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(errs, "; "))
	}
	return nil
}

// openOptions builds the transport session request.
func (o Options) openOptions() broker.OpenOptions {
	return broker.OpenOptions{
		ClientID:     o.ClientID,
		Host:         o.Host,
		Port:         o.Port,
		KeepAlive:    o.KeepAlive,
		CleanSession: true,
		TLS:          o.TLS,
		Username:     o.Username,
		Password:     o.Password,
	}
}
