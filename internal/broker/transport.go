package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QoS levels understood by all transports.
// Transports without a QoS concept (Redis) ignore the value.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
	QoSExactlyOnce byte = 2
)

// MaxPayloadSize bounds a single chat payload (1MB).
const MaxPayloadSize = 1 << 20

var (
	// ErrInvalidChannel is returned for an empty channel or one containing wildcards.
	ErrInvalidChannel = errors.New("broker: invalid channel")

	// ErrInvalidQoS is returned when a QoS level outside 0-2 is given.
	ErrInvalidQoS = errors.New("broker: invalid QoS level (must be 0, 1, or 2)")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("broker: payload too large")

	// ErrNotOpen is returned when Subscribe or Publish is called without an open session.
	ErrNotOpen = errors.New("broker: session not open")

	// ErrOpenAborted is returned by an Open that a concurrent Close or a
	// newer Open overtook. The session it established is torn down.
	ErrOpenAborted = errors.New("broker: open aborted")
)

// MessageHandler receives the raw payload of one inbound message.
//
// Handlers may be invoked from any goroutine and must not block for long.
type MessageHandler func(payload []byte)

// OpenOptions describes the session a transport should establish.
type OpenOptions struct {
	// ClientID identifies this session to the broker. Must be unique per session.
	ClientID string

	// Host and Port locate the broker.
	Host string
	Port int

	// KeepAlive is the keepalive interval negotiated with the broker.
	KeepAlive time.Duration

	// CleanSession asks the broker not to keep state between sessions.
	CleanSession bool

	// TLS selects an encrypted connection where the transport supports it.
	TLS bool

	// Username and Password are optional credentials.
	Username string
	Password string

	// OnConnectionLost, when set, is called once if an open session drops
	// without Close having been called.
	OnConnectionLost func(err error)
}

// Address returns host:port.
func (o OpenOptions) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Transport is the broker capability consumed by a chat link.
//
// A Transport handle is driven by exactly one link. Implementations must be
// safe to call from multiple goroutines, but callers never issue two Open
// calls concurrently.
type Transport interface {
	// Open establishes a session. Calling Open on an open transport replaces
	// the previous session.
	Open(ctx context.Context, opts OpenOptions) error

	// Close ends the session. Closing a transport that is not open returns nil.
	Close(ctx context.Context) error

	// Subscribe registers handler for messages published on channel.
	Subscribe(ctx context.Context, channel string, qos byte, handler MessageHandler) error

	// Publish sends payload on channel.
	Publish(ctx context.Context, channel string, payload []byte, qos byte) error
}

// ValidateChannel checks a channel name used for both publishing and
// subscribing. Wildcards are rejected because a chat link publishes to the
// same channel it listens on.
func ValidateChannel(channel string) error {
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("%w: channel cannot be empty", ErrInvalidChannel)
	}
	if strings.ContainsAny(channel, "+#*\x00") {
		return fmt.Errorf("%w: %q contains wildcard or NUL characters", ErrInvalidChannel, channel)
	}
	return nil
}

// ValidateQoS checks a QoS level.
func ValidateQoS(qos byte) error {
	if qos > QoSExactlyOnce {
		return ErrInvalidQoS
	}
	return nil
}

// ValidatePayload checks an outbound payload's size.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}
