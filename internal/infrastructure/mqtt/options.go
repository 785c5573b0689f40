package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/chatlink/internal/broker"
)

// Connection constants.
const (
	// defaultDisconnectQuiesce is the time paho waits for pending work on disconnect.
	defaultDisconnectQuiesce = 250 * time.Millisecond

	// presenceQoS is used for presence documents and the last will.
	presenceQoS = broker.QoSAtLeastOnce

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns the paho server URL for opts.
func brokerURL(opts broker.OpenOptions) string {
	scheme := "tcp"
	if opts.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port)
}

// buildClientOptions creates paho MQTT options for one session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Clean session and keepalive from the request
//   - No automatic reconnection; the caller owns retry policy
//   - TLS configuration (if enabled)
func buildClientOptions(opts broker.OpenOptions, connectTimeout time.Duration) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	po.AddBroker(brokerURL(opts))
	po.SetClientID(opts.ClientID)

	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(opts.CleanSession)

	po.SetAutoReconnect(false)
	po.SetConnectRetry(false)

	if connectTimeout > 0 {
		po.SetConnectTimeout(connectTimeout)
	}
	if opts.KeepAlive > 0 {
		po.SetKeepAlive(opts.KeepAlive)
	}

	// Handlers for one channel must see messages in broker order.
	po.SetOrderMatters(true)

	if opts.TLS {
		po.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return po
}

// configureLWT registers the retained offline document as the session's last will.
func configureLWT(po *pahomqtt.ClientOptions, topics Topics, clientID string) {
	po.SetWill(topics.Presence(clientID), buildOfflinePayload(clientID, "unexpected_disconnect"), presenceQoS, true)
}
