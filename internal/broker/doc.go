// Package broker defines the capability a chat link needs from a message
// broker: open a session, subscribe to one channel, publish to it, close.
//
// Implementations live elsewhere:
//   - internal/infrastructure/mqtt   MQTT 3.1.1 via paho.mqtt.golang
//   - internal/infrastructure/mqtt5  MQTT 5 via paho.golang/autopaho
//   - internal/infrastructure/redis  Redis pub/sub via go-redis
//   - internal/broker/memory         in-process hub for tests and offline demos
//
// Every method takes a context and must return once that context is done.
// Wire framing, TCP/TLS and delivery guarantees are the implementation's
// concern; callers only see success or an error.
package broker
