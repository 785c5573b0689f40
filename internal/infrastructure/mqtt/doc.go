// Package mqtt provides a broker.Transport over MQTT 3.1.1 using
// eclipse/paho.mqtt.golang.
//
// The transport owns at most one paho client at a time. It never reconnects
// on its own: a dropped session is reported through
// broker.OpenOptions.OnConnectionLost and the caller decides what to do.
//
// # Presence
//
// With Config.Presence set, the transport publishes a retained "online"
// document for its client id after connecting, a graceful "offline" document
// before disconnecting, and registers an "offline" last will so the broker
// announces unexpected drops:
//
//	<channel>/presence/<client-id>
//
// # Usage
//
//	t := mqtt.New(mqtt.Config{Channel: "chat/room"})
//	t.SetLogger(logger)
//
//	link, err := chatlink.New(t, opts)
package mqtt
