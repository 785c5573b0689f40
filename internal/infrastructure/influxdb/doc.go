// Package influxdb provides InfluxDB telemetry for ChatLink.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - chatlink_state: one point per observed link state change, tagged by
//     client_id, channel and state, with connected, attempts and messages fields
//   - chatlink_messages: running count of received chat messages per channel
//
// Message text is never written.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteLinkState(influxdb.LinkSample{ClientID: id, Channel: ch, State: "connected"})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write failures are delivered asynchronously to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
