package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementState    = "chatlink_state"
	measurementMessages = "chatlink_messages"
)

// LinkSample is one observation of a chat link.
type LinkSample struct {
	ClientID  string
	Channel   string
	State     string
	Connected bool
	Attempts  int
	Messages  int

	// At defaults to now.
	At time.Time
}

func sampleTime(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now()
	}
	return at
}

func linkStatePoint(s LinkSample) *write.Point {
	return write.NewPoint(
		measurementState,
		map[string]string{
			"client_id": s.ClientID,
			"channel":   s.Channel,
			"state":     s.State,
		},
		map[string]any{
			"connected": s.Connected,
			"attempts":  int64(s.Attempts),
			"messages":  int64(s.Messages),
		},
		sampleTime(s.At),
	)
}

func messageCountPoint(clientID, channel string, total int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementMessages,
		map[string]string{
			"client_id": clientID,
			"channel":   channel,
		},
		map[string]any{
			"total": int64(total),
		},
		sampleTime(at),
	)
}

// WriteLinkState records a link state observation. Non-blocking.
func (c *Client) WriteLinkState(s LinkSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkStatePoint(s))
}

// WriteMessageCount records the number of chat messages received so far on
// channel. Non-blocking.
func (c *Client) WriteMessageCount(clientID, channel string, total int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(messageCountPoint(clientID, channel, total, at))
}
