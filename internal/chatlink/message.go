package chatlink

import "time"

// ChatMessage is one received chat line. Values are never mutated after
// they are appended to a link's log.
type ChatMessage struct {
	// Index is the arrival position in the log, starting at 0.
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Snapshot is an immutable view of a link's observable state.
type Snapshot struct {
	State  ConnectionState `json:"state"`
	Status string          `json:"status"`

	// Connected is the connection indicator: true only in StateConnected.
	Connected bool `json:"connected"`

	// Subscribed is true once the chat channel subscription was confirmed for
	// the current session.
	Subscribed bool `json:"subscribed"`

	ReconnectAttempts int `json:"reconnect_attempts"`

	// Messages is the full log in arrival order. The slice is shared between
	// snapshots and must not be modified.
	Messages []ChatMessage `json:"messages"`

	// Version increases by one for every published snapshot.
	Version uint64 `json:"version"`
}

// MessagesAfter returns the messages whose Index is greater than index.
// Pass -1 for the whole log.
func (s Snapshot) MessagesAfter(index int) []ChatMessage {
	if index >= len(s.Messages)-1 {
		return nil
	}
	if index < 0 {
		return s.Messages
	}
	return s.Messages[index+1:]
}
