package mqtt

import (
	"fmt"
	"strings"
	"time"
)

// presenceSegment separates a channel from its presence subtree.
const presenceSegment = "presence"

// Topics builds the auxiliary topics published next to a chat channel.
//
//	topics := mqtt.Topics{Channel: "chat/room"}
//	topics.Presence("client-1")
//	// Returns: "chat/room/presence/client-1"
type Topics struct {
	Channel string
}

// Presence returns the retained presence topic for clientID.
func (t Topics) Presence(clientID string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(t.Channel, "/"), presenceSegment, clientID)
}

// AllPresence returns a filter matching every client's presence topic.
func (t Topics) AllPresence() string {
	return fmt.Sprintf("%s/%s/+", strings.TrimSuffix(t.Channel, "/"), presenceSegment)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for offline status messages.
// reason is "graceful_shutdown" for a requested close and
// "unexpected_disconnect" for the last will.
func buildOfflinePayload(clientID, reason string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"%s","timestamp":"%s"}`,
		clientID,
		reason,
		time.Now().UTC().Format(time.RFC3339),
	)
}
