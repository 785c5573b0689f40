package api

import (
	"context"

	"github.com/nerrad567/chatlink/internal/chatlink"
)

// relayLink broadcasts link snapshots to WebSocket clients until ctx is
// cancelled or the link is disposed. A snapshot that changes anything but
// the message log becomes one link.state event; each new message becomes
// one link.message event, in arrival order.
func (s *Server) relayLink(ctx context.Context) {
	snapshots, stop := s.link.Watch()
	defer stop()

	var last statusResponse
	lastIndex := -1
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}

			status := newStatusResponse(snap)
			if first || stateChanged(last, status) {
				s.hub.Broadcast(ChannelLinkState, status)
			}
			last, first = status, false

			for _, m := range snap.MessagesAfter(lastIndex) {
				s.hub.Broadcast(ChannelLinkMessage, m)
				lastIndex = m.Index
			}
		}
	}
}

// stateChanged ignores the message count and version, which move with every
// received message.
func stateChanged(a, b statusResponse) bool {
	return a.State != b.State ||
		a.Status != b.Status ||
		a.Connected != b.Connected ||
		a.Subscribed != b.Subscribed ||
		a.ReconnectAttempts != b.ReconnectAttempts
}

var _ Link = (*chatlink.Link)(nil)
