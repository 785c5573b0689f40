// Package chatlink implements a headless pub/sub chat client: one broker
// session, one channel, an append-only log of received messages, and a
// bounded reconnection policy.
//
// # Architecture
//
// A Link owns all of its state and mutates it from a single goroutine. Commands
// (Connect, Disconnect, Publish, ResetConnection, Dispose) are handed to that
// goroutine and answered immediately; transport work runs in the background
// with explicit timeouts and reports back as events on the same loop. Timers
// and transport completions that belong to a superseded attempt are ignored.
//
//	caller ──commands──▶ loop ◀──events── transport callbacks / timers
//	                      │
//	                      └──snapshots──▶ Watch() observers
//
// Observers receive Snapshot values in the order the loop produced them. A
// slow observer skips intermediate snapshots but always ends up with the
// latest one.
//
// # Reconnection
//
// A failed or timed-out open moves the link to StateFailed and, while the
// ReconnectPolicy allows, schedules another attempt after a fixed delay. Once
// the budget is spent the link stays failed until ResetConnection.
//
// # Usage
//
//	link, err := chatlink.New(transport, chatlink.DefaultOptions("client-1"))
//	if err != nil {
//	    return err
//	}
//	link.SetLogger(log)
//	if err := link.Start(ctx); err != nil {
//	    return err
//	}
//	defer link.Dispose()
//
//	_ = link.Connect()
//	snapshots, stop := link.Watch()
//	defer stop()
package chatlink
