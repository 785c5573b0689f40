package chatlink

// watcher holds the one-slot channel of a single observer.
type watcher struct {
	ch chan Snapshot
}

// offer replaces any unread snapshot with s. Only the publishing goroutine
// sends, under snapMu, so the second send always has room.
func (w *watcher) offer(s Snapshot) {
	select {
	case w.ch <- s:
		return
	default:
	}
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- s:
	default:
	}
}

// Watch returns a channel of snapshots, primed with the current one, and a
// function that stops the subscription and closes the channel.
//
// Snapshots arrive in publication order. An observer that falls behind sees
// only the newest snapshot. The channel is closed after the link is disposed.
func (l *Link) Watch() (<-chan Snapshot, func()) {
	w := &watcher{ch: make(chan Snapshot, 1)}

	l.snapMu.Lock()
	w.ch <- l.snap
	if l.closed {
		close(w.ch)
		l.snapMu.Unlock()
		return w.ch, func() {}
	}
	l.watchers[w] = struct{}{}
	l.snapMu.Unlock()

	stop := func() {
		l.snapMu.Lock()
		defer l.snapMu.Unlock()
		if _, ok := l.watchers[w]; ok {
			delete(l.watchers, w)
			close(w.ch)
		}
	}
	return w.ch, stop
}

// buildSnapshot captures loop state. Messages is re-sliced with its capacity
// clipped, so later appends by the loop never touch memory a reader can see.
func (l *Link) buildSnapshot() Snapshot {
	n := len(l.messages)
	return Snapshot{
		State:             l.state,
		Status:            l.status,
		Connected:         l.state == StateConnected,
		Subscribed:        l.subscribed,
		ReconnectAttempts: l.attempts,
		Messages:          l.messages[:n:n],
		Version:           l.version,
	}
}

// commit publishes a new snapshot if loop state changed.
func (l *Link) commit() {
	if !l.dirty {
		return
	}
	l.dirty = false
	l.version++
	s := l.buildSnapshot()

	l.snapMu.Lock()
	defer l.snapMu.Unlock()
	l.snap = s
	for w := range l.watchers {
		w.offer(s)
	}
}

// closeWatchers closes every observer channel after the final snapshot.
func (l *Link) closeWatchers() {
	l.snapMu.Lock()
	defer l.snapMu.Unlock()
	l.closed = true
	for w := range l.watchers {
		close(w.ch)
		delete(l.watchers, w)
	}
}
