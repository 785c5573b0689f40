package chatlink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/chatlink/internal/broker/memory"
)

const testChannel = "chat/test"

func testOptions() Options {
	opts := DefaultOptions("chatlink-test")
	opts.Host = "memory"
	opts.Port = 1
	opts.Channel = testChannel
	opts.Reconnect = ReconnectPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond}
	opts.SettleDelay = 10 * time.Millisecond
	opts.ConnectTimeout = 50 * time.Millisecond
	opts.DisconnectTimeout = 50 * time.Millisecond
	opts.PublishTimeout = 50 * time.Millisecond
	opts.SubscribeTimeout = 50 * time.Millisecond
	return opts
}

func startLink(t *testing.T, tr *memory.Transport, opts Options) *Link {
	t.Helper()
	l, err := New(tr, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = l.Dispose()
		select {
		case <-l.Done():
		case <-time.After(2 * time.Second):
			t.Error("link did not finish teardown")
		}
	})
	return l
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectAndSubscribe(t *testing.T, l *Link) {
	t.Helper()
	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "subscription", func() bool { return l.Snapshot().Subscribed })
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, testOptions()); !errors.Is(err, ErrTransportUninitialized) {
		t.Errorf("New(nil) error = %v, want ErrTransportUninitialized", err)
	}

	opts := testOptions()
	opts.ClientID = ""
	if _, err := New(memory.New(nil), opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("New() with empty client id error = %v, want ErrInvalidOptions", err)
	}
}

func TestNew_InitialSnapshot(t *testing.T) {
	l, err := New(memory.New(nil), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s := l.Snapshot()
	if s.State != StateUninitialized {
		t.Errorf("State = %q, want %q", s.State, StateUninitialized)
	}
	if s.Status != "Initializing" {
		t.Errorf("Status = %q, want Initializing", s.Status)
	}
	if s.Connected || s.Subscribed || s.ReconnectAttempts != 0 || len(s.Messages) != 0 {
		t.Errorf("unexpected initial snapshot %+v", s)
	}
}

func TestCommandsBeforeStart(t *testing.T) {
	l, err := New(memory.New(nil), testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	commands := map[string]func() error{
		"Connect":         l.Connect,
		"Disconnect":      l.Disconnect,
		"ResetConnection": l.ResetConnection,
		"Dispose":         l.Dispose,
		"Publish":         func() error { return l.Publish("hi") },
	}
	for name, fn := range commands {
		if err := fn(); !errors.Is(err, ErrTransportUninitialized) {
			t.Errorf("%s() before Start error = %v, want ErrTransportUninitialized", name, err)
		}
	}
}

func TestStart_Twice(t *testing.T) {
	l := startLink(t, memory.New(nil), testOptions())
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("second Start() error = %v, want ErrAlreadyInProgress", err)
	}
}

func TestConnect_OpensAndSubscribes(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())

	connectAndSubscribe(t, l)

	s := l.Snapshot()
	if s.State != StateConnected || !s.Connected {
		t.Errorf("State = %q Connected = %v, want connected", s.State, s.Connected)
	}
	if s.Status != "Subscribed to "+testChannel {
		t.Errorf("Status = %q, want %q", s.Status, "Subscribed to "+testChannel)
	}
	if got := tr.Hub().Subscribers(testChannel); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}

	open := tr.LastOpenOptions()
	if open.ClientID != "chatlink-test" {
		t.Errorf("ClientID = %q, want chatlink-test", open.ClientID)
	}
	if !open.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if open.KeepAlive != DefaultKeepAlive {
		t.Errorf("KeepAlive = %v, want %v", open.KeepAlive, DefaultKeepAlive)
	}
}

func TestConnect_IdempotentWhileConnecting(t *testing.T) {
	tr := memory.New(nil)
	tr.HangOpen(true)
	opts := testOptions()
	opts.ConnectTimeout = time.Second
	l := startLink(t, tr, opts)

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "open call", func() bool { return tr.OpenCalls() == 1 })

	for i := 0; i < 3; i++ {
		if err := l.Connect(); !errors.Is(err, ErrAlreadyInProgress) {
			t.Errorf("Connect() while connecting error = %v, want ErrAlreadyInProgress", err)
		}
	}
	if got := tr.OpenCalls(); got != 1 {
		t.Errorf("OpenCalls() = %d, want 1", got)
	}
	if got := l.State(); got != StateConnecting {
		t.Errorf("State() = %q, want %q", got, StateConnecting)
	}
}

func TestConnect_IdempotentWhileConnected(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	before := l.Snapshot()
	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() while connected error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	after := l.Snapshot()
	if after.Version != before.Version {
		t.Errorf("Version changed from %d to %d", before.Version, after.Version)
	}
	if got := tr.OpenCalls(); got != 1 {
		t.Errorf("OpenCalls() = %d, want 1", got)
	}
}

func TestConnect_RetriesExhaustedOnTimeouts(t *testing.T) {
	tr := memory.New(nil)
	tr.HangOpen(true)
	opts := testOptions()
	opts.ConnectTimeout = 20 * time.Millisecond
	l := startLink(t, tr, opts)

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "retries exhausted", func() bool {
		s := l.Snapshot()
		return s.State == StateFailed && s.ReconnectAttempts == 3
	})

	time.Sleep(100 * time.Millisecond)

	s := l.Snapshot()
	if s.State != StateFailed {
		t.Errorf("State = %q, want %q", s.State, StateFailed)
	}
	if s.ReconnectAttempts != 3 {
		t.Errorf("ReconnectAttempts = %d, want 3", s.ReconnectAttempts)
	}
	if !strings.Contains(s.Status, "timed out") {
		t.Errorf("Status = %q, want a timeout description", s.Status)
	}
	if s.Connected {
		t.Error("Connected = true after exhausted retries")
	}
	if got := tr.OpenCalls(); got != 3 {
		t.Errorf("OpenCalls() = %d, want 3", got)
	}
}

func TestConnect_RecoversWithinBudget(t *testing.T) {
	tr := memory.New(nil)
	tr.FailOpen(2, nil)
	l := startLink(t, tr, testOptions())

	connectAndSubscribe(t, l)

	if got := l.Snapshot().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d after success, want 0", got)
	}
	if got := tr.OpenCalls(); got != 3 {
		t.Errorf("OpenCalls() = %d, want 3", got)
	}
}

func TestConnect_ZeroBudgetNeverRetries(t *testing.T) {
	tr := memory.New(nil)
	tr.FailOpen(1, nil)
	opts := testOptions()
	opts.Reconnect = ReconnectPolicy{}
	l := startLink(t, tr, opts)

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "failure", func() bool { return l.State() == StateFailed })
	time.Sleep(50 * time.Millisecond)

	if got := tr.OpenCalls(); got != 1 {
		t.Errorf("OpenCalls() = %d, want 1", got)
	}
	if got := l.Snapshot().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", got)
	}
	if !strings.HasPrefix(l.Status(), "Error: ") {
		t.Errorf("Status() = %q, want Error prefix", l.Status())
	}
}

func TestInbound_OrderAndEmptySkipped(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	for _, p := range []string{"hello", "", "world"} {
		if !tr.Deliver(testChannel, []byte(p)) {
			t.Fatalf("Deliver(%q) found no handler", p)
		}
	}
	waitFor(t, "two messages", func() bool { return len(l.Messages()) == 2 })
	time.Sleep(10 * time.Millisecond)

	msgs := l.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", len(msgs))
	}
	want := []string{"hello", "world"}
	for i, m := range msgs {
		if m.Text != want[i] {
			t.Errorf("Messages()[%d].Text = %q, want %q", i, m.Text, want[i])
		}
		if m.Index != i {
			t.Errorf("Messages()[%d].Index = %d, want %d", i, m.Index, i)
		}
		if m.ReceivedAt.IsZero() {
			t.Errorf("Messages()[%d].ReceivedAt is zero", i)
		}
	}
}

func TestInbound_WhitespaceKeptAndInvalidUTF8Replaced(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	tr.Deliver(testChannel, []byte("   "))
	tr.Deliver(testChannel, []byte{'o', 'k', 0xff})
	waitFor(t, "two messages", func() bool { return len(l.Messages()) == 2 })

	msgs := l.Messages()
	if msgs[0].Text != "   " {
		t.Errorf("Messages()[0].Text = %q, want three spaces", msgs[0].Text)
	}
	if msgs[1].Text != "ok\uFFFD" {
		t.Errorf("Messages()[1].Text = %q, want %q", msgs[1].Text, "ok\uFFFD")
	}
}

func TestSnapshot_MessagesNotMutatedByLaterArrivals(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	tr.Deliver(testChannel, []byte("first"))
	waitFor(t, "first message", func() bool { return len(l.Messages()) == 1 })
	old := l.Snapshot()

	tr.Deliver(testChannel, []byte("second"))
	waitFor(t, "second message", func() bool { return len(l.Messages()) == 2 })

	if len(old.Messages) != 1 || old.Messages[0].Text != "first" {
		t.Errorf("old snapshot messages = %+v, want [first]", old.Messages)
	}
	if got := l.Snapshot().MessagesAfter(0); len(got) != 1 || got[0].Text != "second" {
		t.Errorf("MessagesAfter(0) = %+v, want [second]", got)
	}
}

func TestPublish_Rejections(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())

	if err := l.Publish("hola"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() while uninitialized error = %v, want ErrNotConnected", err)
	}

	connectAndSubscribe(t, l)
	for _, text := range []string{"", "   ", "\t\n"} {
		if err := l.Publish(text); !errors.Is(err, ErrEmptyPayload) {
			t.Errorf("Publish(%q) error = %v, want ErrEmptyPayload", text, err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	if got := tr.PublishCalls(); got != 0 {
		t.Errorf("PublishCalls() = %d, want 0", got)
	}
	if got := len(l.Messages()); got != 0 {
		t.Errorf("len(Messages()) = %d, want 0", got)
	}
	if got := l.Status(); got != "Subscribed to "+testChannel {
		t.Errorf("Status() = %q, want it unchanged", got)
	}
}

func TestPublish_LoopsBack(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	if err := l.Publish("  hola mundo "); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, "published echo", func() bool {
		s := l.Snapshot()
		return s.Status == "Message published" && len(s.Messages) == 1
	})

	published := tr.Published()
	if len(published) != 1 || string(published[0]) != "  hola mundo " {
		t.Errorf("Published() = %q, want text sent unchanged", published)
	}
	if got := l.Messages()[0].Text; got != "  hola mundo " {
		t.Errorf("echoed text = %q", got)
	}
}

func TestPublish_FailureNotRetried(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	tr.FailPublish(errors.New("broker said no"))
	if err := l.Publish("x"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, "publish failure status", func() bool {
		return strings.HasPrefix(l.Status(), "Publish failed: ")
	})
	time.Sleep(30 * time.Millisecond)

	if got := tr.PublishCalls(); got != 1 {
		t.Errorf("PublishCalls() = %d, want 1", got)
	}
	if got := l.State(); got != StateConnected {
		t.Errorf("State() = %q, want %q", got, StateConnected)
	}
	if !strings.Contains(l.Status(), "broker said no") {
		t.Errorf("Status() = %q, want transport error text", l.Status())
	}
}

func TestSubscribe_FailureKeepsConnection(t *testing.T) {
	tr := memory.New(nil)
	tr.FailSubscribe(errors.New("denied"))
	l := startLink(t, tr, testOptions())

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "subscribe failure", func() bool {
		return strings.HasPrefix(l.Status(), "Subscribe failed: ")
	})

	s := l.Snapshot()
	if s.State != StateConnected || s.Subscribed {
		t.Errorf("State = %q Subscribed = %v, want connected and not subscribed", s.State, s.Subscribed)
	}
	if err := l.Publish("still works"); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestDisconnect_NoopWhenUninitialized(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())

	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	s := l.Snapshot()
	if s.State != StateUninitialized {
		t.Errorf("State = %q, want %q", s.State, StateUninitialized)
	}
	if s.Status != "Initializing" {
		t.Errorf("Status = %q, want Initializing", s.Status)
	}
	if got := tr.CloseCalls(); got != 0 {
		t.Errorf("CloseCalls() = %d, want 0", got)
	}
}

func TestDisconnect_FromConnected(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitFor(t, "disconnected", func() bool { return l.State() == StateDisconnected })

	s := l.Snapshot()
	if s.Status != "Disconnected" {
		t.Errorf("Status = %q, want Disconnected", s.Status)
	}
	if s.Connected || s.Subscribed {
		t.Errorf("Connected = %v Subscribed = %v after disconnect", s.Connected, s.Subscribed)
	}
	if got := tr.CloseCalls(); got != 1 {
		t.Errorf("CloseCalls() = %d, want 1", got)
	}

	// A second disconnect is a no-op.
	if err := l.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if got := tr.CloseCalls(); got != 1 {
		t.Errorf("CloseCalls() after second Disconnect = %d, want 1", got)
	}
}

func TestDisconnect_CloseErrorStillDisconnects(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	tr.FailClose(errors.New("socket gone"))
	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitFor(t, "disconnected", func() bool { return l.State() == StateDisconnected })

	if status := l.Status(); !strings.HasPrefix(status, "Disconnect error: ") {
		t.Errorf("Status() = %q, want Disconnect error prefix", status)
	}
}

func TestDisconnect_KeepsAttemptsAndCancelsRetry(t *testing.T) {
	tr := memory.New(nil)
	tr.FailOpen(1, nil)
	opts := testOptions()
	opts.Reconnect.Delay = 200 * time.Millisecond
	l := startLink(t, tr, opts)

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "failure", func() bool { return l.State() == StateFailed })

	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitFor(t, "disconnected", func() bool { return l.State() == StateDisconnected })
	time.Sleep(300 * time.Millisecond)

	if got := tr.OpenCalls(); got != 1 {
		t.Errorf("OpenCalls() = %d, want 1 (retry should be cancelled)", got)
	}
	if got := l.Snapshot().ReconnectAttempts; got != 1 {
		t.Errorf("ReconnectAttempts = %d, want 1", got)
	}
}

func TestDisconnect_WhileConnectingIgnoresStaleOpen(t *testing.T) {
	tr := memory.New(nil)
	tr.HangOpen(true)
	opts := testOptions()
	opts.ConnectTimeout = time.Second
	l := startLink(t, tr, opts)

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "open call", func() bool { return tr.OpenCalls() == 1 })

	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitFor(t, "disconnected", func() bool { return l.State() == StateDisconnected })
	time.Sleep(30 * time.Millisecond)

	s := l.Snapshot()
	if s.State != StateDisconnected || s.Status != "Disconnected" {
		t.Errorf("State = %q Status = %q, want Disconnected", s.State, s.Status)
	}
	if s.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", s.ReconnectAttempts)
	}
}

func TestConnectionLost_Reconnects(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	tr.DropConnection(nil)
	waitFor(t, "second open", func() bool { return tr.OpenCalls() == 2 })
	waitFor(t, "resubscribed", func() bool {
		s := l.Snapshot()
		return s.State == StateConnected && s.Subscribed
	})

	if got := l.Snapshot().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", got)
	}
	if got := tr.Hub().Subscribers(testChannel); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
}

func TestResetConnection_AfterExhaustion(t *testing.T) {
	tr := memory.New(nil)
	tr.FailOpen(3, nil)
	l := startLink(t, tr, testOptions())

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "exhausted", func() bool {
		s := l.Snapshot()
		return s.State == StateFailed && s.ReconnectAttempts == 3
	})

	if err := l.ResetConnection(); err != nil {
		t.Fatalf("ResetConnection() error = %v", err)
	}
	waitFor(t, "connected after reset", func() bool { return l.Snapshot().Subscribed })

	if got := l.Snapshot().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", got)
	}
	if got := tr.OpenCalls(); got != 4 {
		t.Errorf("OpenCalls() = %d, want 4", got)
	}
}

func TestResetConnection_FromConnected(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	if err := l.ResetConnection(); err != nil {
		t.Fatalf("ResetConnection() error = %v", err)
	}
	waitFor(t, "second open", func() bool { return tr.OpenCalls() == 2 })
	waitFor(t, "resubscribed", func() bool { return l.Snapshot().Subscribed })

	if got := tr.CloseCalls(); got != 1 {
		t.Errorf("CloseCalls() = %d, want 1", got)
	}
}

func TestResetConnection_FromUninitialized(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())

	if err := l.ResetConnection(); err != nil {
		t.Fatalf("ResetConnection() error = %v", err)
	}
	waitFor(t, "connected", func() bool { return l.Snapshot().Subscribed })

	if got := tr.CloseCalls(); got != 0 {
		t.Errorf("CloseCalls() = %d, want 0", got)
	}
}

func TestDispose_Final(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())
	connectAndSubscribe(t, l)

	if err := l.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Dispose")
	}

	s := l.Snapshot()
	if s.State != StateDisconnected || s.Status != "Disposed" {
		t.Errorf("State = %q Status = %q, want disconnected/Disposed", s.State, s.Status)
	}
	if got := tr.CloseCalls(); got != 1 {
		t.Errorf("CloseCalls() = %d, want 1", got)
	}
	if tr.IsOpen() {
		t.Error("transport still open after Dispose")
	}

	commands := map[string]func() error{
		"Connect":         l.Connect,
		"Disconnect":      l.Disconnect,
		"ResetConnection": l.ResetConnection,
		"Dispose":         l.Dispose,
		"Publish":         func() error { return l.Publish("late") },
	}
	for name, fn := range commands {
		if err := fn(); !errors.Is(err, ErrDisposed) {
			t.Errorf("%s() after Dispose error = %v, want ErrDisposed", name, err)
		}
	}
	if err := l.HealthCheck(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("HealthCheck() after Dispose error = %v, want ErrDisposed", err)
	}
}

func TestDispose_CancelsPendingRetry(t *testing.T) {
	tr := memory.New(nil)
	tr.FailOpen(1, nil)
	opts := testOptions()
	opts.Reconnect.Delay = 100 * time.Millisecond
	l := startLink(t, tr, opts)

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "failure", func() bool { return l.State() == StateFailed })

	if err := l.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	<-l.Done()
	time.Sleep(200 * time.Millisecond)

	if got := tr.OpenCalls(); got != 1 {
		t.Errorf("OpenCalls() = %d, want 1", got)
	}
}

func TestStart_ContextCancelDisposes(t *testing.T) {
	tr := memory.New(nil)
	l, err := New(tr, testOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	connectAndSubscribe(t, l)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after context cancel")
	}
	if err := l.Connect(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Connect() error = %v, want ErrDisposed", err)
	}
	if tr.IsOpen() {
		t.Error("transport still open after context cancel")
	}
}

func TestWatch_OrderedSnapshots(t *testing.T) {
	tr := memory.New(nil)
	l := startLink(t, tr, testOptions())

	ch, stop := l.Watch()
	first := <-ch
	if first.State != StateUninitialized {
		t.Errorf("primed State = %q, want %q", first.State, StateUninitialized)
	}

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	last := first.Version
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Version <= last {
				t.Fatalf("Version went from %d to %d", last, s.Version)
			}
			last = s.Version
			if !s.Subscribed {
				continue
			}
		case <-timeout:
			t.Fatal("timed out waiting for subscribed snapshot")
		}
		break
	}

	stop()
	if _, ok := <-ch; ok {
		// A snapshot may have been buffered before stop; the next read must
		// observe the close.
		if _, ok := <-ch; ok {
			t.Error("channel still open after stop")
		}
	}
	stop()
}

func TestWatch_ClosedOnDispose(t *testing.T) {
	l := startLink(t, memory.New(nil), testOptions())
	ch, _ := l.Watch()
	<-ch

	if err := l.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	<-l.Done()

	var final Snapshot
	for s := range ch {
		final = s
	}
	if final.Status != "Disposed" {
		t.Errorf("final Status = %q, want Disposed", final.Status)
	}

	late, _ := l.Watch()
	s, ok := <-late
	if !ok || s.Status != "Disposed" {
		t.Errorf("Watch() after dispose = %+v %v, want primed Disposed snapshot", s, ok)
	}
	if _, ok := <-late; ok {
		t.Error("Watch() after dispose returned an open channel")
	}
}

func TestHealthCheck(t *testing.T) {
	l := startLink(t, memory.New(nil), testOptions())

	if err := l.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() before connect error = %v, want ErrNotConnected", err)
	}
	connectAndSubscribe(t, l)
	if err := l.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRunBounded(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		op      func(ctx context.Context) error
		wantErr []error
	}{
		{
			name: "success",
			op:   func(context.Context) error { return nil },
		},
		{
			name:    "transport failure",
			op:      func(context.Context) error { return boom },
			wantErr: []error{ErrTransport, boom},
		},
		{
			name: "op honours deadline",
			op: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
			wantErr: []error{ErrTimeout},
		},
		{
			name: "op ignores deadline",
			op: func(context.Context) error {
				time.Sleep(200 * time.Millisecond)
				return nil
			},
			wantErr: []error{ErrTimeout},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := runBounded(context.Background(), 20*time.Millisecond, tt.op)
			if len(tt.wantErr) == 0 && err != nil {
				t.Fatalf("runBounded() error = %v, want nil", err)
			}
			for _, want := range tt.wantErr {
				if !errors.Is(err, want) {
					t.Errorf("runBounded() error = %v, want %v", err, want)
				}
			}
			if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
				t.Errorf("runBounded() took %v, want it bounded", elapsed)
			}
		})
	}
}
