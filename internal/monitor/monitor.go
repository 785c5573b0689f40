// Package monitor follows a chat link's snapshots and forwards what it sees
// to the lifecycle journal and to telemetry.
//
// A state transition becomes one journal event and one chatlink_state
// point. Growth of the message log becomes a chatlink_messages point.
// Both sinks are optional.
package monitor

import (
	"context"
	"time"

	"github.com/nerrad567/chatlink/internal/chatlink"
	"github.com/nerrad567/chatlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/chatlink/internal/journal"
)

// journalTimeout bounds each journal write.
const journalTimeout = 5 * time.Second

// Source is the observed link.
type Source interface {
	Watch() (<-chan chatlink.Snapshot, func())
	Options() chatlink.Options
}

// Journal receives lifecycle events. Satisfied by journal.Repository.
type Journal interface {
	Create(ctx context.Context, event *journal.Event) error
}

// Telemetry receives link samples. Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteLinkState(s influxdb.LinkSample)
	WriteMessageCount(clientID, channel string, total int, at time.Time)
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Monitor consumes snapshots of one link.
//
// Thread Safety:
//   - Configure with the Set methods before Run; Run must be called once.
type Monitor struct {
	source    Source
	journal   Journal
	telemetry Telemetry
	logger    Logger
	now       func() time.Time

	// lastState is empty until the first snapshot.
	lastState    chatlink.ConnectionState
	lastMessages int
}

// New creates a monitor for source.
func New(source Source) *Monitor {
	return &Monitor{
		source: source,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetJournal sets the journal sink. Nil disables it.
func (m *Monitor) SetJournal(j Journal) {
	m.journal = j
}

// SetTelemetry sets the telemetry sink. Nil disables it.
func (m *Monitor) SetTelemetry(t Telemetry) {
	m.telemetry = t
}

// SetLogger sets the logger.
func (m *Monitor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Run consumes snapshots until the link is disposed or ctx is cancelled.
// It returns nil when the snapshot stream ends and ctx.Err() otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	snapshots, stop := m.source.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-snapshots:
			if !ok {
				return nil
			}
			m.observe(ctx, s)
		}
	}
}

// observe handles one snapshot. Snapshots are conflated, so a transition
// seen here may stand for several.
func (m *Monitor) observe(ctx context.Context, s chatlink.Snapshot) {
	opts := m.source.Options()
	at := m.now()

	if s.State != m.lastState {
		m.lastState = s.State
		m.recordTransition(ctx, opts, s, at)
	}

	if n := len(s.Messages); n != m.lastMessages {
		m.lastMessages = n
		if m.telemetry != nil {
			m.telemetry.WriteMessageCount(opts.ClientID, opts.Channel, n, at)
		}
	}
}

func (m *Monitor) recordTransition(ctx context.Context, opts chatlink.Options, s chatlink.Snapshot, at time.Time) {
	m.logger.Debug("link state observed",
		"state", s.State.String(),
		"status", s.Status,
		"attempts", s.ReconnectAttempts,
	)

	if m.telemetry != nil {
		m.telemetry.WriteLinkState(influxdb.LinkSample{
			ClientID:  opts.ClientID,
			Channel:   opts.Channel,
			State:     s.State.String(),
			Connected: s.Connected,
			Attempts:  s.ReconnectAttempts,
			Messages:  len(s.Messages),
			At:        at,
		})
	}

	if m.journal == nil {
		return
	}
	// The final transition arrives as the owner shuts down, so the write
	// must not inherit cancellation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	err := m.journal.Create(writeCtx, &journal.Event{
		ClientID:  opts.ClientID,
		Channel:   opts.Channel,
		State:     s.State.String(),
		Status:    s.Status,
		Attempts:  s.ReconnectAttempts,
		CreatedAt: at,
	})
	if err != nil {
		m.logger.Warn("journal write failed", "state", s.State.String(), "error", err)
	}
}
