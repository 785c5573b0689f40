// Package journal records connection lifecycle transitions of a chat link
// in the link_events table. Chat message text is never stored.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// List page size bounds.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is a fixed-width UTC timestamp so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Event is one observed lifecycle transition.
type Event struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Channel   string    `json:"channel"`
	State     string    `json:"state"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which events List returns.
type Filter struct {
	State    string    // optional: only this state
	ClientID string    // optional: only this client
	Since    time.Time // optional: only events at or after this time
	Limit    int       // default 50, max 200
	Offset   int       // pagination offset
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists lifecycle events.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts event. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, event *Event) error {
	if event.State == "" {
		return fmt.Errorf("inserting link event: state is required")
	}
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO link_events (id, client_id, channel, state, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ClientID, event.Channel, event.State, event.Status, event.Attempts,
		event.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting link event: %w", err)
	}
	return nil
}

// normalise clamps paging values into range.
func (f Filter) normalise() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// where builds the parameterised WHERE clause for f.
func (f Filter) where() (string, []any) {
	var conditions []string
	var args []any

	if f.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, f.State)
	}
	if f.ClientID != "" {
		conditions = append(conditions, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// List returns events matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalise()
	where, args := filter.where()

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM link_events %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting link events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, client_id, channel, state, status, attempts, created_at FROM link_events %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying link events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Channel, &e.State, &e.Status, &e.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning link event: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing link event timestamp %q: %w", createdAt, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating link events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
