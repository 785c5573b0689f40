package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/chatlink/internal/infrastructure/database"
	"github.com/nerrad567/chatlink/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTime(t *testing.T) {
	repo := newTestRepo(t)

	e := &Event{ClientID: "c1", Channel: "chat/x", State: "connecting", Status: "Connecting..."}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(e.ID, "evt-") {
		t.Errorf("ID = %q, want evt- prefix", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", e.CreatedAt.Location())
	}
}

func TestCreate_RequiresState(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Create(context.Background(), &Event{ClientID: "c1"}); err == nil {
		t.Error("Create() without state expected error")
	}
}

func TestList_NewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	states := []string{"connecting", "connected", "failed"}
	for i, s := range states {
		e := &Event{ClientID: "c1", Channel: "chat/x", State: s, Attempts: i, CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s) error = %v", s, err)
		}
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 3 || len(result.Events) != 3 {
		t.Fatalf("List() total = %d, len = %d, want 3", result.Total, len(result.Events))
	}
	if result.Events[0].State != "failed" || result.Events[2].State != "connecting" {
		t.Errorf("order = %s..%s, want failed..connecting", result.Events[0].State, result.Events[2].State)
	}
	if !result.Events[1].CreatedAt.Equal(base.Add(time.Millisecond)) {
		t.Errorf("CreatedAt = %v, want %v", result.Events[1].CreatedAt, base.Add(time.Millisecond))
	}
	if result.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", result.Limit, defaultLimit)
	}
}

func TestList_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	seed := []Event{
		{ClientID: "a", State: "connected", CreatedAt: base},
		{ClientID: "a", State: "failed", CreatedAt: base.Add(time.Second)},
		{ClientID: "b", State: "failed", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "by state", filter: Filter{State: "failed"}, want: 2},
		{name: "by client", filter: Filter{ClientID: "a"}, want: 2},
		{name: "by state and client", filter: Filter{State: "failed", ClientID: "b"}, want: 1},
		{name: "since", filter: Filter{Since: base.Add(time.Second)}, want: 2},
		{name: "no match", filter: Filter{State: "disconnected"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.want || len(result.Events) != tt.want {
				t.Errorf("List() total = %d, len = %d, want %d", result.Total, len(result.Events), tt.want)
			}
		})
	}
}

func TestList_Paging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &Event{ClientID: "c", State: "connected"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, want 5", result.Total)
	}
	if len(result.Events) != 1 {
		t.Errorf("len(Events) = %d, want 1", len(result.Events))
	}
}

func TestFilterNormalise(t *testing.T) {
	tests := []struct {
		name       string
		in         Filter
		wantLimit  int
		wantOffset int
	}{
		{name: "zero", in: Filter{}, wantLimit: defaultLimit},
		{name: "too large", in: Filter{Limit: 1000}, wantLimit: maxLimit},
		{name: "negative offset", in: Filter{Limit: 10, Offset: -3}, wantLimit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.normalise()
			if got.Limit != tt.wantLimit || got.Offset != tt.wantOffset {
				t.Errorf("normalise() = %d/%d, want %d/%d", got.Limit, got.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
