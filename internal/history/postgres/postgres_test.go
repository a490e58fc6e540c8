package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumen-devotional/lumen/internal/history"
	"github.com/lumen-devotional/lumen/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if LUMEN_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LUMEN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LUMEN_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS voice_sessions`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := []history.Entry{
		{SessionID: "a", Character: "sage", RoomName: "r1", StartedAt: base, EndedAt: base.Add(time.Minute), Outcome: history.OutcomeEnded},
		{SessionID: "b", Character: "sage", RoomName: "r2", StartedAt: base.Add(2 * time.Minute), EndedAt: base.Add(3 * time.Minute), Outcome: history.OutcomeFailed, Error: "boom"},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len: got %d, want 2", len(got))
	}
	if got[0].SessionID != "b" || got[0].Outcome != history.OutcomeFailed || got[0].Error != "boom" {
		t.Errorf("newest entry: got %+v", got[0])
	}
	if !got[1].EndedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("ended_at: got %v", got[1].EndedAt)
	}
	if got[1].ID == "" {
		t.Error("Record should assign an ID")
	}

	one, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent(1): %v", err)
	}
	if len(one) != 1 {
		t.Errorf("Recent(1): got %d entries", len(one))
	}
}

func TestStore_RecordUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := history.Entry{ID: "fixed", StartedAt: now, EndedAt: now, Outcome: history.OutcomeFailed}
	if err := store.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	e.Outcome = history.OutcomeEnded
	if err := store.Record(ctx, e); err != nil {
		t.Fatalf("Record again: %v", err)
	}

	got, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != history.OutcomeEnded {
		t.Errorf("got %+v, want one ended entry", got)
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
