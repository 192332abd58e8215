package mysql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/velmie/atomfeed"
)

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected db required error, got %v", err)
	}
}

func TestQueriesUseConfiguredTables(t *testing.T) {
	q := newQueries("feeds.failed", "feeds.markers")

	if !strings.HasPrefix(q.upsertFailed, "INSERT INTO feeds.failed (") {
		t.Fatalf("unexpected upsert: %s", q.upsertFailed)
	}
	if strings.Contains(q.upsertFailed, "new.feed_uri") || strings.Contains(q.upsertFailed, "new.event_id") {
		t.Fatalf("upsert must not rewrite the key columns: %s", q.upsertFailed)
	}
	if !strings.HasSuffix(q.oldestFailed, "ORDER BY failed_at ASC, id ASC LIMIT ?") {
		t.Fatalf("expected oldest-first ordering with insertion tie-break: %s", q.oldestFailed)
	}
	if !strings.Contains(q.upsertMarker, "INSERT INTO feeds.markers") {
		t.Fatalf("unexpected marker upsert: %s", q.upsertMarker)
	}
}

func TestOldestRejectsInvalidLimit(t *testing.T) {
	store := &Store{queries: newQueries("failed_events", "markers")}

	for _, n := range []int{0, -1} {
		if _, err := store.FailedEvents().Oldest(context.Background(), "/feed", n); !errors.Is(err, atomfeed.ErrInvalidLimit) {
			t.Fatalf("n=%d: expected invalid limit error, got %v", n, err)
		}
	}
}

func TestAdvanceRequiresTransaction(t *testing.T) {
	store := &Store{cfg: Config{}.withDefaults(), queries: newQueries("failed_events", "markers")}

	err := store.Markers().Advance(context.Background(), "/feed", "billing", atomfeed.EntryRef{ID: "e1"})
	if !errors.Is(err, atomfeed.ErrNoTransaction) {
		t.Fatalf("expected no transaction error, got %v", err)
	}
}

func TestStorageErrWrapsSentinel(t *testing.T) {
	cause := errors.New("deadlock")
	err := storageErr("advance marker", cause)

	if !errors.Is(err, atomfeed.ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected storage sentinel and cause, got %v", err)
	}
}

func TestDBTimeTruncatesToMicroseconds(t *testing.T) {
	in := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.FixedZone("x", 3600))
	got := dbTime(in)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
	if got.Nanosecond() != 123456000 {
		t.Fatalf("expected microsecond precision, got %d", got.Nanosecond())
	}
}
