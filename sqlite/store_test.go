package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/sqlite"
)

const feedURI = "https://orders.example.com/feed/recent"

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func openStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "atomfeed.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func failedEvent(id string, failedAt time.Time) atomfeed.FailedEvent {
	return atomfeed.FailedEvent{
		FeedURI:      feedURI,
		Event:        atomfeed.Event{ID: id, Title: "order-created", Content: `{"order":"` + id + `"}`},
		ErrorMessage: "boom " + id,
		FailedAt:     failedAt,
	}
}

func eventIDs(events []atomfeed.FailedEvent) []string {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.Event.ID)
	}

	return ids
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomfeed.db")

	first, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, first.FailedEvents().AddOrUpdate(context.Background(), failedEvent("e1", time.Time{})))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path)
	require.NoError(t, err)
	defer second.Close()

	count, err := second.FailedEvents().Count(context.Background(), feedURI)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestFailedEventStoreCRUD(t *testing.T) {
	ctx := context.Background()
	failed := openStore(t).FailedEvents()

	event := failedEvent("e1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, failed.AddOrUpdate(ctx, event))

	got, err := failed.Get(ctx, feedURI, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, event, *got)

	missing, err := failed.Get(ctx, feedURI, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, failed.Remove(ctx, event))
	got, err = failed.Get(ctx, feedURI, "e1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, failed.Remove(ctx, event), "removing a missing record is a no-op")
}

func TestFailedEventStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	failed := openStore(t).FailedEvents()

	event := failedEvent("e1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, failed.AddOrUpdate(ctx, event))

	event.ErrorMessage = "second failure"
	event.FailedAt = event.FailedAt.Add(time.Hour)
	event.Retries = 2
	require.NoError(t, failed.AddOrUpdate(ctx, event))
	require.NoError(t, failed.AddOrUpdate(ctx, event))

	count, err := failed.Count(ctx, feedURI)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := failed.Get(ctx, feedURI, "e1")
	require.NoError(t, err)
	require.Equal(t, event, *got)
}

func TestFailedEventStoreTruncatesErrorMessage(t *testing.T) {
	ctx := context.Background()
	failed := openStore(t).FailedEvents()

	event := failedEvent("e1", time.Time{})
	event.ErrorMessage = strings.Repeat("ж", 4500)
	require.NoError(t, failed.AddOrUpdate(ctx, event))

	got, err := failed.Get(ctx, feedURI, "e1")
	require.NoError(t, err)
	require.Len(t, []rune(got.ErrorMessage), atomfeed.MaxErrorMessageLength)
	require.Equal(t, strings.Repeat("ж", atomfeed.MaxErrorMessageLength), got.ErrorMessage)
}

func TestFailedEventStoreDefaultsFailedAtToClock(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)}
	failed := openStore(t, sqlite.WithClock(clock)).FailedEvents()

	require.NoError(t, failed.AddOrUpdate(ctx, failedEvent("e1", time.Time{})))

	got, err := failed.Get(ctx, feedURI, "e1")
	require.NoError(t, err)
	require.True(t, clock.now.Equal(got.FailedAt))
}

func TestFailedEventStoreOldest(t *testing.T) {
	ctx := context.Background()
	failed := openStore(t).FailedEvents()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 5; i >= 1; i-- {
		require.NoError(t, failed.AddOrUpdate(ctx, failedEvent(fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, failed.AddOrUpdate(ctx, atomfeed.FailedEvent{
		FeedURI:  "https://other.example.com/feed",
		Event:    atomfeed.Event{ID: "e0"},
		FailedAt: base,
	}))

	oldest, err := failed.Oldest(ctx, feedURI, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2", "e3"}, eventIDs(oldest))

	all, err := failed.Oldest(ctx, feedURI, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, eventIDs(all))

	count, err := failed.Count(ctx, feedURI)
	require.NoError(t, err)
	require.Equal(t, 5, count)

	for _, n := range []int{0, -3} {
		_, err = failed.Oldest(ctx, feedURI, n)
		require.ErrorIs(t, err, atomfeed.ErrInvalidLimit)
	}
}

func TestFailedEventStoreOldestTieBreaksByInsertion(t *testing.T) {
	ctx := context.Background()
	failed := openStore(t).FailedEvents()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, failed.AddOrUpdate(ctx, failedEvent(id, at)))
	}
	require.NoError(t, failed.AddOrUpdate(ctx, failedEvent("b", at)))

	oldest, err := failed.Oldest(ctx, feedURI, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, eventIDs(oldest))
}

func TestMarkerStore(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)}
	store := openStore(t, sqlite.WithClock(clock))
	markers := store.Markers()

	marker, err := markers.Get(ctx, feedURI, "billing")
	require.NoError(t, err)
	require.Nil(t, marker)

	ref := atomfeed.EntryRef{ID: "e1", PageURI: "https://orders.example.com/feed/1", Position: 0}
	require.ErrorIs(t, markers.Advance(ctx, feedURI, "billing", ref), atomfeed.ErrNoTransaction)

	for _, ref := range []atomfeed.EntryRef{ref, {ID: "e4", PageURI: "https://orders.example.com/feed/2", Position: 1}} {
		err := store.TxManager().RunInTransaction(ctx, atomfeed.PropagationRequired, func(ctx context.Context) error {
			return markers.Advance(ctx, feedURI, "billing", ref)
		})
		require.NoError(t, err)
	}

	marker, err = markers.Get(ctx, feedURI, "billing")
	require.NoError(t, err)
	require.Equal(t, &atomfeed.Marker{
		FeedURI:    feedURI,
		ConsumerID: "billing",
		Last:       atomfeed.EntryRef{ID: "e4", PageURI: "https://orders.example.com/feed/2", Position: 1},
		UpdatedAt:  clock.now,
	}, marker)

	other, err := markers.Get(ctx, feedURI, "shipping")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestStoresJoinTransaction(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ref := atomfeed.EntryRef{ID: "e1", PageURI: "https://orders.example.com/feed/1"}

	rollback := errors.New("rollback")
	err := store.TxManager().RunInTransaction(ctx, atomfeed.PropagationRequired, func(ctx context.Context) error {
		require.NoError(t, store.Markers().Advance(ctx, feedURI, "billing", ref))
		require.NoError(t, store.FailedEvents().AddOrUpdate(ctx, failedEvent("e1", time.Time{})))

		return rollback
	})
	require.ErrorIs(t, err, rollback)

	marker, err := store.Markers().Get(ctx, feedURI, "billing")
	require.NoError(t, err)
	require.Nil(t, marker)
	count, err := store.FailedEvents().Count(ctx, feedURI)
	require.NoError(t, err)
	require.Zero(t, count)
}
