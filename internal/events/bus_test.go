package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pontocerto/checkout/internal/events"
)

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, events.Event) error {
	return errors.New("printer offline")
}

type recordingNotifier struct {
	seen []events.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev events.Event) error {
	r.seen = append(r.seen, ev)
	return nil
}

func TestEmitStoresAndNotifies(t *testing.T) {
	store := &events.MemoryStore{}
	rec := &recordingNotifier{}
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	bus := &events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{rec},
		Now:       func() time.Time { return now },
	}

	ev, err := bus.Emit(context.Background(), events.TopicSaleSettled, "sess-1", map[string]any{"total": "26.39"})
	require.NoError(t, err)
	require.Equal(t, events.TopicSaleSettled, ev.Topic)
	require.Equal(t, now, ev.OccurredAt)
	require.True(t, json.Valid(ev.Payload))

	recent := store.Recent(0)
	require.Len(t, recent, 1)
	require.Equal(t, ev.ID, recent[0].ID)
	require.Len(t, rec.seen, 1)
}

func TestEmitValidation(t *testing.T) {
	bus := &events.Bus{Store: &events.MemoryStore{}}

	_, err := bus.Emit(context.Background(), "", "sess-1", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicSessionOpened, "", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicSessionOpened, "sess-1", "{not json")
	require.Error(t, err)
}

func TestEmitNilPayloadDefaultsToEmptyObject(t *testing.T) {
	store := &events.MemoryStore{}
	bus := &events.Bus{Store: store}

	ev, err := bus.Emit(context.Background(), events.TopicSessionReset, "sess-1", nil)
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(ev.Payload))
}

func TestNotifierFailureDoesNotBlockPersistence(t *testing.T) {
	store := &events.MemoryStore{}
	bus := &events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{failingNotifier{}},
	}

	_, err := bus.Emit(context.Background(), events.TopicSaleSettled, "sess-1", nil)
	require.Error(t, err)
	require.Len(t, store.Recent(0), 1, "event persisted despite notifier failure")
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := &events.MemoryStore{Cap: 2}
	bus := &events.Bus{Store: store}

	first, err := bus.Emit(context.Background(), events.TopicSessionOpened, "a", nil)
	require.NoError(t, err)
	_, err = bus.Emit(context.Background(), events.TopicSessionOpened, "b", nil)
	require.NoError(t, err)
	_, err = bus.Emit(context.Background(), events.TopicSessionOpened, "c", nil)
	require.NoError(t, err)

	recent := store.Recent(0)
	require.Len(t, recent, 2)
	for _, ev := range recent {
		require.NotEqual(t, first.ID, ev.ID, "oldest event evicted")
	}
}
