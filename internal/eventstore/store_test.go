package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/healthstack/healthwatch/internal/cache"
	"github.com/healthstack/healthwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	cache.NoopProvider
	lists   map[string][][]byte
	pushErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{lists: map[string][][]byte{}}
}

func (f *fakeProvider) LPush(_ context.Context, key string, values ...[]byte) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	for _, v := range values {
		f.lists[key] = append([][]byte{v}, f.lists[key]...)
	}
	return nil
}

func (f *fakeProvider) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	list := f.lists[key]
	if start >= int64(len(list)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	return list[start : stop+1], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveAndRecent(t *testing.T) {
	provider := newFakeProvider()
	store := NewValkeyStore(provider, testLogger())

	first := models.NewEvent("tenant-a", "login", models.ResultSuccess)
	second := models.NewEvent("tenant-a", "login", models.ResultFailure)
	require.NoError(t, store.Archive(context.Background(), first))
	require.NoError(t, store.Archive(context.Background(), second))

	events, err := store.Recent(context.Background(), "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// newest first
	assert.Equal(t, second.ID, events[0].ID)
	assert.Equal(t, first.ID, events[1].ID)
}

func TestArchiveSwallowsProviderErrors(t *testing.T) {
	provider := newFakeProvider()
	provider.pushErr = errors.New("connection refused")
	store := NewValkeyStore(provider, testLogger())

	ev := models.NewEvent("tenant-a", "login", models.ResultFailure)
	assert.NoError(t, store.Archive(context.Background(), ev))
}

func TestRecentSkipsCorruptEntries(t *testing.T) {
	provider := newFakeProvider()
	store := NewValkeyStore(provider, testLogger())

	good := models.Event{ID: "ok", Tenant: "tenant-a", Result: models.ResultSuccess, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(good)
	require.NoError(t, err)
	provider.lists[tenantKey("tenant-a")] = [][]byte{[]byte("{not json"), payload}

	events, err := store.Recent(context.Background(), "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].ID)
}

func TestRecentRespectsLimit(t *testing.T) {
	provider := newFakeProvider()
	store := NewValkeyStore(provider, testLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Archive(context.Background(), models.NewEvent("tenant-a", "op", models.ResultSuccess)))
	}
	events, err := store.Recent(context.Background(), "tenant-a", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
