package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/regatta-imagery/internal/adapter/storage"
	"github.com/couchcryptid/regatta-imagery/internal/observability"
)

// --- in-memory store ---

type memStore struct {
	mu      sync.Mutex
	blob    []byte
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blob, m.loadErr
}

func (m *memStore) Save(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.blob = append([]byte(nil), blob...)
	return nil
}

func (m *memStore) snapshot() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out map[string]Entry
	_ = json.Unmarshal(m.blob, &out)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, store Store, clock clockwork.Clock) *Cache {
	t.Helper()
	c := New(store, clock, discardLogger(), observability.NewMetricsForTesting())
	c.Init(context.Background())
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// --- tests ---

func TestCache_FreshnessBoundary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	c := newTestCache(t, &memStore{}, clock)

	c.Set("radar", []byte(`[1]`), 100*time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	data, ok := c.Get("radar")
	require.True(t, ok)
	assert.JSONEq(t, `[1]`, string(data))

	clock.Advance(50 * time.Millisecond) // exactly at expiry is still fresh
	_, ok = c.Get("radar")
	assert.True(t, ok)

	clock.Advance(50 * time.Millisecond)
	_, ok = c.Get("radar")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Status().Size, "stale key must be evicted")
}

func TestCache_SetOverwrites(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, &memStore{}, clock)

	c.Set("k", []byte(`"old"`), time.Minute)
	clock.Advance(50 * time.Second)
	c.Set("k", []byte(`"new"`), time.Minute)
	clock.Advance(50 * time.Second)

	data, ok := c.Get("k")
	require.True(t, ok, "overwrite must reset the timestamp")
	assert.JSONEq(t, `"new"`, string(data))
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := newTestCache(t, &memStore{}, clockwork.NewFakeClock())
	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestCache_ClearAndStatus(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &memStore{}
	c := newTestCache(t, store, clock)

	c.Set("b", []byte(`2`), time.Minute)
	c.Set("a", []byte(`1`), time.Second)
	clock.Advance(2 * time.Second)

	st := c.Status()
	require.Equal(t, 2, st.Size)
	assert.Equal(t, "a", st.Entries[0].Key)
	assert.False(t, st.Entries[0].Fresh)
	assert.Equal(t, 2*time.Second, st.Entries[0].Age)
	assert.True(t, st.Entries[1].Fresh)
	assert.Equal(t, time.Minute, st.Entries[1].ExpiresIn)

	c.Clear()
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, c.Status().Size)
	assert.Empty(t, store.snapshot())
}

func TestCache_SetPersistsInBackground(t *testing.T) {
	store := &memStore{}
	c := newTestCache(t, store, clockwork.NewFakeClock())

	c.Set("radar", []byte(`{"x":1}`), time.Minute)

	assert.Eventually(t, func() bool {
		_, ok := store.snapshot()["radar"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCache_PersistenceRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewFileStore(filepath.Join(t.TempDir(), "cache.json"))

	first := New(store, clock, discardLogger(), observability.NewMetricsForTesting())
	first.Init(context.Background())
	first.Set("satellite:visible", []byte(`[{"type":"visible"}]`), LongTTL)
	first.Set("radar:short", []byte(`[]`), time.Second)
	require.NoError(t, first.Close(context.Background()))

	clock.Advance(time.Minute)

	second := newTestCache(t, store, clock)
	data, ok := second.Get("satellite:visible")
	require.True(t, ok)
	assert.JSONEq(t, `[{"type":"visible"}]`, string(data))

	_, ok = second.Get("radar:short")
	assert.False(t, ok, "expired entries stay expired after reload")
}

func TestCache_CorruptBlobStartsEmpty(t *testing.T) {
	c := newTestCache(t, &memStore{blob: []byte("{not json")}, clockwork.NewFakeClock())
	assert.Equal(t, 0, c.Status().Size)

	c.Set("k", []byte(`1`), time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_LoadErrorStartsEmpty(t *testing.T) {
	c := newTestCache(t, &memStore{loadErr: errors.New("disk gone")}, clockwork.NewFakeClock())
	assert.Equal(t, 0, c.Status().Size)
}

func TestCache_SaveErrorIsReturnedByFlushOnly(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	c := newTestCache(t, store, clockwork.NewFakeClock())

	c.Set("k", []byte(`1`), time.Minute) // must not fail or block
	_, ok := c.Get("k")
	assert.True(t, ok)

	err := c.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCache_CloseWithoutInit(t *testing.T) {
	store := &memStore{}
	c := New(store, clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())
	c.Set("k", []byte(`1`), time.Minute)

	require.NoError(t, c.Close(context.Background()))
	assert.Contains(t, store.snapshot(), "k")
	require.NoError(t, c.Close(context.Background()), "close is idempotent")
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, &memStore{}, clockwork.NewRealClock())

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c"}[i%3]
			c.Set(key, []byte(`1`), time.Minute)
			c.Get(key)
			c.Status()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, c.Status().Size)
}
