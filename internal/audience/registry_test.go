package audience_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/audience"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListAudience(ctx context.Context, platform string) ([]string, error) {
	args := m.Called(ctx, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2018, 11, 10, 14, 29, 1, 0, time.UTC)}
}

// --- Tests ---

func TestRegistry_RefreshOnce(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := new(mockStore)

	reg := audience.New("line", store, audience.Options{RefreshPeriod: 10 * time.Second, Now: clock.Now}, newTestLogger())

	// t=0: initial load
	store.On("ListAudience", mock.Anything, "line").Return([]string{"B", "A"}, nil).Once()
	require.NoError(t, reg.Load(ctx))
	assert.Equal(t, []string{"A", "B"}, reg.Current())

	// t=5: within the period, no query
	clock.Advance(5 * time.Second)
	refreshed, err := reg.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, []string{"A", "B"}, reg.Current())

	// t=12: past the period, the store now returns {A, C}
	clock.Advance(7 * time.Second)
	store.On("ListAudience", mock.Anything, "line").Return([]string{"A", "C"}, nil).Once()
	refreshed, err = reg.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, []string{"A", "C"}, reg.Current())
	assert.Equal(t, clock.Now(), reg.Watermark())

	store.AssertNumberOfCalls(t, "ListAudience", 2)
}

func TestRegistry_ExactlyAtPeriodIsNotStale(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := new(mockStore)
	store.On("ListAudience", mock.Anything, "fcm").Return([]string{"A"}, nil).Once()

	reg := audience.New("fcm", store, audience.Options{RefreshPeriod: 10 * time.Second, Now: clock.Now}, newTestLogger())
	require.NoError(t, reg.Load(ctx))

	clock.Advance(10 * time.Second)
	refreshed, err := reg.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed)
	store.AssertNumberOfCalls(t, "ListAudience", 1)
}

func TestRegistry_ZeroPeriodNeverRefreshes(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := new(mockStore)
	store.On("ListAudience", mock.Anything, "line").Return([]string{"A"}, nil).Once()

	reg := audience.New("line", store, audience.Options{Now: clock.Now}, newTestLogger())
	require.NoError(t, reg.Load(ctx))

	for i := 0; i < 5; i++ {
		clock.Advance(24 * time.Hour)
		refreshed, err := reg.RefreshIfStale(ctx)
		require.NoError(t, err)
		assert.False(t, refreshed)
	}
	assert.Equal(t, []string{"A"}, reg.Current())
	store.AssertNumberOfCalls(t, "ListAudience", 1)
}

func TestRegistry_RefreshFailure(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := new(mockStore)
	reg := audience.New("line", store, audience.Options{RefreshPeriod: 10 * time.Second, Now: clock.Now}, newTestLogger())

	store.On("ListAudience", mock.Anything, "line").Return([]string{"A", "B"}, nil).Once()
	require.NoError(t, reg.Load(ctx))
	loadedAt := reg.Watermark()

	t.Run("Keeps Cache And Watermark", func(t *testing.T) {
		clock.Advance(11 * time.Second)
		store.On("ListAudience", mock.Anything, "line").Return(nil, errors.New("db down")).Once()

		refreshed, err := reg.RefreshIfStale(ctx)
		require.Error(t, err)
		assert.False(t, refreshed)
		assert.Equal(t, []string{"A", "B"}, reg.Current())
		assert.Equal(t, loadedAt, reg.Watermark())
	})

	t.Run("Retries On Next Call", func(t *testing.T) {
		clock.Advance(time.Second)
		store.On("ListAudience", mock.Anything, "line").Return([]string{"C"}, nil).Once()

		refreshed, err := reg.RefreshIfStale(ctx)
		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, []string{"C"}, reg.Current())
	})

	store.AssertNumberOfCalls(t, "ListAudience", 3)
}

func TestRegistry_EmptyRefreshAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := new(mockStore)
	reg := audience.New("line", store, audience.Options{RefreshPeriod: time.Second, Now: clock.Now}, newTestLogger())

	store.On("ListAudience", mock.Anything, "line").Return([]string{"A"}, nil).Once()
	require.NoError(t, reg.Load(ctx))

	clock.Advance(2 * time.Second)
	store.On("ListAudience", mock.Anything, "line").Return([]string{}, nil).Once()
	refreshed, err := reg.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Empty(t, reg.Current())
	assert.Equal(t, clock.Now(), reg.Watermark())

	// Immediately after, nothing is due.
	refreshed, err = reg.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestRegistry_LoadFailure(t *testing.T) {
	store := new(mockStore)
	store.On("ListAudience", mock.Anything, "line").Return(nil, errors.New("connection refused"))

	reg := audience.New("line", store, audience.Options{RefreshPeriod: time.Second}, newTestLogger())
	err := reg.Load(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, reg.Current())
}

func TestRegistry_DeduplicatesIDs(t *testing.T) {
	store := new(mockStore)
	store.On("ListAudience", mock.Anything, "line").Return([]string{"A", "A", "", "B"}, nil)

	reg := audience.New("line", store, audience.Options{}, newTestLogger())
	require.NoError(t, reg.Load(context.Background()))
	assert.Equal(t, []string{"A", "B"}, reg.Current())
}

// countingStore blocks briefly so concurrent refreshers overlap.
type countingStore struct {
	calls atomic.Int32
}

func (s *countingStore) ListAudience(_ context.Context, _ string) ([]string, error) {
	s.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return []string{"X"}, nil
}

func TestRegistry_ConcurrentRefreshIssuesOneQuery(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := &countingStore{}
	reg := audience.New("line", store, audience.Options{RefreshPeriod: 10 * time.Second, Now: clock.Now}, newTestLogger())
	require.NoError(t, reg.Load(ctx))
	require.Equal(t, int32(1), store.calls.Load())

	clock.Advance(11 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.RefreshIfStale(ctx)
			assert.NoError(t, err)
			assert.NotNil(t, reg.Current())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), store.calls.Load())
	assert.Equal(t, []string{"X"}, reg.Current())
}

func TestRegistry_RefreshSurvivesCallerCancellation(t *testing.T) {
	clock := newClock()
	store := new(mockStore)
	reg := audience.New("line", store, audience.Options{RefreshPeriod: 10 * time.Second, Now: clock.Now}, newTestLogger())

	store.On("ListAudience", mock.Anything, "line").Return([]string{"A"}, nil).Once()
	require.NoError(t, reg.Load(context.Background()))

	queryCtxLive := func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Err() == nil && hasDeadline
	}
	store.On("ListAudience", mock.MatchedBy(queryCtxLive), "line").Return([]string{"A", "C"}, nil).Once()

	clock.Advance(12 * time.Second)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	refreshed, err := reg.RefreshIfStale(cancelled)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, []string{"A", "C"}, reg.Current())
	store.AssertExpectations(t)
}

func TestNewStatic(t *testing.T) {
	reg := audience.NewStatic("whatsapp", []string{"628123", "628111"}, newTestLogger())
	require.NoError(t, reg.Load(context.Background()))

	refreshed, err := reg.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, []string{"628111", "628123"}, reg.Current())
	assert.Equal(t, "whatsapp", reg.Platform())
}
