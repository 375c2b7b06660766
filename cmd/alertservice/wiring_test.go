package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alert-dispatcher/alertservice/config"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/audience"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/dispatcher"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/filter"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/storage/cache"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/storage/sqlstore"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/urlresolver"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStores_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreSQLite, DSN: ":memory:"}}

	stores, err := newStores(ctx, cfg, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(stores.Close)

	require.NoError(t, stores.registrar.RegisterAudience(ctx, dispatch.RegisteredAudience{PlatformID: "line", UserID: "U1"}))
	ids, err := stores.registrar.ListAudience(ctx, "line")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, ids)
}

func TestNewStores_RedisStaysOffTheRefreshPath(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: config.StoreSQLite, DSN: ":memory:"},
		Redis: config.RedisConfig{Enabled: true, Addr: mr.Addr(), TTL: 10 * time.Minute},
	}

	stores, err := newStores(ctx, cfg, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(stores.Close)
	require.IsType(t, &cache.CachedAudienceStore{}, stores.registrar)

	backing, ok := stores.recorder.(*sqlstore.Store)
	require.True(t, ok)

	for _, id := range []string{"A", "B"} {
		require.NoError(t, stores.registrar.RegisterAudience(ctx, dispatch.RegisteredAudience{PlatformID: "line", UserID: id}))
	}
	cached, err := stores.registrar.ListAudience(ctx, "line")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B"}, cached)

	now := time.Date(2018, 11, 10, 14, 29, 1, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := audience.New("line", stores.audience, audience.Options{RefreshPeriod: 10 * time.Second, Now: clock}, newTestLogger())
	require.NoError(t, reg.Load(ctx))
	require.Equal(t, []string{"A", "B"}, reg.Current())

	// Rows change outside the registration API, so the Redis entry is not invalidated.
	require.NoError(t, backing.UnregisterAudience(ctx, dispatch.RegisteredAudience{PlatformID: "line", UserID: "B"}))
	require.NoError(t, backing.RegisterAudience(ctx, dispatch.RegisteredAudience{PlatformID: "line", UserID: "C"}))

	now = now.Add(12 * time.Second)
	mr.FastForward(12 * time.Second)

	refreshed, err := reg.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, []string{"A", "C"}, reg.Current())
}

func TestNewResolver(t *testing.T) {
	t.Run("prefix resolver when no bucket is set", func(t *testing.T) {
		cfg := &config.Config{URLs: config.URLConfig{
			Base:         "https://cdn.example.com",
			DrawnSegment: config.DefaultDrawnSegment,
			RawSegment:   config.DefaultRawSegment,
		}}
		r, err := newResolver(cfg, newTestLogger())
		require.NoError(t, err)
		require.IsType(t, &urlresolver.PrefixResolver{}, r)
		assert.Equal(t, "https://cdn.example.com/raw_image/a_1.jpg", r.RawImageURL("detected_image/a_1.jpg"))
	})

	t.Run("placeholder when nothing is configured", func(t *testing.T) {
		r, err := newResolver(&config.Config{}, newTestLogger())
		require.NoError(t, err)
		assert.Equal(t, urlresolver.DefaultPlaceholderURL, r.DrawnImageURL("detected_image/a_1.jpg"))
	})
}

func TestNewChatDispatcher(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Vapid: config.VapidConfig{PublicKey: "pub", PrivateKey: "priv"}}

	for _, platform := range []string{config.PlatformLine, config.PlatformWhatsApp, config.PlatformAPNS, config.PlatformWeb} {
		t.Run(platform, func(t *testing.T) {
			d, err := newChatDispatcher(ctx, cfg, config.PlatformConfig{Name: platform, Enabled: true}, nil, &urlresolver.PrefixResolver{}, newTestLogger())
			require.NoError(t, err)
			assert.Equal(t, platform, d.Platform())
			assert.Equal(t, dispatcher.StateUninitialized, d.State())
		})
	}

	t.Run("unknown platform", func(t *testing.T) {
		_, err := newChatDispatcher(ctx, cfg, config.PlatformConfig{Name: "pager"}, nil, &urlresolver.PrefixResolver{}, newTestLogger())
		assert.Error(t, err)
	})
}

type fakeSender struct {
	platform   string
	connectErr error
	closed     bool
}

func (s *fakeSender) Platform() string                             { return s.platform }
func (s *fakeSender) Connect(context.Context) error                { return s.connectErr }
func (s *fakeSender) Send(context.Context, dispatch.Message) error { return nil }

func (s *fakeSender) Close() error {
	s.closed = true
	return nil
}

func TestConnectDispatchers(t *testing.T) {
	ctx := context.Background()
	platforms := []config.PlatformConfig{{Name: "line"}, {Name: "web"}, {Name: "apns"}}

	build := func(senders map[string]*fakeSender) func(config.PlatformConfig) (*dispatcher.ChatDispatcher, error) {
		return func(pc config.PlatformConfig) (*dispatcher.ChatDispatcher, error) {
			return dispatcher.New(
				dispatcher.Config{Platform: pc.Name, Filter: filter.Always},
				audience.NewStatic(pc.Name, nil, newTestLogger()),
				senders[pc.Name],
				newTestLogger(),
			)
		}
	}

	t.Run("Connects In Order", func(t *testing.T) {
		senders := map[string]*fakeSender{"line": {platform: "line"}, "web": {platform: "web"}, "apns": {platform: "apns"}}
		ds, err := connectDispatchers(ctx, platforms, build(senders), newTestLogger())
		require.NoError(t, err)
		require.Len(t, ds, 3)
		for i, d := range ds {
			assert.Equal(t, platforms[i].Name, d.Platform())
			assert.Equal(t, dispatcher.StateReady, d.State())
		}
	})

	t.Run("Failure Closes Earlier Sessions", func(t *testing.T) {
		senders := map[string]*fakeSender{
			"line": {platform: "line"},
			"web":  {platform: "web", connectErr: errors.New("pairing timed out")},
			"apns": {platform: "apns"},
		}
		ds, err := connectDispatchers(ctx, platforms, build(senders), newTestLogger())
		require.Error(t, err)
		assert.Nil(t, ds)

		var setupErr *dispatch.SetupError
		assert.ErrorAs(t, err, &setupErr)
		assert.True(t, senders["line"].closed, "already connected session must be released")
		assert.True(t, senders["web"].closed)
		assert.False(t, senders["apns"].closed, "later platforms are never built")
	})
}
