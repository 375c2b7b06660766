package main

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"

	"github.com/tinywideclouds/go-alert-dispatcher/alertservice/config"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/audience"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/dispatcher"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/filter"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/platform/apns"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/platform/fcm"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/platform/line"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/platform/web"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/platform/whatsapp"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-alert-dispatcher/internal/storage/firestore"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/storage/sqlstore"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/urlresolver"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// storeSet holds the audience and detection backends plus their cleanup.
// audience always reads the backing store directly; only the registration
// API goes through the Redis decorator.
type storeSet struct {
	registrar dispatch.AudienceRegistrar
	audience  dispatch.AudienceStore
	recorder  dispatch.DetectionRecorder
	closers   []func() error
}

func (s *storeSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

type backingStore interface {
	dispatch.AudienceRegistrar
	dispatch.DetectionRecorder
}

func newStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeSet, error) {
	set := &storeSet{}

	var store backingStore
	switch cfg.Store.Driver {
	case config.StoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client failed: %w", err)
		}
		set.closers = append(set.closers, fsClient.Close)
		store = fsStore.NewStore(fsClient)
	default:
		sqlStore, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, sqlStore.Close)
		if err := sqlStore.Migrate(ctx); err != nil {
			set.Close()
			return nil, err
		}
		store = sqlStore
	}
	logger.Info("Store initialized", "driver", cfg.Store.Driver)
	set.registrar = store
	set.audience = store
	set.recorder = store

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		set.closers = append(set.closers, redisClient.Close)
		set.registrar = cache.NewCachedAudienceStore(store, redisClient, cfg.Redis.TTL)
		logger.Info("Audience store upgraded", "type", "redis_cached_"+cfg.Store.Driver)
	}
	return set, nil
}

func newResolver(cfg *config.Config, logger *slog.Logger) (dispatch.URLResolver, error) {
	if cfg.URLs.S3.Bucket != "" {
		logger.Info("Image URLs presigned from S3", "bucket", cfg.URLs.S3.Bucket)
		return urlresolver.NewS3Resolver(urlresolver.S3Config{
			Bucket:       cfg.URLs.S3.Bucket,
			Region:       cfg.URLs.S3.Region,
			Prefix:       cfg.URLs.S3.Prefix,
			Expiry:       cfg.URLs.S3.Expiry,
			DrawnSegment: cfg.URLs.DrawnSegment,
			RawSegment:   cfg.URLs.RawSegment,
			Placeholder:  cfg.URLs.Placeholder,
		}, logger)
	}
	if cfg.URLs.Base == "" {
		logger.Warn("No public image base configured; alerts carry the placeholder image")
	}
	return &urlresolver.PrefixResolver{
		Base:         cfg.URLs.Base,
		Placeholder:  cfg.URLs.Placeholder,
		DrawnSegment: cfg.URLs.DrawnSegment,
		RawSegment:   cfg.URLs.RawSegment,
	}, nil
}

// connectDispatchers builds and connects one dispatcher per platform, in order.
// On the first failure every dispatcher already connected is closed again.
func connectDispatchers(
	ctx context.Context,
	platforms []config.PlatformConfig,
	build func(config.PlatformConfig) (*dispatcher.ChatDispatcher, error),
	logger *slog.Logger,
) ([]*dispatcher.ChatDispatcher, error) {
	var connected []*dispatcher.ChatDispatcher
	for _, pc := range platforms {
		d, err := build(pc)
		if err != nil {
			closeDispatchers(connected)
			return nil, fmt.Errorf("dispatcher setup for %s failed: %w", pc.Name, err)
		}
		if err := d.Connect(ctx); err != nil {
			_ = d.Close()
			closeDispatchers(connected)
			return nil, fmt.Errorf("dispatcher for %s failed to connect: %w", pc.Name, err)
		}
		logger.Info("Dispatcher ready", "platform", pc.Name)
		connected = append(connected, d)
	}
	return connected, nil
}

func closeDispatchers(dispatchers []*dispatcher.ChatDispatcher) {
	for i := len(dispatchers) - 1; i >= 0; i-- {
		_ = dispatchers[i].Close()
	}
}

func newChatDispatcher(
	ctx context.Context,
	cfg *config.Config,
	pc config.PlatformConfig,
	store dispatch.AudienceStore,
	resolver dispatch.URLResolver,
	logger *slog.Logger,
) (*dispatcher.ChatDispatcher, error) {
	sender, err := newSender(ctx, cfg, pc.Name, logger)
	if err != nil {
		return nil, err
	}
	registry := audience.New(pc.Name, store, audience.Options{RefreshPeriod: pc.RefreshPeriod}, logger)
	return dispatcher.New(dispatcher.Config{
		Platform:      pc.Name,
		Filter:        filter.NewLabelFilter(pc.Labels, pc.MinConfidence),
		Resolver:      resolver,
		RatePerSecond: pc.SendRatePerSecond,
	}, registry, sender, logger)
}

func newSender(ctx context.Context, cfg *config.Config, platform string, logger *slog.Logger) (dispatch.Sender, error) {
	switch platform {
	case config.PlatformLine:
		return line.NewSender(line.Config{ChannelAccessToken: cfg.Line.ChannelAccessToken}, logger), nil
	case config.PlatformWhatsApp:
		return whatsapp.NewSender(whatsapp.Config{
			Dialect:     cfg.WhatsApp.SessionDialect,
			DSN:         cfg.WhatsApp.SessionDSN,
			PairTimeout: cfg.WhatsApp.PairTimeout,
		}, logger), nil
	case config.PlatformFCM:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
		}
		return fcm.NewSender(func(ctx context.Context) (fcm.MessagingClient, error) {
			return fbApp.Messaging(ctx)
		}, logger), nil
	case config.PlatformAPNS:
		return apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Production:   cfg.APNS.Production,
		}, logger), nil
	case config.PlatformWeb:
		if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
			logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
		}
		return web.NewSender(cfg.Vapid, logger), nil
	default:
		return nil, fmt.Errorf("no sender for platform %q", platform)
	}
}
