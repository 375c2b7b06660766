package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-alert-dispatcher/alertservice"
	"github.com/tinywideclouds/go-alert-dispatcher/alertservice/config"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/dispatcher"
	"github.com/tinywideclouds/go-alert-dispatcher/internal/pipeline"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-alert-dispatcher")
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

// run builds and starts the service. Every resource opened here is released
// by a deferred close before run returns, including on setup failure.
func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Storage ---
	stores, err := newStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	defer stores.Close()

	// --- Image URLs ---
	resolver, err := newResolver(cfg, logger)
	if err != nil {
		return fmt.Errorf("url resolver initialization failed: %w", err)
	}

	// --- Dispatchers ---
	dispatchers, err := connectDispatchers(ctx, cfg.EnabledPlatforms(), func(pc config.PlatformConfig) (*dispatcher.ChatDispatcher, error) {
		return newChatDispatcher(ctx, cfg, pc, stores.audience, resolver, logger)
	}, logger)
	if err != nil {
		return err
	}
	defer closeDispatchers(dispatchers)

	handlers := []detection.Handler{pipeline.NewRecorderHandler(stores.recorder)}
	enabled := make([]string, 0, len(dispatchers))
	for _, d := range dispatchers {
		handlers = append(handlers, d)
		enabled = append(enabled, d.Platform())
	}
	notificationPipeline := pipeline.New(logger, handlers...)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("jwt config discovery against %s failed: %w", identityURL, err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("auth middleware creation failed: %w", err)
	}

	// --- Consumer & Service ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client failed: %w", err)
	}
	defer psClient.Close()

	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return fmt.Errorf("consumer creation failed: %w", err)
	}

	service, err := alertservice.New(
		cfg,
		consumer,
		notificationPipeline,
		stores.registrar,
		enabled,
		authMiddleware,
		logger,
	)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	logger.Info("Starting service...", "platforms", enabled)
	return service.Start(ctx)
}

// newIngestionConsumer ensures the detection subscription exists, dead-lettering
// to the DLQ topic when one is configured.
func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")

	if cfg.TopicID != "" {
		subConfig := &pubsubpb.Subscription{
			Name:               sub,
			Topic:              convertPubsub(cfg.ProjectID, cfg.TopicID, "topics"),
			AckDeadlineSeconds: 10,
		}
		if cfg.SubscriptionDLQTopicID != "" {
			subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
				DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
				MaxDeliveryAttempts: 5,
			}
		}
		logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
		_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
			} else {
				logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
				return nil, fmt.Errorf("could not create sub: %s", sub)
			}
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(sub), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
