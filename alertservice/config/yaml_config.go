package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlStoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type YamlRedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Enabled    bool   `yaml:"enabled"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type YamlS3Config struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Prefix        string `yaml:"prefix"`
	ExpirySeconds int    `yaml:"expiry_seconds"`
}

type YamlURLConfig struct {
	Base         string       `yaml:"base"`
	Placeholder  string       `yaml:"placeholder"`
	DrawnSegment string       `yaml:"drawn_segment"`
	RawSegment   string       `yaml:"raw_segment"`
	S3           YamlS3Config `yaml:"s3"`
}

type YamlPlatformConfig struct {
	Name                 string   `yaml:"name"`
	Enabled              bool     `yaml:"enabled"`
	RefreshPeriodSeconds *int     `yaml:"refresh_period_seconds"`
	Labels               []string `yaml:"labels"`
	MinConfidence        float64  `yaml:"min_confidence"`
	SendRatePerSecond    float64  `yaml:"send_rate_per_second"`
}

type YamlLineConfig struct {
	ChannelAccessToken string `yaml:"channel_access_token"`
}

type YamlWhatsAppConfig struct {
	SessionDialect     string `yaml:"session_dialect"`
	SessionDSN         string `yaml:"session_dsn"`
	PairTimeoutSeconds int    `yaml:"pair_timeout_seconds"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	P8Key      string `yaml:"p8_key"`
	Production bool   `yaml:"production"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string               `yaml:"project_id"`
	ListenAddr             string               `yaml:"listen_addr"`
	TopicID                string               `yaml:"topic_id"`
	SubscriptionID         string               `yaml:"subscription_id"`
	SubscriptionDLQTopicID string               `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                  `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig       `yaml:"cors"`
	StoreConfig            YamlStoreConfig      `yaml:"store"`
	RedisConfig            YamlRedisConfig      `yaml:"redis"`
	URLConfig              YamlURLConfig        `yaml:"urls"`
	Platforms              []YamlPlatformConfig `yaml:"platforms"`
	LineConfig             YamlLineConfig       `yaml:"line"`
	WhatsAppConfig         YamlWhatsAppConfig   `yaml:"whatsapp"`
	APNSConfig             YamlAPNSConfig       `yaml:"apns"`
	VapidConfig            YamlVapidConfig      `yaml:"web"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Store: StoreConfig{
			Driver: baseCfg.StoreConfig.Driver,
			DSN:    baseCfg.StoreConfig.DSN,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      seconds(baseCfg.RedisConfig.TTLSeconds),
		},
		URLs: URLConfig{
			Base:         baseCfg.URLConfig.Base,
			Placeholder:  baseCfg.URLConfig.Placeholder,
			DrawnSegment: baseCfg.URLConfig.DrawnSegment,
			RawSegment:   baseCfg.URLConfig.RawSegment,
			S3: S3Config{
				Bucket: baseCfg.URLConfig.S3.Bucket,
				Region: baseCfg.URLConfig.S3.Region,
				Prefix: baseCfg.URLConfig.S3.Prefix,
				Expiry: seconds(baseCfg.URLConfig.S3.ExpirySeconds),
			},
		},
		Line: LineConfig{ChannelAccessToken: baseCfg.LineConfig.ChannelAccessToken},
		WhatsApp: WhatsAppConfig{
			SessionDialect: baseCfg.WhatsAppConfig.SessionDialect,
			SessionDSN:     baseCfg.WhatsAppConfig.SessionDSN,
			PairTimeout:    seconds(baseCfg.WhatsAppConfig.PairTimeoutSeconds),
		},
		APNS: APNSConfig{
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			P8Key:      baseCfg.APNSConfig.P8Key,
			Production: baseCfg.APNSConfig.Production,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	for _, p := range baseCfg.Platforms {
		refresh := DefaultRefreshPeriod
		if p.RefreshPeriodSeconds != nil {
			refresh = seconds(*p.RefreshPeriodSeconds)
		}
		cfg.Platforms = append(cfg.Platforms, PlatformConfig{
			Name:              p.Name,
			Enabled:           p.Enabled,
			RefreshPeriod:     refresh,
			Labels:            p.Labels,
			MinConfidence:     p.MinConfidence,
			SendRatePerSecond: p.SendRatePerSecond,
		})
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"platforms", len(cfg.Platforms),
	)

	return cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
