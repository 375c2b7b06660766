package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Platform ids the service can dispatch to.
const (
	PlatformLine     = "line"
	PlatformWhatsApp = "whatsapp"
	PlatformFCM      = "fcm"
	PlatformAPNS     = "apns"
	PlatformWeb      = "web"
)

// KnownPlatforms lists every supported platform id.
var KnownPlatforms = []string{PlatformLine, PlatformWhatsApp, PlatformFCM, PlatformAPNS, PlatformWeb}

// Store drivers.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreSQLite    = "sqlite"
)

const (
	DefaultListenAddr    = ":8080"
	DefaultStoreDSN      = "file:alerts.db"
	DefaultRefreshPeriod = 10 * time.Second
	DefaultDrawnSegment  = "detected_image"
	DefaultRawSegment    = "raw_image"
	DefaultRedisTTL      = 10 * time.Minute
	DefaultPairTimeout   = 60 * time.Second
)

type StoreConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type S3Config struct {
	Bucket string
	Region string
	Prefix string
	Expiry time.Duration
}

// URLConfig drives image URL resolution. An empty Base and Bucket fall back to Placeholder.
type URLConfig struct {
	Base         string
	Placeholder  string
	DrawnSegment string
	RawSegment   string
	S3           S3Config
}

// PlatformConfig is the dispatch policy of one platform.
type PlatformConfig struct {
	Name              string
	Enabled           bool
	RefreshPeriod     time.Duration
	Labels            []string
	MinConfidence     float64
	SendRatePerSecond float64
}

type LineConfig struct {
	ChannelAccessToken string
}

type WhatsAppConfig struct {
	SessionDialect string
	SessionDSN     string
	PairTimeout    time.Duration
}

type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	P8Key      string
	Production bool
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Store      StoreConfig
	Redis      RedisConfig
	URLs       URLConfig

	// Platforms are dispatched in this order.
	Platforms []PlatformConfig
	Line      LineConfig
	WhatsApp  WhatsAppConfig
	APNS      APNSConfig
	Vapid     VapidConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// EnabledPlatforms returns the enabled platform configs in dispatch order.
func (c *Config) EnabledPlatforms() []PlatformConfig {
	var enabled []PlatformConfig
	for _, p := range c.Platforms {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// UpdateConfigWithEnvOverrides applies environment variables, defaults, and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	})

	override("STORE_DRIVER", func(v string) { cfg.Store.Driver = v })
	override("STORE_DSN", func(v string) { cfg.Store.DSN = v })

	// Redis Overrides
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	})
	override("REDIS_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Redis.Enabled = enabled
	})
	override("REDIS_TTL_SECONDS", func(v string) {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Redis.TTL = time.Duration(secs) * time.Second
		}
	})

	override("URL_BASE", func(v string) { cfg.URLs.Base = v })
	override("S3_BUCKET", func(v string) { cfg.URLs.S3.Bucket = v })
	override("S3_REGION", func(v string) { cfg.URLs.S3.Region = v })

	// Platform credentials
	override("LINE_CHANNEL_ACCESS_TOKEN", func(v string) { cfg.Line.ChannelAccessToken = v })
	override("WHATSAPP_SESSION_DSN", func(v string) { cfg.WhatsApp.SessionDSN = v })
	override("APNS_P8_KEY", func(v string) { cfg.APNS.P8Key = v })
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == StoreSQLite {
		cfg.Store.DSN = DefaultStoreDSN
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = DefaultRedisTTL
	}
	if cfg.URLs.DrawnSegment == "" {
		cfg.URLs.DrawnSegment = DefaultDrawnSegment
	}
	if cfg.URLs.RawSegment == "" {
		cfg.URLs.RawSegment = DefaultRawSegment
	}
	if cfg.WhatsApp.SessionDialect == "" {
		cfg.WhatsApp.SessionDialect = StoreSQLite
	}
	if cfg.WhatsApp.PairTimeout <= 0 {
		cfg.WhatsApp.PairTimeout = DefaultPairTimeout
	}
	for i := range cfg.Platforms {
		if cfg.Platforms[i].RefreshPeriod < 0 {
			cfg.Platforms[i].RefreshPeriod = 0
		}
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
}

func validate(cfg *Config) error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}

	switch cfg.Store.Driver {
	case StoreFirestore, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres driver")
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Platforms {
		if !isKnownPlatform(p.Name) {
			return fmt.Errorf("unknown platform %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("platform %q configured twice", p.Name)
		}
		seen[p.Name] = true
	}
	if len(cfg.EnabledPlatforms()) == 0 {
		return fmt.Errorf("at least one platform must be enabled")
	}
	return nil
}

func isKnownPlatform(name string) bool {
	for _, known := range KnownPlatforms {
		if name == known {
			return true
		}
	}
	return false
}
