package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/plancore/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment      DeploymentConfig      `mapstructure:"deployment" validate:"required"`
	Server          ServerConfig          `mapstructure:"server" validate:"required"`
	Logging         LoggingConfig         `mapstructure:"logging" validate:"required"`
	Postgres        PostgresConfig        `mapstructure:"postgres" validate:"required"`
	Stripe          StripeConfig          `mapstructure:"stripe" validate:"required"`
	Entitlement     EntitlementConfig     `mapstructure:"entitlement" validate:"required"`
	EntitlementSync EntitlementSyncConfig `mapstructure:"entitlement_sync" validate:"required"`
	Catalog         CatalogConfig         `mapstructure:"catalog" validate:"required"`
	UserEvents      UserEventsConfig      `mapstructure:"user_events" validate:"required"`
	Kafka           KafkaConfig           `mapstructure:"kafka"`
	Cache           CacheConfig           `mapstructure:"cache"`
	Sentry          SentryConfig          `mapstructure:"sentry"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required,oneof=local api consumer"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host" validate:"required"`
	Port                   int    `mapstructure:"port" validate:"required"`
	User                   string `mapstructure:"user" validate:"required"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname" validate:"required"`
	SSLMode                string `mapstructure:"sslmode" validate:"required"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

// StripeConfig holds the processor credentials and hosted page redirects
type StripeConfig struct {
	SecretKey          string `mapstructure:"secret_key" validate:"required"`
	WebhookSecret      string `mapstructure:"webhook_secret" validate:"required"`
	CheckoutSuccessURL string `mapstructure:"checkout_success_url" validate:"required"`
	CheckoutCancelURL  string `mapstructure:"checkout_cancel_url" validate:"required"`
	SetupSuccessURL    string `mapstructure:"setup_success_url" validate:"required"`
	SetupCancelURL     string `mapstructure:"setup_cancel_url" validate:"required"`
}

type EntitlementConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"required"`
	RetryMax  int           `mapstructure:"retry_max"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// EntitlementSyncConfig controls the entitlement outbox worker
type EntitlementSyncConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval" validate:"required"`
	BatchSize       int           `mapstructure:"batch_size" validate:"required,min=1"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"required,min=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"required"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"required"`
}

type CatalogConfig struct {
	FreePlan string        `mapstructure:"free_plan" validate:"required"`
	Plans    []PlanConfig  `mapstructure:"plans" validate:"required,min=1,dive"`
	Addons   []AddonConfig `mapstructure:"addons" validate:"dive"`
}

type PlanConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Price    string `mapstructure:"price" validate:"required"`
	PriceRef string `mapstructure:"price_ref" validate:"required"`
}

type AddonConfig struct {
	Name         string   `mapstructure:"name" validate:"required"`
	PriceRef     string   `mapstructure:"price_ref" validate:"required"`
	AvailableFor []string `mapstructure:"available_for" validate:"required,min=1"`
}

type UserEventsConfig struct {
	PubSub        types.PubSubType `mapstructure:"pubsub" validate:"required,oneof=memory kafka"`
	Topic         string           `mapstructure:"topic" validate:"required"`
	DLQTopic      string           `mapstructure:"dlq_topic" validate:"required"`
	ConsumerGroup string           `mapstructure:"consumer_group"`

	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
}

type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	WebhookEventTTL time.Duration `mapstructure:"webhook_event_ttl"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional, real environment variables win
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/plancore")

	v.SetEnvPrefix("PLANCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.UserEvents.PubSub == types.KafkaPubSub && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when user_events.pubsub is kafka")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeLocal)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", types.LogLevelInfo)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "plancore")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "plancore")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 60)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.checkout_success_url", "http://localhost:3000/billing/success")
	v.SetDefault("stripe.checkout_cancel_url", "http://localhost:3000/billing/cancel")
	v.SetDefault("stripe.setup_success_url", "http://localhost:3000/billing/setup/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.setup_cancel_url", "http://localhost:3000/billing/setup/cancel")

	v.SetDefault("entitlement.base_url", "http://localhost:8090")
	v.SetDefault("entitlement.api_key", "")
	v.SetDefault("entitlement.timeout", 10*time.Second)
	v.SetDefault("entitlement.retry_max", 3)
	v.SetDefault("entitlement.rate_limit", 20)

	v.SetDefault("entitlement_sync.enabled", true)
	v.SetDefault("entitlement_sync.interval", 30*time.Second)
	v.SetDefault("entitlement_sync.batch_size", 50)
	v.SetDefault("entitlement_sync.max_attempts", 12)
	v.SetDefault("entitlement_sync.initial_interval", 30*time.Second)
	v.SetDefault("entitlement_sync.max_interval", 1*time.Hour)

	v.SetDefault("catalog.free_plan", "FREE")
	v.SetDefault("catalog.plans", []map[string]any{
		{"name": "FREE", "price": "0", "price_ref": "price_free"},
		{"name": "PRO", "price": "9.99", "price_ref": "price_pro"},
		{"name": "STUDIO", "price": "19.99", "price_ref": "price_studio"},
	})
	v.SetDefault("catalog.addons", []map[string]any{
		{"name": "promotedBeat", "price_ref": "price_promoted_beat", "available_for": []string{"PRO", "STUDIO"}},
		{"name": "stemExports", "price_ref": "price_stem_exports", "available_for": []string{"STUDIO"}},
	})

	v.SetDefault("user_events.pubsub", types.MemoryPubSub)
	v.SetDefault("user_events.topic", "user_events")
	v.SetDefault("user_events.dlq_topic", "user_events_dlq")
	v.SetDefault("user_events.consumer_group", "plancore")
	v.SetDefault("user_events.max_retries", 3)
	v.SetDefault("user_events.initial_interval", 1*time.Second)
	v.SetDefault("user_events.max_interval", 10*time.Second)
	v.SetDefault("user_events.multiplier", 2.0)
	v.SetDefault("user_events.max_elapsed_time", 2*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "plancore")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.webhook_event_ttl", 24*time.Hour)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.sample_rate", 0.1)
}

// GetDefaultConfig returns a configuration for tests and local scripts.
// Secrets are placeholders and must not reach a real processor.
func GetDefaultConfig() *Configuration {
	v := viper.New()
	setDefaults(v)
	v.Set("stripe.secret_key", "sk_test_placeholder")
	v.Set("stripe.webhook_secret", "whsec_placeholder")

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return &config
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
