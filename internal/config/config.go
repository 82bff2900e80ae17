package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tokenrail/tokenrail/internal/types"
)

type Configuration struct {
	Deployment     DeploymentConfig `validate:"required"`
	Server         ServerConfig     `validate:"required"`
	Logging        LoggingConfig    `validate:"required"`
	Postgres       PostgresConfig   `validate:"required"`
	Stripe         StripeConfig     `validate:"required"`
	Auth           AuthConfig       `validate:"required"`
	Site           SiteConfig       `validate:"required"`
	Webhook        WebhookConfig    `validate:"required"`
	Referral       ReferralConfig
	Alert          AlertConfig
	Cron           CronConfig
	Reconciliation ReconciliationConfig
	Cache          CacheConfig
	Sentry         SentryConfig
	Pyroscope      PyroscopeConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	// URL is the full connection string (STORAGE_URL). When set it wins
	// over the field-wise settings below.
	URL string `mapstructure:"url"`
	// ServiceKey (STORAGE_SERVICE_KEY) is the credential injected into URL
	// when the URL itself carries none.
	ServiceKey   string `mapstructure:"service_key"`
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// ConnMaxLifetimeMinutes bounds how long a pooled connection is reused
	ConnMaxLifetimeMinutes int  `mapstructure:"conn_max_lifetime_minutes"`
	AutoMigrate            bool `mapstructure:"auto_migrate"`
}

type StripeConfig struct {
	// SecretKey (PG_SECRET_KEY) authenticates outbound gateway calls
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	// WebhookSecret (PG_WEBHOOK_SECRET) verifies inbound event signatures
	WebhookSecret string `mapstructure:"webhook_secret" validate:"required"`
}

type AuthConfig struct {
	Provider types.AuthProvider `validate:"required"`
	// Secret is the HMAC secret bearer tokens are signed with
	Secret   string
	Supabase SupabaseConfig
}

type SupabaseConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	ServiceKey string `mapstructure:"service_key"`
}

type SiteConfig struct {
	// Domain (SITE_DOMAIN) is the base URL checkout redirects return to
	Domain string `validate:"required,url"`
}

type WebhookConfig struct {
	// HandlerTimeout bounds the processing of a single inbound event
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"required"`
	// GatewayTimeout bounds individual gateway calls made while handling an
	// event, kept shorter so store writes still have time to commit
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout" validate:"required"`
}

type ReferralConfig struct {
	// TokenAmount (REFERRAL_TOKEN_AMOUNT) is the reward per successful
	// referral; 0 disables referral rewards entirely
	TokenAmount int64 `mapstructure:"token_amount"`
	// RewardExpiryDays bounds how long referral reward batches live
	RewardExpiryDays int `mapstructure:"reward_expiry_days"`
}

type AlertConfig struct {
	// WebhookURL (ALERT_CHANNEL_WEBHOOK_URL) is the out-of-band alert sink
	WebhookURL string `mapstructure:"webhook_url"`
	// Channel (ALERT_CHANNEL_NAME) is the channel alerts are addressed to
	Channel string
}

type CronConfig struct {
	// Secret guards the /cron endpoints; empty disables the guard
	Secret string
}

type ReconciliationConfig struct {
	// Concurrency bounds parallel gateway lookups during a run
	Concurrency int `mapstructure:"concurrency"`
	// RequestsPerSecond paces gateway calls under the gateway's rate limits
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

type CacheConfig struct {
	Enabled bool
}

type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled         bool
	ServerAddress   string   `mapstructure:"server_address"`
	ApplicationName string   `mapstructure:"application_name"`
	BasicAuthUser   string   `mapstructure:"basic_auth_user"`
	BasicAuthPass   string   `mapstructure:"basic_auth_pass"`
	SampleRate      int      `mapstructure:"sample_rate"`
	DisableGCRuns   bool     `mapstructure:"disable_gc_runs"`
	ProfileTypes    []string `mapstructure:"profile_types"`
}

func NewConfig() (*Configuration, error) {
	// Best effort .env for local development
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tokenrail")

	setDefaults(v)

	// Set up environment variables support
	v.SetEnvPrefix("TOKENRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	bindSpecEnv(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindSpecEnv maps the externally documented environment variables onto
// the config tree. These names are part of the deployment contract and
// do not carry the TOKENRAIL_ prefix.
func bindSpecEnv(v *viper.Viper) {
	_ = v.BindEnv("stripe.secret_key", "PG_SECRET_KEY")
	_ = v.BindEnv("stripe.webhook_secret", "PG_WEBHOOK_SECRET")
	_ = v.BindEnv("postgres.url", "STORAGE_URL")
	_ = v.BindEnv("postgres.service_key", "STORAGE_SERVICE_KEY")
	_ = v.BindEnv("site.domain", "SITE_DOMAIN")
	_ = v.BindEnv("referral.token_amount", "REFERRAL_TOKEN_AMOUNT")
	_ = v.BindEnv("alert.webhook_url", "ALERT_CHANNEL_WEBHOOK_URL")
	_ = v.BindEnv("alert.channel", "ALERT_CHANNEL_NAME")
	_ = v.BindEnv("auth.secret", "AUTH_SECRET")
	_ = v.BindEnv("auth.supabase.base_url", "AUTH_BASE_URL")
	_ = v.BindEnv("auth.supabase.service_key", "AUTH_SERVICE_KEY")
	_ = v.BindEnv("cron.secret", "CRON_SECRET")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeAPI))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.dbname", "tokenrail")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 30)
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("auth.provider", string(types.AuthProviderLocal))
	v.SetDefault("webhook.handler_timeout", "30s")
	v.SetDefault("webhook.gateway_timeout", "10s")
	v.SetDefault("referral.token_amount", 0)
	v.SetDefault("referral.reward_expiry_days", 60)
	v.SetDefault("reconciliation.concurrency", 4)
	v.SetDefault("reconciliation.requests_per_second", 10)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("sentry.sample_rate", 0.1)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Postgres.URL == "" && c.Postgres.Host == "" {
		return errors.New("postgres: either STORAGE_URL or host must be set")
	}
	if c.Auth.Provider == types.AuthProviderSupabase && c.Auth.Supabase.BaseURL == "" {
		return errors.New("auth: supabase provider requires a base URL")
	}
	if c.Referral.TokenAmount < 0 {
		return errors.New("referral: token amount cannot be negative")
	}
	return nil
}

// GetDefaultConfig returns a default configuration for local development
// and tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Webhook: WebhookConfig{
			HandlerTimeout: 30 * time.Second,
			GatewayTimeout: 10 * time.Second,
		},
		Referral: ReferralConfig{RewardExpiryDays: 60},
		Reconciliation: ReconciliationConfig{
			Concurrency:       4,
			RequestsPerSecond: 10,
		},
	}
}

// GetDSN returns the connection string for the ledger store. A full URL
// wins; the service key is injected as the password when the URL carries
// no credential of its own.
func (c PostgresConfig) GetDSN() string {
	if c.URL == "" {
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

	if c.ServiceKey == "" {
		return c.URL
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}
	if u.User == nil {
		u.User = url.UserPassword(c.User, c.ServiceKey)
	} else if _, hasPassword := u.User.Password(); !hasPassword {
		u.User = url.UserPassword(u.User.Username(), c.ServiceKey)
	}
	return u.String()
}
