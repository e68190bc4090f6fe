package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Line        LineConfig        `yaml:"line"`
	LLM         LLMConfig         `yaml:"llm"`
	Quota       QuotaConfig       `yaml:"quota"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Translation TranslationConfig `yaml:"translation"`
	Retention   RetentionConfig   `yaml:"retention"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// AuthConfig holds service-token settings for the ingest/ops API.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"        env:"AUTH_JWT_SECRET"        env-required:"true"`
	JWTIssuer       string        `yaml:"jwt_issuer"        env:"AUTH_JWT_ISSUER"        env-default:"newsline"`
	ServiceTokenTTL time.Duration `yaml:"service_token_ttl" env:"AUTH_SERVICE_TOKEN_TTL" env-default:"720h"`
}

// LineConfig holds LINE Messaging API channel settings.
// Secret and token are optional at load time: the sender binary needs only
// the token, the webhook server only the secret. Missing values surface as
// call-time errors.
type LineConfig struct {
	ChannelSecret      string        `yaml:"channel_secret"       env:"LINE_CHANNEL_SECRET"`
	ChannelAccessToken string        `yaml:"channel_access_token" env:"LINE_CHANNEL_ACCESS_TOKEN"`
	APIBaseURL         string        `yaml:"api_base_url"         env:"LINE_API_BASE_URL"  env-default:"https://api.line.me"`
	SendTimeout        time.Duration `yaml:"send_timeout"         env:"LINE_SEND_TIMEOUT"  env-default:"20s"`
}

// LLMConfig holds the chat-completions endpoint settings.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"        env:"LLM_BASE_URL"        env-default:"https://api.openai.com/v1"`
	APIKey         string        `yaml:"api_key"         env:"LLM_API_KEY"`
	Provider       string        `yaml:"provider"        env:"LLM_PROVIDER"        env-default:"openai"`
	Model          string        `yaml:"model"           env:"LLM_MODEL"           env-default:"gpt-4o-mini"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT" env-default:"60s"`
}

// QuotaConfig holds the per-user daily question quota.
type QuotaConfig struct {
	DefaultDailyLimit int `yaml:"default_daily_limit" env:"QUOTA_DEFAULT_DAILY_LIMIT" env-default:"5"`
}

// DeliveryConfig holds push delivery worker settings.
type DeliveryConfig struct {
	BatchSize    int           `yaml:"batch_size"    env:"DELIVERY_BATCH_SIZE"    env-default:"20"`
	Workers      int           `yaml:"workers"       env:"DELIVERY_WORKERS"       env-default:"4"`
	PollInterval time.Duration `yaml:"poll_interval" env:"DELIVERY_POLL_INTERVAL" env-default:"5s"`
	SendTimeout  time.Duration `yaml:"send_timeout"  env:"DELIVERY_SEND_TIMEOUT"  env-default:"30s"`
	MaxAttempts  int           `yaml:"max_attempts"  env:"DELIVERY_MAX_ATTEMPTS"  env-default:"3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"DELIVERY_RETRY_BACKOFF" env-default:"30s"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"     env:"DELIVERY_CLAIM_TTL"     env-default:"5m"`
}

// TranslationConfig holds the inline translation stage settings.
type TranslationConfig struct {
	Enabled       bool   `yaml:"enabled"        env:"TRANSLATION_ENABLED"        env-default:"false"`
	TargetLang    string `yaml:"target_lang"    env:"TRANSLATION_TARGET_LANG"    env-default:"zh-TW"`
	PromptVersion string `yaml:"prompt_version" env:"TRANSLATION_PROMPT_VERSION" env-default:"translate-v1"`
}

// RetentionConfig holds cleanup horizons.
type RetentionConfig struct {
	WebhookEvents time.Duration `yaml:"webhook_events" env:"RETENTION_WEBHOOK_EVENTS" env-default:"720h"`
}

// RateLimitConfig holds inbound rate limits.
type RateLimitConfig struct {
	WebhookPerMinute int `yaml:"webhook_per_minute" env:"RATELIMIT_WEBHOOK_PER_MINUTE" env-default:"300"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}
