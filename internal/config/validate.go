package config

import (
	"fmt"
	"time"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}

	if c.Quota.DefaultDailyLimit < 0 {
		return fmt.Errorf("quota.default_daily_limit must be >= 0 (got %d)", c.Quota.DefaultDailyLimit)
	}

	if err := c.Delivery.validate(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}

	if c.Translation.Enabled && c.Translation.TargetLang == "" {
		return fmt.Errorf("translation.target_lang must be set when translation is enabled")
	}

	// The platform may redeliver webhook events for up to a day; pruning the
	// ledger earlier than that would re-admit duplicates.
	if c.Retention.WebhookEvents < 24*time.Hour {
		return fmt.Errorf("retention.webhook_events must be at least 24h (got %v)", c.Retention.WebhookEvents)
	}

	if c.RateLimit.WebhookPerMinute <= 0 {
		return fmt.Errorf("rate_limit.webhook_per_minute must be > 0 (got %d)", c.RateLimit.WebhookPerMinute)
	}

	return nil
}

func (d *DeliveryConfig) validate() error {
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", d.BatchSize)
	}
	if d.Workers <= 0 {
		return fmt.Errorf("workers must be > 0 (got %d)", d.Workers)
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0 (got %v)", d.PollInterval)
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", d.MaxAttempts)
	}
	if d.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be > 0 (got %v)", d.RetryBackoff)
	}
	// A claim released before its send could finish would hand the same
	// message to a second worker.
	if d.ClaimTTL <= d.SendTimeout {
		return fmt.Errorf("claim_ttl (%v) must exceed send_timeout (%v)", d.ClaimTTL, d.SendTimeout)
	}
	return nil
}
