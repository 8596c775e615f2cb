package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	RenewalStrategyAuto     = "auto"
	RenewalStrategyReplace  = "replace"
	RenewalStrategyAdditive = "additive"
)

type GatewayConfig struct {
	BaseURL       string        `koanf:"base_url" mapstructure:"base_url"`
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int           `koanf:"burst" mapstructure:"burst"`
	// Privileged enables the bulk, bulk-remove, and replace endpoints.
	Privileged bool `koanf:"privileged" mapstructure:"privileged"`
}

type RenewalConfig struct {
	Strategy string `koanf:"strategy" mapstructure:"strategy"`
}

type ReportingConfig struct {
	ExpiringWindow time.Duration `koanf:"expiring_window" mapstructure:"expiring_window"`
}

type LockingConfig struct {
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type WebhookConfig struct {
	SigningSecret   string `koanf:"signing_secret" mapstructure:"signing_secret"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	MaxBodyBytes    int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Gateway     GatewayConfig   `koanf:"gateway" mapstructure:"gateway"`
	Renewal     RenewalConfig   `koanf:"renewal" mapstructure:"renewal"`
	Reporting   ReportingConfig `koanf:"reporting" mapstructure:"reporting"`
	Locking     LockingConfig   `koanf:"locking" mapstructure:"locking"`
	Webhook     WebhookConfig   `koanf:"webhook" mapstructure:"webhook"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "entitlements",
		Gateway: GatewayConfig{
			Timeout:       15 * time.Second,
			RatePerSecond: 5,
			Burst:         5,
		},
		Renewal: RenewalConfig{
			Strategy: RenewalStrategyAuto,
		},
		Reporting: ReportingConfig{
			ExpiringWindow: 7 * 24 * time.Hour,
		},
		Locking: LockingConfig{
			Timeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Billing-Signature",
			MaxBodyBytes:    1 << 20,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Renewal.Strategy)) {
	case "", RenewalStrategyAuto, RenewalStrategyReplace, RenewalStrategyAdditive:
	default:
		return fmt.Errorf("core: invalid renewal strategy %q", c.Renewal.Strategy)
	}
	if c.Gateway.Timeout < 0 {
		return fmt.Errorf("core: gateway timeout must be >= 0")
	}
	if c.Gateway.RatePerSecond < 0 || c.Gateway.Burst < 0 {
		return fmt.Errorf("core: gateway rate limits must be >= 0")
	}
	if c.Reporting.ExpiringWindow < 0 {
		return fmt.Errorf("core: reporting expiring_window must be >= 0")
	}
	if c.Locking.Timeout < 0 {
		return fmt.Errorf("core: locking timeout must be >= 0")
	}
	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("core: webhook max_body_bytes must be >= 0")
	}
	return nil
}

func (c Config) renewalStrategy() string {
	strategy := strings.TrimSpace(strings.ToLower(c.Renewal.Strategy))
	if strategy == "" {
		return RenewalStrategyAuto
	}
	return strategy
}
