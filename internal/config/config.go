/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config defines the service configuration. Values are loaded from a
// YAML/JSON file and environment variables via config.Loader; the well-known
// DATABASE_URL, REDIS_URL, and PORT variables override their file counterparts.
package config

import (
	"os"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/profserver"
)

// ServiceName is used as the env var prefix and the API URL segment.
const ServiceName = "txsubmit"

// defaultServerAddress is the wire-contract default listen address.
const defaultServerAddress = ":3000"

// AppConfig is the aggregate configuration of the service.
type AppConfig struct {
	Server     *httpserver.Config
	ProfServer *profserver.Config
	Log        *log.Config
	Postgres   *PostgresConfig
	Redis      *RedisConfig
	RateLimit  *RateLimitConfig
	Queue      *QueueConfig
	Submit     *SubmitConfig
}

// NewAppConfig creates a new AppConfig with initialized sections.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server:     httpserver.NewConfig(),
		ProfServer: profserver.NewConfig(),
		Log:        log.NewConfig(),
		Postgres:   NewPostgresConfig(),
		Redis:      NewRedisConfig(),
		RateLimit:  NewRateLimitConfig(),
		Queue:      NewQueueConfig(),
		Submit:     NewSubmitConfig(),
	}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
	dp.SetDefault("server.address", defaultServerAddress)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *AppConfig) Set(dp config.DataProvider) error {
	if err := config.CallSetForFields(c, dp); err != nil {
		return err
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	return nil
}

const cfgKeyPostgresURL = "url"

// PostgresConfig configures the durable store connection.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url" json:"url"`

	keyPrefix string
}

var _ config.Config = (*PostgresConfig)(nil)
var _ config.KeyPrefixProvider = (*PostgresConfig)(nil)

// NewPostgresConfig creates a new PostgresConfig.
func NewPostgresConfig() *PostgresConfig {
	return &PostgresConfig{keyPrefix: "postgres"}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *PostgresConfig) KeyPrefix() string { return c.keyPrefix }

// SetProviderDefaults implements config.Config.
func (c *PostgresConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyPostgresURL, "postgres://localhost:5432/txsubmit")
}

// Set implements config.Config.
func (c *PostgresConfig) Set(dp config.DataProvider) error {
	var err error
	if c.URL, err = dp.GetString(cfgKeyPostgresURL); err != nil {
		return err
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.URL = url
	}
	return nil
}

const cfgKeyRedisURL = "url"

// RedisConfig configures the fast cache connection.
type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url" json:"url"`

	keyPrefix string
}

var _ config.Config = (*RedisConfig)(nil)
var _ config.KeyPrefixProvider = (*RedisConfig)(nil)

// NewRedisConfig creates a new RedisConfig.
func NewRedisConfig() *RedisConfig {
	return &RedisConfig{keyPrefix: "redis"}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *RedisConfig) KeyPrefix() string { return c.keyPrefix }

// SetProviderDefaults implements config.Config.
func (c *RedisConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRedisURL, "redis://localhost:6379")
}

// Set implements config.Config.
func (c *RedisConfig) Set(dp config.DataProvider) error {
	var err error
	if c.URL, err = dp.GetString(cfgKeyRedisURL); err != nil {
		return err
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.URL = url
	}
	return nil
}

const (
	cfgKeyRateLimitPolicyCacheMaxKeys = "policyCache.maxKeys"
	cfgKeyRateLimitPolicyCacheTTL     = "policyCache.ttl"
)

const (
	defaultPolicyCacheMaxKeys = 10000
	defaultPolicyCacheTTL     = time.Minute
)

// PolicyCacheConfig configures the in-process policy memoization.
type PolicyCacheConfig struct {
	MaxKeys int                 `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	TTL     config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	PolicyCache PolicyCacheConfig `mapstructure:"policyCache" yaml:"policyCache" json:"policyCache"`

	keyPrefix string
}

var _ config.Config = (*RateLimitConfig)(nil)
var _ config.KeyPrefixProvider = (*RateLimitConfig)(nil)

// NewRateLimitConfig creates a new RateLimitConfig.
func NewRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{keyPrefix: "rateLimit"}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *RateLimitConfig) KeyPrefix() string { return c.keyPrefix }

// SetProviderDefaults implements config.Config.
func (c *RateLimitConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRateLimitPolicyCacheMaxKeys, defaultPolicyCacheMaxKeys)
	dp.SetDefault(cfgKeyRateLimitPolicyCacheTTL, defaultPolicyCacheTTL)
}

// Set implements config.Config.
func (c *RateLimitConfig) Set(dp config.DataProvider) error {
	var err error
	if c.PolicyCache.MaxKeys, err = dp.GetInt(cfgKeyRateLimitPolicyCacheMaxKeys); err != nil {
		return err
	}
	ttl, err := dp.GetDuration(cfgKeyRateLimitPolicyCacheTTL)
	if err != nil {
		return err
	}
	c.PolicyCache.TTL = config.TimeDuration(ttl)
	return nil
}

const cfgKeyQueueDrainRatePerSec = "drainRatePerSec"

const defaultDrainRatePerSec = 50

// QueueConfig configures the queue coordinator.
type QueueConfig struct {
	// DrainRatePerSec is the fixed downstream drain rate used for ETA computation.
	DrainRatePerSec float64 `mapstructure:"drainRatePerSec" yaml:"drainRatePerSec" json:"drainRatePerSec"`

	keyPrefix string
}

var _ config.Config = (*QueueConfig)(nil)
var _ config.KeyPrefixProvider = (*QueueConfig)(nil)

// NewQueueConfig creates a new QueueConfig.
func NewQueueConfig() *QueueConfig {
	return &QueueConfig{keyPrefix: "queue"}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *QueueConfig) KeyPrefix() string { return c.keyPrefix }

// SetProviderDefaults implements config.Config.
func (c *QueueConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyQueueDrainRatePerSec, defaultDrainRatePerSec)
}

// Set implements config.Config.
func (c *QueueConfig) Set(dp config.DataProvider) error {
	var err error
	c.DrainRatePerSec, err = dp.GetFloat64(cfgKeyQueueDrainRatePerSec)
	return err
}

const (
	cfgKeySubmitTimeout                  = "timeout"
	cfgKeySubmitBreakerEnabled           = "circuitBreaker.enabled"
	cfgKeySubmitBreakerFailureThreshold  = "circuitBreaker.failureThreshold"
	cfgKeySubmitBreakerWindow            = "circuitBreaker.window"
	cfgKeySubmitBreakerCooldown          = "circuitBreaker.cooldown"
	defaultSubmitTimeout                 = 500 * time.Millisecond
	defaultSubmitBreakerFailureThreshold = 5
	defaultSubmitBreakerWindow           = 10 * time.Second
	defaultSubmitBreakerCooldown         = 30 * time.Second
)

// SubmitConfig configures the submission orchestrator.
type SubmitConfig struct {
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	CircuitBreaker struct {
		Enabled          bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
		FailureThreshold int                 `mapstructure:"failureThreshold" yaml:"failureThreshold" json:"failureThreshold"`
		Window           config.TimeDuration `mapstructure:"window" yaml:"window" json:"window"`
		Cooldown         config.TimeDuration `mapstructure:"cooldown" yaml:"cooldown" json:"cooldown"`
	} `mapstructure:"circuitBreaker" yaml:"circuitBreaker" json:"circuitBreaker"`

	keyPrefix string
}

var _ config.Config = (*SubmitConfig)(nil)
var _ config.KeyPrefixProvider = (*SubmitConfig)(nil)

// NewSubmitConfig creates a new SubmitConfig.
func NewSubmitConfig() *SubmitConfig {
	return &SubmitConfig{keyPrefix: "submit"}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *SubmitConfig) KeyPrefix() string { return c.keyPrefix }

// SetProviderDefaults implements config.Config.
func (c *SubmitConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeySubmitTimeout, defaultSubmitTimeout)
	dp.SetDefault(cfgKeySubmitBreakerEnabled, true)
	dp.SetDefault(cfgKeySubmitBreakerFailureThreshold, defaultSubmitBreakerFailureThreshold)
	dp.SetDefault(cfgKeySubmitBreakerWindow, defaultSubmitBreakerWindow)
	dp.SetDefault(cfgKeySubmitBreakerCooldown, defaultSubmitBreakerCooldown)
}

// Set implements config.Config.
func (c *SubmitConfig) Set(dp config.DataProvider) error {
	timeout, err := dp.GetDuration(cfgKeySubmitTimeout)
	if err != nil {
		return err
	}
	c.Timeout = config.TimeDuration(timeout)
	if c.CircuitBreaker.Enabled, err = dp.GetBool(cfgKeySubmitBreakerEnabled); err != nil {
		return err
	}
	if c.CircuitBreaker.FailureThreshold, err = dp.GetInt(cfgKeySubmitBreakerFailureThreshold); err != nil {
		return err
	}
	window, err := dp.GetDuration(cfgKeySubmitBreakerWindow)
	if err != nil {
		return err
	}
	c.CircuitBreaker.Window = config.TimeDuration(window)
	cooldown, err := dp.GetDuration(cfgKeySubmitBreakerCooldown)
	if err != nil {
		return err
	}
	c.CircuitBreaker.Cooldown = config.TimeDuration(cooldown)
	return nil
}
