/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appkitconfig "github.com/acronis/go-appkit/config"
)

func loadConfigFromYAML(t *testing.T, yaml string) *AppConfig {
	t.Helper()
	cfg := NewAppConfig()
	loader := appkitconfig.NewDefaultLoader(ServiceName)
	require.NoError(t, loader.LoadFromReader(strings.NewReader(yaml), appkitconfig.DataTypeYAML, cfg))
	return cfg
}

func TestAppConfigDefaults(t *testing.T) {
	cfg := loadConfigFromYAML(t, "")

	require.Equal(t, ":3000", cfg.Server.Address)
	require.Equal(t, "postgres://localhost:5432/txsubmit", cfg.Postgres.URL)
	require.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	require.Equal(t, 10000, cfg.RateLimit.PolicyCache.MaxKeys)
	require.Equal(t, time.Minute, time.Duration(cfg.RateLimit.PolicyCache.TTL))
	require.Equal(t, float64(50), cfg.Queue.DrainRatePerSec)
	require.Equal(t, 500*time.Millisecond, time.Duration(cfg.Submit.Timeout))
	require.True(t, cfg.Submit.CircuitBreaker.Enabled)
	require.Equal(t, 5, cfg.Submit.CircuitBreaker.FailureThreshold)
}

func TestAppConfigFromYAML(t *testing.T) {
	cfg := loadConfigFromYAML(t, `
server:
  address: ":8080"
postgres:
  url: postgres://db:5432/txsubmit
redis:
  url: redis://cache:6379
rateLimit:
  policyCache:
    maxKeys: 500
    ttl: 30s
queue:
  drainRatePerSec: 100
submit:
  timeout: 250ms
  circuitBreaker:
    enabled: false
`)

	require.Equal(t, ":8080", cfg.Server.Address)
	require.Equal(t, "postgres://db:5432/txsubmit", cfg.Postgres.URL)
	require.Equal(t, "redis://cache:6379", cfg.Redis.URL)
	require.Equal(t, 500, cfg.RateLimit.PolicyCache.MaxKeys)
	require.Equal(t, 30*time.Second, time.Duration(cfg.RateLimit.PolicyCache.TTL))
	require.Equal(t, float64(100), cfg.Queue.DrainRatePerSec)
	require.Equal(t, 250*time.Millisecond, time.Duration(cfg.Submit.Timeout))
	require.False(t, cfg.Submit.CircuitBreaker.Enabled)
}

func TestAppConfigWellKnownEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/txsubmit")
	t.Setenv("REDIS_URL", "redis://env-cache:6379")
	t.Setenv("PORT", "4000")

	cfg := loadConfigFromYAML(t, `
postgres:
  url: postgres://file-db:5432/txsubmit
`)

	require.Equal(t, "postgres://env-db:5432/txsubmit", cfg.Postgres.URL)
	require.Equal(t, "redis://env-cache:6379", cfg.Redis.URL)
	require.Equal(t, ":4000", cfg.Server.Address)
}
