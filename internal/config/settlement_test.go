package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateSettlementConfig(t *testing.T) {
	require.NoError(t, validateSettlementConfig(DefaultSettlementConfig()))

	cases := map[string]func(*SettlementConfig){
		"fallback_over_100": func(c *SettlementConfig) { c.FallbackCommissionPercent = 120 },
		"zero_interval":     func(c *SettlementConfig) { c.RunInterval = 0 },
		"zero_batch":        func(c *SettlementConfig) { c.BatchSize = 0 },
		"zero_concurrency":  func(c *SettlementConfig) { c.Concurrency = 0 },
		"zero_lock_ttl":     func(c *SettlementConfig) { c.LockTTL = 0 },
		"negative_retries":  func(c *SettlementConfig) { c.ClaimRetries = -1 },
		"zero_frequency":    func(c *SettlementConfig) { c.DefaultFrequencyDays = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultSettlementConfig()
			mutate(&cfg)
			require.Error(t, validateSettlementConfig(cfg))
		})
	}
}

func TestSettlementConfigHolderGet(t *testing.T) {
	var nilHolder *SettlementConfigHolder
	require.Equal(t, DefaultSettlementConfig(), nilHolder.Get())

	cfg := DefaultSettlementConfig()
	cfg.RunInterval = time.Hour
	holder := NewStaticSettlementConfigHolder(cfg)
	require.Equal(t, time.Hour, holder.Get().RunInterval)
}

func TestNewSettlementConfigHolderDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewSettlementConfigHolder()
	require.NoError(t, err)
	require.Equal(t, float64(20), holder.Get().FallbackCommissionPercent)
	require.Equal(t, 24*time.Hour, holder.Get().RunInterval)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_SERVICE", "settlement-test")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("METRICS_PUSH_INTERVAL", "30s")

	cfg := Load()
	require.Equal(t, "settlement-test", cfg.AppName)
	require.True(t, cfg.Redis.Enabled())
	require.Equal(t, 30*time.Second, cfg.MetricsPush.Interval)
}
