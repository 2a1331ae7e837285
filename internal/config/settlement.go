package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SettlementConfig is the settlement policy that can change without a restart.
type SettlementConfig struct {
	FallbackCommissionPercent float64       `mapstructure:"fallbackCommissionPercent"`
	RunInterval               time.Duration `mapstructure:"runInterval"`
	BatchSize                 int           `mapstructure:"batchSize"`
	JobTimeout                time.Duration `mapstructure:"jobTimeout"`
	Concurrency               int           `mapstructure:"concurrency"`
	LockTTL                   time.Duration `mapstructure:"lockTTL"`
	ClaimRetries              int           `mapstructure:"claimRetries"`
	DefaultFrequencyDays      int           `mapstructure:"defaultFrequencyDays"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		FallbackCommissionPercent: 20,
		RunInterval:               24 * time.Hour,
		BatchSize:                 100,
		JobTimeout:                10 * time.Minute,
		Concurrency:               4,
		LockTTL:                   2 * time.Minute,
		ClaimRetries:              1,
		DefaultFrequencyDays:      7,
	}
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

// NewStaticSettlementConfigHolder returns a holder that never reloads.
func NewStaticSettlementConfigHolder(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSettlementConfigHolder() (*SettlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/settlement/config")
	v.AddConfigPath("/etc/settlement")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettlementConfig()
	v.SetDefault("settlement.fallbackCommissionPercent", defaults.FallbackCommissionPercent)
	v.SetDefault("settlement.runInterval", defaults.RunInterval)
	v.SetDefault("settlement.batchSize", defaults.BatchSize)
	v.SetDefault("settlement.jobTimeout", defaults.JobTimeout)
	v.SetDefault("settlement.concurrency", defaults.Concurrency)
	v.SetDefault("settlement.lockTTL", defaults.LockTTL)
	v.SetDefault("settlement.claimRetries", defaults.ClaimRetries)
	v.SetDefault("settlement.defaultFrequencyDays", defaults.DefaultFrequencyDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg SettlementConfig
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := validateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticSettlementConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SettlementConfig
		if err := v.UnmarshalKey("settlement", &updated); err != nil {
			log.Printf("[settlement-config] reload failed: %v", err)
			return
		}
		if err := validateSettlementConfig(updated); err != nil {
			log.Printf("[settlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[settlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	if h == nil {
		return DefaultSettlementConfig()
	}
	cfg, ok := h.current.Load().(SettlementConfig)
	if !ok {
		return DefaultSettlementConfig()
	}
	return cfg
}

func validateSettlementConfig(cfg SettlementConfig) error {
	if cfg.FallbackCommissionPercent < 0 || cfg.FallbackCommissionPercent > 100 {
		return errors.New("settlement.fallbackCommissionPercent must be between 0 and 100")
	}
	if cfg.RunInterval <= 0 {
		return errors.New("settlement.runInterval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("settlement.batchSize must be positive")
	}
	if cfg.Concurrency <= 0 {
		return errors.New("settlement.concurrency must be positive")
	}
	if cfg.LockTTL <= 0 {
		return errors.New("settlement.lockTTL must be positive")
	}
	if cfg.ClaimRetries < 0 {
		return errors.New("settlement.claimRetries cannot be negative")
	}
	if cfg.DefaultFrequencyDays <= 0 {
		return errors.New("settlement.defaultFrequencyDays must be positive")
	}
	return nil
}
