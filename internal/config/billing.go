package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig groups the tunable billing policy values. It is loaded from
// billing.yml and hot-reloaded on file change.
type BillingConfig struct {
	Tax        TaxConfig        `mapstructure:"tax"`
	Reminders  ReminderConfig   `mapstructure:"reminders"`
	Konbini    KonbiniConfig    `mapstructure:"konbini"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Suspicious SuspiciousConfig `mapstructure:"suspicious"`
}

type TaxConfig struct {
	StandardRate int `mapstructure:"standardRate"` // basis points
	ReducedRate  int `mapstructure:"reducedRate"`
}

type ReminderConfig struct {
	UpcomingOffsetDays []int `mapstructure:"upcomingOffsetDays"`
	OverdueOffsetDays  int   `mapstructure:"overdueOffsetDays"`
	RenewalOffsetDays  int   `mapstructure:"renewalOffsetDays"`
	TrialEndOffsetDays int   `mapstructure:"trialEndOffsetDays"`
}

type KonbiniConfig struct {
	ExpiryDays int `mapstructure:"expiryDays"`
}

type RetryConfig struct {
	MaxBillingAttempts int `mapstructure:"maxBillingAttempts"`
	MaxFailedRetries   int `mapstructure:"maxFailedRetries"`
}

type SuspiciousConfig struct {
	RefundCountThreshold int   `mapstructure:"refundCountThreshold"`
	FailedCountThreshold int   `mapstructure:"failedCountThreshold"`
	MethodChurnThreshold int   `mapstructure:"methodChurnThreshold"`
	LargeAmountThreshold int64 `mapstructure:"largeAmountThreshold"`
	WindowDays           int   `mapstructure:"windowDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Tax: TaxConfig{
			StandardRate: 1000,
			ReducedRate:  800,
		},
		Reminders: ReminderConfig{
			UpcomingOffsetDays: []int{7, 3, 1},
			OverdueOffsetDays:  1,
			RenewalOffsetDays:  3,
			TrialEndOffsetDays: 2,
		},
		Konbini: KonbiniConfig{ExpiryDays: 7},
		Retry: RetryConfig{
			MaxBillingAttempts: 3,
			MaxFailedRetries:   3,
		},
		Suspicious: SuspiciousConfig{
			RefundCountThreshold: 3,
			FailedCountThreshold: 5,
			MethodChurnThreshold: 4,
			LargeAmountThreshold: 1_000_000,
			WindowDays:           7,
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/eikaiwagrow/config") // Volume-mounted config
	v.AddConfigPath("/etc/eikaiwagrow")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("EIKAIWAGROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.tax", defaults.Tax)
	v.SetDefault("billing.reminders", defaults.Reminders)
	v.SetDefault("billing.konbini", defaults.Konbini)
	v.SetDefault("billing.retry", defaults.Retry)
	v.SetDefault("billing.suspicious", defaults.Suspicious)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg. Used in tests
// and anywhere hot reload is not wanted.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.Tax.StandardRate <= 0 || cfg.Tax.StandardRate > 10000 {
		return errors.New("billing.tax.standardRate out of range")
	}
	if cfg.Tax.ReducedRate < 0 || cfg.Tax.ReducedRate > cfg.Tax.StandardRate {
		return errors.New("billing.tax.reducedRate out of range")
	}
	if len(cfg.Reminders.UpcomingOffsetDays) == 0 {
		return errors.New("billing.reminders.upcomingOffsetDays cannot be empty")
	}
	if cfg.Konbini.ExpiryDays <= 0 {
		return errors.New("billing.konbini.expiryDays must be positive")
	}
	if cfg.Retry.MaxBillingAttempts <= 0 {
		return errors.New("billing.retry.maxBillingAttempts must be positive")
	}
	return nil
}
