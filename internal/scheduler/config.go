package scheduler

import (
	"os"
	"strings"
	"time"
)

// Job names, also the keys of the operational status/trigger surface.
const (
	JobSubscriptionBilling = "subscription_billing"
	JobKonbiniCleanup      = "konbini_cleanup"
	JobReminderDispatch    = "reminder_dispatch"
	JobFailedRetry         = "failed_retry"
	JobDailyReport         = "daily_report"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	LockTTL     time.Duration

	BillingInterval  time.Duration
	KonbiniInterval  time.Duration
	ReminderInterval time.Duration
	RetryInterval    time.Duration
	ReportInterval   time.Duration

	// EnabledJobs empty means every job runs (single-binary mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  5 * time.Minute,
		BatchSize:   100,
		LockTTL:     10 * time.Minute,

		BillingInterval:  24 * time.Hour,
		KonbiniInterval:  time.Hour,
		ReminderInterval: 24 * time.Hour,
		RetryInterval:    6 * time.Hour,
		ReportInterval:   24 * time.Hour,
	}
}

// ProvideConfig reads the job allow-list from the environment.
func ProvideConfig() Config {
	cfg := DefaultConfig()
	if jobs := strings.TrimSpace(os.Getenv("SCHEDULER_JOBS")); jobs != "" {
		for _, name := range strings.Split(jobs, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, name)
			}
		}
	}
	return cfg
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.BillingInterval <= 0 {
		c.BillingInterval = defaults.BillingInterval
	}
	if c.KonbiniInterval <= 0 {
		c.KonbiniInterval = defaults.KonbiniInterval
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = defaults.ReminderInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = defaults.ReportInterval
	}
	return c
}
