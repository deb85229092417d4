package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval          time.Duration
	JobTimeout           time.Duration
	MaxRolloverBatchSize int
	MaxUpgradeBatchSize  int
	// EnabledJobs limits which jobs this instance runs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          time.Minute,
		JobTimeout:           30 * time.Second,
		MaxRolloverBatchSize: 25,
		MaxUpgradeBatchSize:  50,
	}
}

func ProvideConfig() Config {
	cfg := Config{
		RunInterval:          envDuration("SCHEDULER_RUN_INTERVAL"),
		JobTimeout:           envDuration("SCHEDULER_JOB_TIMEOUT"),
		MaxRolloverBatchSize: envInt("SCHEDULER_MAX_ROLLOVER_BATCH"),
		MaxUpgradeBatchSize:  envInt("SCHEDULER_MAX_UPGRADE_BATCH"),
	}
	if jobs := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); jobs != "" {
		for _, job := range strings.Split(jobs, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxRolloverBatchSize <= 0 {
		c.MaxRolloverBatchSize = defaults.MaxRolloverBatchSize
	}
	if c.MaxUpgradeBatchSize <= 0 {
		c.MaxUpgradeBatchSize = defaults.MaxUpgradeBatchSize
	}
	return c
}

func envDuration(key string) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
