package scheduler

import (
	"os"
	"strconv"
	"time"
)

// Config holds scheduler configuration
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool

	// StaleTaskRecoveryInterval is the interval for reclaiming pipeline
	// tasks whose worker stopped heartbeating
	StaleTaskRecoveryInterval time.Duration

	// StuckJobRequeueInterval is the interval for re-enqueuing pending
	// jobs that lost their initial pipeline task
	StuckJobRequeueInterval time.Duration

	// OrphanUploadSweepInterval is the interval for deleting upload
	// files that no job row references anymore
	OrphanUploadSweepInterval time.Duration

	// Cron schedule overrides (take precedence over intervals when set)
	// Cron format with seconds: "second minute hour day-of-month month day-of-week"
	// Examples: "0 */5 * * * *" (every 5 min), "0 0 2 * * *" (daily at 2am)
	StaleTaskRecoverySchedule string
	StuckJobRequeueSchedule   string
	OrphanUploadSweepSchedule string
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	return &Config{
		Enabled:                   getEnvBool("SCHEDULER_ENABLED", true),
		StaleTaskRecoveryInterval: getEnvDuration("STALE_TASK_RECOVERY_INTERVAL_MS", 30*time.Second),
		StuckJobRequeueInterval:   getEnvDuration("STUCK_JOB_REQUEUE_INTERVAL_MS", time.Minute),
		OrphanUploadSweepInterval: getEnvDuration("ORPHAN_UPLOAD_SWEEP_INTERVAL_MS", time.Hour),
		// Cron schedule overrides (empty string means use interval)
		StaleTaskRecoverySchedule: getEnvString("STALE_TASK_RECOVERY_SCHEDULE", ""),
		StuckJobRequeueSchedule:   getEnvString("STUCK_JOB_REQUEUE_SCHEDULE", ""),
		OrphanUploadSweepSchedule: getEnvString("ORPHAN_UPLOAD_SWEEP_SCHEDULE", ""),
	}
}

// getEnvBool returns a boolean from an environment variable
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration returns a duration from an environment variable (in milliseconds)
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

// getEnvString returns a string from an environment variable
func getEnvString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
