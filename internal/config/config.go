package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries the environment-driven settings for the kernel and the
// tracker CLI. Every field has a default so both binaries run with no
// environment at all.
type Config struct {
	// Kernel
	ListenAddr        string
	DBPath            string
	StepDelay         time.Duration
	MaxConcurrentJobs int64

	// Tracker CLI
	KernelURL string
}

func Load() *Config {
	cfg := &Config{
		ListenAddr:        envOr("TREND_LISTEN_ADDR", ":8080"),
		DBPath:            envOr("TREND_DB_PATH", "trend.db"),
		StepDelay:         500 * time.Millisecond,
		MaxConcurrentJobs: 10,
		KernelURL:         envOr("TREND_KERNEL_URL", "http://localhost:8080"),
	}

	if v := os.Getenv("TREND_STEP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.StepDelay = d
		}
	}
	if v := os.Getenv("TREND_MAX_JOBS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
