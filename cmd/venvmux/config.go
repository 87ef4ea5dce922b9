package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// config is the CLI's flag surface, each field backed by both a flag
// and an env-var fallback resolved once at bind time (spec.md §6).
type config struct {
	logFile       string
	maxBackend    int
	ttlSeconds    int
	backendKn     string
	metricsA      string
	warmupSeconds int
}

func bindFlags(cmd *cobra.Command) *config {
	cfg := &config{}

	cmd.Flags().StringVar(&cfg.logFile, "log-file", getEnvString("VENVMUX_LOG_FILE", ""), "log destination; stderr if empty")
	cmd.Flags().IntVar(&cfg.maxBackend, "max-backends", getEnvInt("VENVMUX_MAX_BACKENDS", 8), "maximum number of concurrently pooled backend processes")
	cmd.Flags().IntVar(&cfg.ttlSeconds, "backend-ttl-seconds", getEnvInt("VENVMUX_BACKEND_TTL_SECONDS", 1800), "idle backend eviction TTL in seconds; 0 disables TTL eviction")
	cmd.Flags().StringVar(&cfg.backendKn, "backend-kind", getEnvString("VENVMUX_BACKEND_KIND", "pyright"), "backend language server: pyright, ty, or pyrefly")
	cmd.Flags().StringVar(&cfg.metricsA, "metrics-addr", getEnvString("VENVMUX_METRICS_ADDR", ""), "optional /metrics listen address; disabled if empty")
	cmd.Flags().IntVar(&cfg.warmupSeconds, "warmup-timeout-seconds", getEnvInt("VENVMUX_WARMUP_TIMEOUT_SECONDS", 5), "seconds a freshly spawned backend defers index-dependent requests; 0 disables warmup queueing")

	return cfg
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
