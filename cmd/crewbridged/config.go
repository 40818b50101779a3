package main

import (
	"os"
	"strconv"
	"time"
)

// DaemonConfig holds daemon-specific configuration
type DaemonConfig struct {
	ConfigPath  string        // Path to crewbridge config YAML, empty searches ./configs
	Poll        bool          // Run the poll loop next to the API
	RestartMin  time.Duration // First delay before restarting a failed service
	RestartMax  time.Duration // Upper bound of the restart delay
	StableAfter time.Duration // Uptime after which the delay resets
	StateFile   string        // File recording the last run
}

// LoadDaemonConfig loads configuration from environment variables
func LoadDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		ConfigPath:  getEnvOrDefault("DAEMON_CONFIG_PATH", ""),
		Poll:        getEnvBoolOrDefault("DAEMON_POLL", true),
		RestartMin:  getEnvDurationOrDefault("DAEMON_RESTART_MIN", time.Second),
		RestartMax:  getEnvDurationOrDefault("DAEMON_RESTART_MAX", time.Minute),
		StableAfter: getEnvDurationOrDefault("DAEMON_STABLE_AFTER", 5*time.Minute),
		StateFile:   getEnvOrDefault("DAEMON_STATE_FILE", "/app/data/.daemon-state"),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}
