package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/wordrush/wordrush/go/internal/game/monitor"
	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// Config is the server configuration, loaded from config.yaml with env
// overrides for the deployment-specific knobs.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`

	Sync struct {
		AckTimeoutMs            int   `yaml:"ack_timeout_ms"`
		RetryDelaysMs           []int `yaml:"retry_delays_ms"`
		DefaultCountdownSeconds int   `yaml:"default_countdown_seconds"`
	} `yaml:"sync"`

	Monitor struct {
		WindowSize             int     `yaml:"window_size"`
		LargeLobbySize         int     `yaml:"large_lobby_size"`
		LowAckRate             float64 `yaml:"low_ack_rate"`
		ChronicAbsences        int     `yaml:"chronic_absences"`
		SessionFailureWindowMs int     `yaml:"session_failure_window_ms"`
		SessionFailureCount    int     `yaml:"session_failure_count"`
		MinSamples             int     `yaml:"min_samples"`
		DegradedSuccessRate    float64 `yaml:"degraded_success_rate"`
		UnhealthySuccessRate   float64 `yaml:"unhealthy_success_rate"`
	} `yaml:"monitor"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.NATS.URL = nats.DefaultURL
	cfg.Sync.DefaultCountdownSeconds = 3
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// loadConfig reads the yaml config, falling back to defaults when the file
// does not exist, then applies env overrides.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Enabled = getEnvAsBool("NATS_ENABLED", cfg.NATS.Enabled)

	return cfg, nil
}

// syncConfig maps the yaml tuning onto the coordinator's config, leaving
// zero values to the package defaults.
func (c *Config) syncConfig() startsync.Config {
	cfg := startsync.DefaultConfig()
	if c.Sync.AckTimeoutMs > 0 {
		cfg.AckTimeout = time.Duration(c.Sync.AckTimeoutMs) * time.Millisecond
	}
	if len(c.Sync.RetryDelaysMs) > 0 {
		delays := make([]time.Duration, 0, len(c.Sync.RetryDelaysMs))
		for _, ms := range c.Sync.RetryDelaysMs {
			delays = append(delays, time.Duration(ms)*time.Millisecond)
		}
		cfg.RetryDelays = delays
	}
	return cfg
}

// monitorConfig maps the yaml thresholds onto the monitor's config.
func (c *Config) monitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	if c.Monitor.WindowSize > 0 {
		cfg.WindowSize = c.Monitor.WindowSize
	}
	if c.Monitor.LargeLobbySize > 0 {
		cfg.LargeLobbySize = c.Monitor.LargeLobbySize
	}
	if c.Monitor.LowAckRate > 0 {
		cfg.LowAckRate = c.Monitor.LowAckRate
	}
	if c.Monitor.ChronicAbsences > 0 {
		cfg.ChronicAbsences = c.Monitor.ChronicAbsences
	}
	if c.Monitor.SessionFailureWindowMs > 0 {
		cfg.SessionFailureWindow = time.Duration(c.Monitor.SessionFailureWindowMs) * time.Millisecond
	}
	if c.Monitor.SessionFailureCount > 0 {
		cfg.SessionFailureCount = c.Monitor.SessionFailureCount
	}
	if c.Monitor.MinSamples > 0 {
		cfg.MinSamples = c.Monitor.MinSamples
	}
	if c.Monitor.DegradedSuccessRate > 0 {
		cfg.DegradedSuccessRate = c.Monitor.DegradedSuccessRate
	}
	if c.Monitor.UnhealthySuccessRate > 0 {
		cfg.UnhealthySuccessRate = c.Monitor.UnhealthySuccessRate
	}
	return cfg
}

// defaultCountdown returns the countdown used when the start trigger does
// not specify one.
func (c *Config) defaultCountdown() int {
	if c.Sync.DefaultCountdownSeconds > 0 {
		return c.Sync.DefaultCountdownSeconds
	}
	return 3
}
