// Package config loads the daemon configuration from the relays JSON file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Port               string
	RedisURL           string // Empty keeps the relay set in memory
	CommandQueueSize   int
	EventBufferSize    int
	AllowPrivateRelays bool
	Relays             *RelaysConfig
}

// Load reads RELAYS_CONFIG (default config/relays.json) and the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CommandQueueSize:   getEnvInt("COMMAND_QUEUE_SIZE", 256),
		EventBufferSize:    getEnvInt("EVENT_BUFFER_SIZE", 1024),
		AllowPrivateRelays: getEnvBool("ALLOW_PRIVATE_RELAYS", false),
		Relays:             LoadRelaysConfig(getEnvOrDefault("RELAYS_CONFIG", "config/relays.json")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects non-positive limits and an unnamed relay set.
func (c *Config) Validate() error {
	var errs []error
	if c.CommandQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("COMMAND_QUEUE_SIZE must be positive, got %d", c.CommandQueueSize))
	}
	if c.EventBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER_SIZE must be positive, got %d", c.EventBufferSize))
	}
	if c.Relays == nil {
		errs = append(errs, errors.New("relays config missing"))
		return errors.Join(errs...)
	}
	if c.Relays.MaxSubscriptions <= 0 {
		errs = append(errs, fmt.Errorf("maxSubscriptions must be positive, got %d", c.Relays.MaxSubscriptions))
	}
	if c.Relays.MaxKeepAliveSubscriptions <= 0 {
		errs = append(errs, fmt.Errorf("maxKeepAliveSubscriptions must be positive, got %d", c.Relays.MaxKeepAliveSubscriptions))
	}
	if c.Relays.MonitorIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("monitorIntervalSeconds must not be negative, got %d", c.Relays.MonitorIntervalSeconds))
	}
	if c.Relays.RelaySet.ID == "" {
		errs = append(errs, errors.New("relaySet.id must not be empty"))
	}
	return errors.Join(errs...)
}

// MonitorInterval returns the status monitor period.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Relays.MonitorIntervalSeconds) * time.Second
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return b
}
