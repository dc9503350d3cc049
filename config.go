package dlock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by New and ParseConfig for unset fields.
const (
	DefaultKeyPrefix     = "lock:"
	DefaultTTL           = 30 * time.Second
	DefaultRenewInterval = 10 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 100 * time.Millisecond
)

// Config holds the configuration for a Manager.
type Config struct {
	// KeyPrefix namespaces all lock keys in the shared store.
	KeyPrefix string

	// DefaultTTL is the lease duration used when an acquisition does not
	// specify one via WithTTL.
	DefaultTTL time.Duration

	// AutoRenew engages background lease renewal for newly acquired locks.
	AutoRenew bool

	// RenewInterval is the renewal tick period. It must be smaller than the
	// lease TTL; values of zero or >= TTL fall back to TTL/3.
	RenewInterval time.Duration

	// MaxRetries is the total number of attempts made by TryLockRetry.
	MaxRetries int

	// RetryDelay is the fixed delay between TryLockRetry attempts.
	RetryDelay time.Duration
}

func defaultConfig() Config {
	return Config{
		KeyPrefix:     DefaultKeyPrefix,
		DefaultTTL:    DefaultTTL,
		AutoRenew:     true,
		RenewInterval: DefaultRenewInterval,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
	}
}

// fileConfig is the YAML shape of Config. Durations are Go duration
// strings ("30s", "100ms"); absent fields keep their defaults.
type fileConfig struct {
	KeyPrefix     *string `yaml:"key_prefix"`
	DefaultTTL    string  `yaml:"default_ttl"`
	AutoRenew     *bool   `yaml:"auto_renew"`
	RenewInterval string  `yaml:"renew_interval"`
	MaxRetries    *int    `yaml:"max_retries"`
	RetryDelay    string  `yaml:"retry_delay"`
}

// ParseConfig parses a YAML document into a Config, applying defaults for
// absent fields.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("dlock: parse config: %w", err)
	}

	config := defaultConfig()
	if fc.KeyPrefix != nil {
		config.KeyPrefix = *fc.KeyPrefix
	}
	if fc.AutoRenew != nil {
		config.AutoRenew = *fc.AutoRenew
	}
	if fc.MaxRetries != nil {
		config.MaxRetries = *fc.MaxRetries
	}

	for _, f := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"default_ttl", fc.DefaultTTL, &config.DefaultTTL},
		{"renew_interval", fc.RenewInterval, &config.RenewInterval},
		{"retry_delay", fc.RetryDelay, &config.RetryDelay},
	} {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return Config{}, fmt.Errorf("dlock: parse config: %s: %w", f.name, err)
		}
		*f.dst = d
	}

	return config, nil
}

// LoadConfig reads a YAML file and parses it with ParseConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dlock: load config: %w", err)
	}
	return ParseConfig(data)
}
