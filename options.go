package dlock

import "time"

// An Option configures a Manager.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a Manager config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithConfig replaces the whole Manager config, e.g. one produced by
// LoadConfig. Later options still apply on top of it.
func WithConfig(config Config) Option {
	return OptionFunc(func(c *Config) {
		*c = config
	})
}

// WithKeyPrefix sets the namespace prefix for lock keys in the store.
func WithKeyPrefix(prefix string) Option {
	return OptionFunc(func(c *Config) {
		c.KeyPrefix = prefix
	})
}

// WithDefaultTTL sets the lease duration used when an acquisition does not
// specify one.
func WithDefaultTTL(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.DefaultTTL = d
	})
}

// WithAutoRenew enables or disables background lease renewal for newly
// acquired locks.
func WithAutoRenew(enabled bool) Option {
	return OptionFunc(func(c *Config) {
		c.AutoRenew = enabled
	})
}

// WithRenewInterval sets the renewal tick period. Should be well under the
// lease TTL (TTL/3 is a good starting point).
func WithRenewInterval(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.RenewInterval = d
	})
}

// WithRetries sets the default total number of attempts for TryLockRetry.
func WithRetries(n int) Option {
	return OptionFunc(func(c *Config) {
		c.MaxRetries = n
	})
}

// WithRetryDelay sets the default fixed delay between TryLockRetry attempts.
func WithRetryDelay(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.RetryDelay = d
	})
}

// AcquireConfig holds per-acquisition settings derived from the Manager
// config.
type AcquireConfig struct {
	TTL        time.Duration
	Retries    int
	RetryDelay time.Duration
}

// An AcquireOption configures a single acquisition.
type AcquireOption interface {
	Apply(*AcquireConfig)
}

// AcquireOptionFunc is a function that configures an acquisition.
type AcquireOptionFunc func(*AcquireConfig)

// Apply calls f(config).
func (f AcquireOptionFunc) Apply(config *AcquireConfig) {
	f(config)
}

// WithTTL sets the lease duration for this acquisition. On a reentrant
// re-entry the remote lease is re-extended with this value, so the latest
// requested TTL wins even when it is shorter than the original one.
func WithTTL(d time.Duration) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		c.TTL = d
	})
}

// WithAcquireRetries overrides the number of TryLockRetry attempts for this
// acquisition.
func WithAcquireRetries(n int) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		c.Retries = n
	})
}

// WithAcquireRetryDelay overrides the delay between TryLockRetry attempts
// for this acquisition.
func WithAcquireRetryDelay(d time.Duration) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		c.RetryDelay = d
	})
}
