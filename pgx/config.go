package pgx

// Config holds the configuration for the PostgreSQL lease store.
type Config struct {
	// TableName is the lease table. It must be a trusted identifier; it is
	// interpolated into queries.
	TableName string
}

// An Option configures a Store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a store config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithTableName sets the lease table name.
func WithTableName(name string) Option {
	return OptionFunc(func(c *Config) {
		c.TableName = name
	})
}
