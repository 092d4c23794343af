package healthchecker

import "time"

// Option modifies a Checker's Config
type Option func(*Config)

// WithInterval sets the health check interval
func WithInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.Interval = interval
	}
}

// WithTimeout sets the health check timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}
