package tissconfig

import "context"

// Repository persists the single configuration row.
type Repository interface {
	// Get returns the stored configuration, or nil when none was saved yet.
	Get(ctx context.Context) (*Config, error)
	Save(ctx context.Context, c *Config) error
}
