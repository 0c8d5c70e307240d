package hooks

import (
	"context"
	"time"
)

// Hook represents a handler that can be executed when an event occurs
type Hook interface {
	// Execute runs the hook with the given event
	Execute(ctx context.Context, event Event) error

	// Type returns the hook type identifier
	Type() string

	// ID returns a unique identifier for this hook instance
	ID() string
}

// Config represents the configuration for hooks
type Config struct {
	// Timeout bounds a single hook execution (default: 10s)
	Timeout time.Duration

	// Maximum number of concurrent hook executions (default: 10)
	Concurrency int

	// Structured stdio output: "json", "env", or "" (disabled)
	StdioFormat string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		Concurrency: 10,
	}
}
