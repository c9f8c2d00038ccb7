package config

import (
	"fmt"
	"time"
)

// Derived values. Timeouts are stored as integer seconds in the file; every
// consumer wants a time.Duration.

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Ollama.RequestTimeoutSeconds) * time.Second
}

func (c *Config) StreamIdleTimeout() time.Duration {
	return time.Duration(c.Ollama.StreamIdleTimeoutSeconds) * time.Second
}

func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}
