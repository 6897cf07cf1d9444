package redisstream

import (
	"fmt"
	"time"
)

// Config for the Redis Streams native.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Prefix namespaces every key the native touches.
	Prefix string
	// BatchSize is the XREAD COUNT; surplus entries are buffered locally.
	BatchSize int
	// MaxLenApprox trims the requests stream (0 = unbounded).
	MaxLenApprox int64
	// ExecuteTimeout bounds the BLPOP waiting for an Execute reply.
	ExecuteTimeout time.Duration
	// FromStart replays the updates stream from the beginning instead of
	// starting after its current tail.
	FromStart bool
}

// Defaults returns a Config suitable for a local Redis.
func Defaults() Config {
	return Config{
		Addr:           "127.0.0.1:6379",
		Prefix:         "xmux",
		BatchSize:      64,
		ExecuteTimeout: 5 * time.Second,
	}
}

// Validate checks Config before connecting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("config: prefix required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.ExecuteTimeout <= 0 {
		return fmt.Errorf("config: execute_timeout must be > 0, got %v", c.ExecuteTimeout)
	}
	return nil
}

func (c Config) requestsKey() string { return c.Prefix + suffixRequests }
func (c Config) updatesKey() string  { return c.Prefix + suffixUpdates }
func (c Config) executeKey() string  { return c.Prefix + suffixExecute }
func (c Config) clientsKey() string  { return c.Prefix + suffixClients }
func (c Config) replyKey(id string) string {
	return c.Prefix + suffixReply + id
}

// toMap converts Config to the generic map expected by the native factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"prefix":          c.Prefix,
		"batch_size":      c.BatchSize,
		"max_len_approx":  c.MaxLenApprox,
		"execute_timeout": c.ExecuteTimeout,
		"from_start":      c.FromStart,
	}
}

// ConfigFromMap safely converts a generic map to Config with defaults.
// Durations may be given as time.Duration or as strings ("5s").
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := toInt(m["db"]); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["prefix"].(string); ok && v != "" {
		c.Prefix = v
	}
	if v, ok := toInt(m["batch_size"]); ok && v > 0 {
		c.BatchSize = v
	}
	if v, ok := toInt(m["max_len_approx"]); ok && v > 0 {
		c.MaxLenApprox = int64(v)
	}
	if v, ok := toDuration(m["execute_timeout"]); ok && v > 0 {
		c.ExecuteTimeout = v
	}
	if v, ok := m["from_start"].(bool); ok {
		c.FromStart = v
	}
	return c
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	}
	return 0, false
}
