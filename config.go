package xmux

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the runtime settings.
//
//	native:
//	  name: redisstream
//	  options:
//	    addr: localhost:6379
//	codec: json
//	call_timeout: 30s
type Config struct {
	Native          NativeConfig   `yaml:"native"`
	Codec           string         `yaml:"codec"`
	ReceiveTimeout  time.Duration  `yaml:"receive_timeout"`
	QueueSize       int            `yaml:"queue_size"`
	CallTimeout     time.Duration  `yaml:"call_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Observers       ObserverConfig `yaml:"observers"`
}

type NativeConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

type ObserverConfig struct {
	Workers    int `yaml:"workers"`
	BufferSize int `yaml:"buffer_size"`
}

// ParseConfig decodes YAML settings.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("xmux: parse config: %w", err)
	}
	if cfg.QueueSize < 0 {
		return Config{}, fmt.Errorf("xmux: parse config: negative queue_size %d", cfg.QueueSize)
	}
	return cfg, nil
}

// LoadConfig reads and decodes a YAML settings file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xmux: load config: %w", err)
	}
	return ParseConfig(data)
}
