package endpoint

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the endpoint service's TOML-backed configuration. Three
// keys can be overridden from the environment:
// ENDPOINT__server__host, ENDPOINT__storage__objects_path and
// ENDPOINT__storage__graph_path. No other key has an environment
// override.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Limits  LimitsConfig  `toml:"limits"`
	Queue   QueueConfig   `toml:"queue"`
}

type ServerConfig struct {
	Host string `toml:"host" validate:"required"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

type StorageConfig struct {
	ObjectsPath string `toml:"objects_path" validate:"required"`
	GraphPath   string `toml:"graph_path" validate:"required"`
}

type LimitsConfig struct {
	MaxSubmitSize    int64         `toml:"max_submit_size" validate:"min=1"`
	MaxSearchResults int           `toml:"max_search_results" validate:"min=1"`
	MaxActionResults int           `toml:"max_action_results" validate:"min=1"`
	SearchTimeout    time.Duration `toml:"search_timeout"`
	ReprocessEnabled bool          `toml:"reprocess_enabled"`
	MaxRecursion     uint32        `toml:"max_recursion" validate:"min=1"`
	WorkTTL          time.Duration `toml:"work_ttl"`
}

type QueueConfig struct {
	PublishBuffer int `toml:"publish_buffer" validate:"min=1"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage: StorageConfig{
			ObjectsPath: "./data/objects",
			GraphPath:   "./data/graph.db",
		},
		Limits: LimitsConfig{
			MaxSubmitSize:    100 * 1024 * 1024,
			MaxSearchResults: 500,
			MaxActionResults: 200,
			SearchTimeout:    10 * time.Second,
			ReprocessEnabled: true,
			MaxRecursion:     24,
			WorkTTL:          time.Hour,
		},
		Queue: QueueConfig{PublishBuffer: 256},
	}
}

// LoadConfig reads path over the defaults (an empty path loads only
// defaults), applies the three environment overrides listed on
// Config, and rejects the result if any validator tag fails.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("endpoint: read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("endpoint: parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("endpoint: invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENDPOINT__server__host"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ENDPOINT__storage__objects_path"); v != "" {
		cfg.Storage.ObjectsPath = v
	}
	if v := os.Getenv("ENDPOINT__storage__graph_path"); v != "" {
		cfg.Storage.GraphPath = v
	}
}
