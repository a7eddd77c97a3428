package frontend

import "time"

// Config configures one Manager instance (one configured object type).
type Config struct {
	ObjectType   string `toml:"object_type" validate:"required"`
	BackendAddr  string `toml:"backend_addr" validate:"required"`
	ObjectsPath  string `toml:"objects_path" validate:"required"`
	Concurrency  int    `toml:"concurrency" validate:"min=1"`
	MaxRetries   int    `toml:"max_retries" validate:"min=0"`
	BackendTimeout time.Duration `toml:"backend_timeout"`
	PollInterval time.Duration `toml:"poll_interval"`
}

func DefaultConfig(objectType, backendAddr, objectsPath string) Config {
	return Config{
		ObjectType:     objectType,
		BackendAddr:    backendAddr,
		ObjectsPath:    objectsPath,
		Concurrency:    3,
		MaxRetries:     3,
		BackendTimeout: 30 * time.Second,
		PollInterval:   time.Second,
	}
}
