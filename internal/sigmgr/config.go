package sigmgr

import "time"

// Config is sigmgr's TOML-backed configuration. cmd/sigmgr reads the
// file named by its -config flag over DefaultConfig; no environment
// overrides are applied.
type Config struct {
	NDBPath      string        `toml:"ndb_path" validate:"required"`
	SigCachePath string        `toml:"sigcache_path" validate:"required"`
	ClamdAddr    string        `toml:"clamd_addr" validate:"required"`
	ClamdTimeout time.Duration `toml:"clamd_timeout"`
	PollSchedule string        `toml:"poll_schedule" validate:"required"`
	JitterMax    time.Duration `toml:"jitter_max"`
}

func DefaultConfig() *Config {
	return &Config{
		NDBPath:      "./data/scenarios.ndb",
		SigCachePath: "./data/sigcache",
		ClamdAddr:    "127.0.0.1:3310",
		ClamdTimeout: 5 * time.Second,
		PollSchedule: "@every 1m",
		JitterMax:    10 * time.Second,
	}
}
