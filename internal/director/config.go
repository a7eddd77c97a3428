package director

import "time"

// Config holds the director's tunables beyond the queue.Config its
// WorkerPool uses directly. ReloadPollInterval is the cross-process
// half of scenario hot-reload (the in-process half is the
// broker.Bus subscription wired in NewEvaluator).
type Config struct {
	ReloadPollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{ReloadPollInterval: 5 * time.Second}
}
