package tracker

import (
	"time"

	"github.com/ternarybob/progresswatch/internal/common"
)

// Config holds the timings of a consumer runtime.
type Config struct {
	PollInterval        time.Duration
	StartupGrace        time.Duration // not_found is tolerated this long after start
	LiveStaleThreshold  time.Duration // record age (or fetch outage) that ends observation
	CompletionGrace     time.Duration // final view stays visible this long
	RequestTimeout      time.Duration
	StoreStaleThreshold time.Duration // discovery deletes non-terminal records older than this
	DiscoveryWorkers    int
	Push                bool // use the subscriber stream when one is configured
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:        time.Second,
		StartupGrace:        60 * time.Second,
		LiveStaleThreshold:  time.Minute,
		CompletionGrace:     3 * time.Second,
		RequestTimeout:      10 * time.Second,
		StoreStaleThreshold: 5 * time.Minute,
		DiscoveryWorkers:    4,
	}
}

// NewConfig maps application config onto tracker timings.
func NewConfig(cfg *common.Config) Config {
	return Config{
		PollInterval:        cfg.Tracker.PollInterval.Duration,
		StartupGrace:        cfg.Tracker.StartupGrace.Duration,
		LiveStaleThreshold:  cfg.Tracker.LiveStaleThreshold.Duration,
		CompletionGrace:     cfg.Tracker.CompletionGrace.Duration,
		RequestTimeout:      cfg.Tracker.RequestTimeout.Duration,
		StoreStaleThreshold: cfg.Progress.StoreStaleThreshold.Duration,
		DiscoveryWorkers:    cfg.Tracker.DiscoveryWorkers,
	}
}
