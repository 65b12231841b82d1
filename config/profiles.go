package config

import (
	"fmt"
	"time"
)

// Profiles lists the named configuration profiles.
func Profiles() []string {
	return []string{string(EnvDevelopment), string(EnvTesting), string(EnvStaging), string(EnvProduction)}
}

// LoadProfile returns the defaults tuned for a deployment environment.
// Environment variables are not applied.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Events.Dispatch = "sync"
		cfg.Events.Realtime = false
		cfg.Server.Address = "127.0.0.1:0"
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 300
		cfg.Security.RateLimit.BurstSize = 50
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Server.CORSOrigin = ""
		cfg.Server.ShutdownTimeout = 45 * time.Second
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Quests.MaxParallel = 8
	default:
		return nil, fmt.Errorf("unknown profile %q (want one of %v)", name, Profiles())
	}
	return cfg, nil
}
