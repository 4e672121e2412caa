// Package storage opens the correlation backend named in the configuration.
//
// # Backends
//
//   - memory: a process-local store, suitable for a single instance
//   - mongodb: records in one collection with a TTL index on creation time
//   - redis: records as expiring keys indexed by a sorted set
//
// Every backend implements [correlation.Store] and is safe for concurrent
// use from multiple goroutines.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/metriport/ihe-gateway/internal/storage/mongodb"
	"github.com/metriport/ihe-gateway/internal/storage/redis"
	"github.com/metriport/ihe-gateway/pkg/correlation"
)

// Backend names
const (
	BackendMemory  = "memory"
	BackendMongoDB = "mongodb"
	BackendRedis   = "redis"
)

// Config selects and configures the correlation backend
type Config struct {
	Backend   string
	Retention time.Duration
	MongoDB   mongodb.Config
	Redis     redis.Config
}

// Open connects to the configured backend
func Open(ctx context.Context, cfg Config) (correlation.Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return correlation.NewMemoryStore(cfg.Retention), nil
	case BackendMongoDB:
		mc := cfg.MongoDB
		mc.Retention = cfg.Retention
		s, err := mongodb.NewStore(ctx, &mc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		rc := cfg.Redis
		rc.Retention = cfg.Retention
		s, err := redis.NewStore(ctx, &rc)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown correlation backend %q", cfg.Backend)
	}
}
