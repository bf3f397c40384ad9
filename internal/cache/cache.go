package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shelver/internal/config"
	"shelver/internal/logging"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key/value cache with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// New builds the configured backend. An unreachable Redis server is an error;
// the caller decides whether to fall back to memory.
func New(ctx context.Context, cfg config.Cache, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "cache")
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		logger.Debug("enrichment cache ready", logging.String("backend", BackendMemory), logging.Duration("ttl", ttl))
		return NewMemory(ttl), nil
	case BackendRedis:
		store, err := NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Debug("enrichment cache ready", logging.String("backend", BackendRedis), logging.Duration("ttl", ttl))
		return store, nil
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
func (Nop) Close() error                                             { return nil }
