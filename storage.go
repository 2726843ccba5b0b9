package gallows

import (
	"io"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStorage builds the configured backend. The returned closer releases
// its connections.
func OpenStorage(cfg StorageConfig) (CacheStorage, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStorage(), nopCloser{}, nil
	case "sqlite":
		s, err := NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedisStorage(client, cfg.RedisPrefix), client, nil
	}
	return nil, nil, errors.Wrapf(ErrInvalidConfig, "unknown storage driver %q", cfg.Driver)
}
