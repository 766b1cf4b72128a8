// Package blobstore persists rendered dossier artifacts as opaque blobs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidID      = errors.New("blobstore: invalid id")
	ErrUnknownBackend = errors.New("blobstore: unknown backend")
)

// Store is the artifact persistence contract. Retrieve returns (nil, nil) for an
// id that was never stored and Delete is a no-op for absent ids.
type Store interface {
	Store(ctx context.Context, id string, data []byte) (locator string, err error)
	Retrieve(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateID rejects ids that could escape a directory or key namespace.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	Backend   string // "fs" or "redis"
	Dir       string
	RedisAddr string
	RedisDB   int
	Password  string
	KeyPrefix string
	TTL       time.Duration
}

// Open returns the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "fs", "filesystem", "local":
		fs, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.Password,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisStore(client, cfg.KeyPrefix, cfg.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
