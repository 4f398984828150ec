package state

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the documents in a shared Redis.
const DefaultRedisPrefix = "logrelay:state:"

type RedisOptions struct {
	Address  string
	Password string
	Database int
	Prefix   string
	Timeout  time.Duration
	TLS      bool
}

// RedisStore keeps one string value per document.
type RedisStore struct {
	opts   RedisOptions
	client *redis.Client
}

func NewRedisStore(ctx context.Context, opts RedisOptions, logger *pterm.Logger) (*RedisStore, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	ro := &redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.Database,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	if opts.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis state store initialized", logger.Args("address", opts.Address, "db", opts.Database, "prefix", opts.Prefix))
	return &RedisStore{opts: opts, client: client}, nil
}

func (s *RedisStore) key(k string) string {
	return s.opts.Prefix + k
}

func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.opts.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from Redis: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s to Redis: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, s.opts.Prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.opts.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	keys = match(pattern, keys)
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
