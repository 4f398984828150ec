// Package state persists the controller's documents: node checkpoints,
// metrics, events and configuration files.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// ErrNotFound is returned by Read for a missing document.
var ErrNotFound = errors.New("state: document not found")

// Store is a flat namespace of documents addressed by key.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	// List returns the keys matching a filepath.Match pattern, sorted.
	List(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Options holds the credentials of the remote backends.
type Options struct {
	Redis RedisOptions
	S3    S3Options
}

// Open selects a backend by the scheme of location:
//
//	./state                 directory
//	bolt:///var/lib/x.db    bbolt file
//	sqlite:///var/lib/x.db  SQLite database
//	redis://host:6379/0     Redis
//	s3://bucket/prefix      S3 bucket
func Open(ctx context.Context, location string, opts Options, logger *pterm.Logger) (Store, error) {
	if !strings.Contains(location, "://") {
		return NewDirStore(location)
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid state location %q: %w", location, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewDirStore(u.Host + u.Path)
	case "bolt", "bbolt":
		return NewBoltStore(u.Host+u.Path, logger)
	case "sqlite":
		return NewSQLiteStore(u.Host+u.Path, logger)
	case "redis", "rediss":
		ro := opts.Redis
		ro.Address = u.Host
		ro.TLS = u.Scheme == "rediss"
		if db := strings.Trim(u.Path, "/"); db != "" {
			n, err := strconv.Atoi(db)
			if err != nil {
				return nil, fmt.Errorf("invalid redis database %q: %w", db, err)
			}
			ro.Database = n
		}
		if u.User != nil {
			if pw, ok := u.User.Password(); ok {
				ro.Password = pw
			}
		}
		return NewRedisStore(ctx, ro, logger)
	case "s3":
		so := opts.S3
		so.Bucket = u.Host
		so.Prefix = strings.TrimPrefix(u.Path, "/")
		if so.Prefix != "" && !strings.HasSuffix(so.Prefix, "/") {
			so.Prefix += "/"
		}
		return NewS3Store(ctx, so, logger)
	default:
		return nil, fmt.Errorf("unsupported state location scheme %q", u.Scheme)
	}
}

// ValidKey reports whether key can be stored by every backend. Keys are
// single path elements.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.ContainsRune(key, 0)
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid state key %q", key)
	}
	return nil
}

// match filters keys by pattern. An invalid pattern matches nothing.
func match(pattern string, keys []string) []string {
	var out []string
	for _, k := range keys {
		if ok, _ := filepath.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
