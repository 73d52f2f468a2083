// Package store persists CrawlState between runs. Every backend saves the
// whole state atomically: a crash mid-save leaves the previous state loadable.
package store

//go:generate mockgen -destination=../../mocks/store_mocks.go -package=mocks relentless-tracks/internal/store StateStore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relentless-tracks/internal/models"
)

// ErrUnsupportedBackend is returned by Open for db paths it cannot map to a backend.
var ErrUnsupportedBackend = errors.New("unsupported state store backend")

// DefaultRedisPrefix namespaces crawl state keys in Redis.
const DefaultRedisPrefix = "relentless:state:"

// StateStore loads, saves and clears one crawl's state.
type StateStore interface {
	Load(ctx context.Context) (models.CrawlState, bool, error)
	Save(ctx context.Context, state models.CrawlState) error
	Clear(ctx context.Context) error
	Close() error
}

// Options tunes backends that need more than a path.
type Options struct {
	RedisPrefix string
	RedisTTL    time.Duration
}

// Open picks a backend from dbPath:
//
//	redis://host:port/db  RedisStore
//	*.json                FileStore
//	sqlite://path, path   SQLiteStore
func Open(ctx context.Context, dbPath, crawlID string, opts Options) (StateStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: empty db path", ErrUnsupportedBackend)
	}
	if crawlID == "" {
		return nil, errors.New("crawl id is required")
	}
	switch {
	case strings.HasPrefix(dbPath, "redis://"), strings.HasPrefix(dbPath, "rediss://"):
		prefix := opts.RedisPrefix
		if prefix == "" {
			prefix = DefaultRedisPrefix
		}
		return NewRedisStoreFromURL(ctx, dbPath, prefix, crawlID, opts.RedisTTL)
	case strings.HasPrefix(dbPath, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dbPath, "sqlite://"), crawlID)
	case strings.Contains(dbPath, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, dbPath)
	case strings.HasSuffix(dbPath, ".json"):
		return NewFileStore(dbPath), nil
	default:
		return NewSQLiteStore(ctx, dbPath, crawlID)
	}
}

func normalizeLoaded(state *models.CrawlState, crawlID string) {
	if state.CrawlID == "" {
		state.CrawlID = crawlID
	}
	if state.Downloads == nil {
		state.Downloads = make(map[string]models.DownloadRecord)
	}
	if state.Status == "" {
		state.Status = models.CrawlIdle
	}
}
