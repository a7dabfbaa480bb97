package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultSQLiteFile is used when the sqlite backend has no explicit path.
const DefaultSQLiteFile = ".snapdiff/snapshots.db"

// Config selects and configures a backend.
type Config struct {
	Backend string // fs (default), sqlite, redis
	Dir     string // Snapshot root for fs, and base for a relative sqlite path
	Path    string // SQLite database file
	Redis   RedisConfig

	Exclude []string // Directories the fs backend does not list
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		s := NewFSStore(cfg.Dir)
		s.Exclude = cfg.Exclude
		return s, nil
	case BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultSQLiteFile
		}
		if path != ":memory:" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Dir, path)
		}
		return OpenSQLite(ctx, path)
	case BackendRedis:
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q (want %s, %s or %s)",
			cfg.Backend, BackendFS, BackendSQLite, BackendRedis)
	}
}
