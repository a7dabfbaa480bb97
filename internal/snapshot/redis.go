package snapshot

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"snapdiff/internal/artifact"
	"snapdiff/internal/refkey"
)

// DefaultRedisPrefix namespaces reference keys in a shared Redis.
const DefaultRedisPrefix = "snapdiff"

// RedisConfig defines connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	DialTimeout time.Duration
}

// RedisStore keeps one hash per reference plus a sorted index scored by the
// write time in milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, storageErr("open", "", errors.New("redis address is required"))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storageErr("open", cfg.Addr, err)
	}

	return &RedisStore{client: client, prefix: cfg.Prefix, now: time.Now}, nil
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *RedisStore) entryKey(location string) string {
	return s.prefix + ":" + location
}

// Location returns the Redis key holding the reference.
func (s *RedisStore) Location(key refkey.Key) string {
	return s.entryKey(key.Location())
}

// Get reads the reference hash for key.
func (s *RedisStore) Get(ctx context.Context, key refkey.Key) (artifact.Artifact, error) {
	loc := s.Location(key)
	fields, err := s.client.HMGet(ctx, loc, "fingerprint", "kind", "data").Result()
	if err != nil {
		return artifact.Artifact{}, storageErr("read", loc, err)
	}
	kind, ok1 := fields[1].(string)
	data, ok2 := fields[2].(string)
	if !ok1 || !ok2 {
		return artifact.Artifact{}, ErrNotFound
	}
	fingerprint, _ := fields[0].(string)
	if err := checkOwner(loc, fingerprint, key); err != nil {
		return artifact.Artifact{}, err
	}
	return decode(loc, artifact.Kind(kind), []byte(data))
}

// Put replaces the reference hash and updates the index in one transaction.
// The hash is watched so a concurrent writer of another key cannot slip in
// between the ownership check and the write.
func (s *RedisStore) Put(ctx context.Context, key refkey.Key, a artifact.Artifact) error {
	rel := key.Location()
	loc := s.entryKey(rel)
	now := s.now()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := s.checkOwner(ctx, tx, loc, key); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, loc)
			pipe.HSet(ctx, loc, map[string]interface{}{
				"fingerprint": key.Fingerprint(),
				"kind":        string(a.Kind),
				"width":       a.Width,
				"height":      a.Height,
				"data":        a.Data,
				"checksum":    a.Checksum(),
				"updated_at":  now.UnixNano(),
			})
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: rel})
			return nil
		})
		return err
	}, loc)
	if err != nil {
		if errors.Is(err, ErrKeyConflict) {
			return err
		}
		return storageErr("write", loc, err)
	}
	return nil
}

func (s *RedisStore) checkOwner(ctx context.Context, tx *redis.Tx, loc string, key refkey.Key) error {
	stored, err := tx.HGet(ctx, loc, "fingerprint").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return checkOwner(loc, stored, key)
}

// Delete removes the reference hash and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key refkey.Key) error {
	rel := key.Location()
	loc := s.entryKey(rel)

	var del *redis.IntCmd
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := s.checkOwner(ctx, tx, loc, key); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, loc)
			pipe.ZRem(ctx, s.indexKey(), rel)
			return nil
		})
		return err
	}, loc)
	if err != nil {
		if errors.Is(err, ErrKeyConflict) {
			return err
		}
		return storageErr("delete", loc, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether a reference hash is stored for key.
func (s *RedisStore) Exists(ctx context.Context, key refkey.Key) (bool, error) {
	loc := s.Location(key)
	n, err := s.client.Exists(ctx, loc).Result()
	if err != nil {
		return false, storageErr("read", loc, err)
	}
	return n > 0, nil
}

// List returns every indexed reference, sorted by location.
func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, storageErr("list", s.indexKey(), err)
	}
	sort.Strings(members)

	summaries := []Summary{}
	for _, rel := range members {
		loc := s.entryKey(rel)
		fields, err := s.client.HMGet(ctx, loc, "kind", "width", "height", "checksum", "updated_at").Result()
		if err != nil {
			return nil, storageErr("list", loc, err)
		}
		kind, ok := fields[0].(string)
		if !ok {
			continue // Index entry without a hash
		}
		size, err := s.client.HStrLen(ctx, loc, "data").Result()
		if err != nil {
			return nil, storageErr("list", loc, err)
		}
		sum := Summary{
			Location: loc,
			Kind:     artifact.Kind(kind),
			Size:     size,
			Width:    atoi(fields[1]),
			Height:   atoi(fields[2]),
		}
		if c, ok := fields[3].(string); ok {
			sum.Checksum = c
		}
		if ts, ok := fields[4].(string); ok {
			if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
				sum.UpdatedAt = time.Unix(0, n).UTC()
			}
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// Prune removes references whose index score is older than the cutoff.
func (s *RedisStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	stale, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, storageErr("list", s.indexKey(), err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, len(stale))
	members := make([]interface{}, len(stale))
	for i, rel := range stale {
		keys[i] = s.entryKey(rel)
		members[i] = rel
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, storageErr("delete", s.indexKey(), err)
	}
	return int(del.Val()), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func atoi(v interface{}) int {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(str)
	return n
}
