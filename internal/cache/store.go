package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cirkle/backend/pkg/logger"
)

// Version tags every key with the current cache schema generation. Bumping
// it makes every previously written entry unreachable without a scan.
const Version = "v2"

const (
	compressionThreshold = 1024
	// compression must save at least 10% to be worth the CPU on read.
	compressionMinRatio = 0.9

	// WarnDeleteThreshold flags pattern deletions broad enough to suggest a
	// key-design problem.
	WarnDeleteThreshold = 1000

	scanPageSize    = 100
	deleteChunkSize = 100

	lockRetries    = 3
	lockRetryDelay = 100 * time.Millisecond
)

// flag prefixes distinguishing compressed from plain payloads on read.
var (
	flagPlain      = []byte("0:")
	flagCompressed = []byte("1:")
)

// Store wraps the redis client with versioned keys, transparent compression
// and defensive degradation: after the bootstrap ping, no operation ever
// surfaces a cache failure — reads degrade to misses, writes to no-ops.
type Store struct {
	rdb     *redis.Client
	metrics MetricsSink
	// scanLimiter bounds SCAN pressure during pattern deletions so a broad
	// invalidation cannot monopolize the store.
	scanLimiter *rate.Limiter
}

// NewStore builds a Store. A nil metrics sink disables counting.
func NewStore(rdb *redis.Client, metrics MetricsSink) *Store {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Store{
		rdb:         rdb,
		metrics:     metrics,
		scanLimiter: rate.NewLimiter(rate.Limit(200), scanPageSize),
	}
}

// Ping verifies connectivity. This is the one loud failure path: callers
// invoke it once at bootstrap and must treat an error as fatal.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func versionedKey(key string) string { return Version + ":" + key }

// encode serializes v and compresses the payload when that pays off. The
// stored bytes always begin with a flag prefix.
func (s *Store) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) >= compressionThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err == nil && zw.Close() == nil {
			if float64(buf.Len()) < float64(len(raw))*compressionMinRatio {
				s.metrics.CompressionSaved(int64(len(raw) - buf.Len()))
				return append(append(make([]byte, 0, buf.Len()+2), flagCompressed...), buf.Bytes()...), nil
			}
		}
	}
	return append(append(make([]byte, 0, len(raw)+2), flagPlain...), raw...), nil
}

// decode strips the flag prefix and decompresses when needed.
func decode(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, flagCompressed):
		zr, err := gzip.NewReader(bytes.NewReader(data[len(flagCompressed):]))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case bytes.HasPrefix(data, flagPlain):
		return data[len(flagPlain):], nil
	default:
		// Entry written before flag prefixes existed.
		return data, nil
	}
}

// Set stores v under key with the given TTL. Returns false (and logs) on
// any failure.
func (s *Store) Set(ctx context.Context, key string, v any, ttl time.Duration) bool {
	payload, err := s.encode(v)
	if err != nil {
		s.metrics.Error()
		logger.Warn("cache set: encode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.rdb.Set(ctx, versionedKey(key), payload, ttl).Err(); err != nil {
		s.metrics.Error()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Get unmarshals the entry at key into dst. A miss, a decode failure or a
// store error all report false; the caller recomputes.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, versionedKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.metrics.Error()
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		s.metrics.Miss()
		return false
	}
	raw, err := decode(data)
	if err != nil {
		s.metrics.Error()
		logger.Warn("cache get: corrupt payload", zap.String("key", key), zap.Error(err))
		s.metrics.Miss()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.metrics.Error()
		logger.Warn("cache get: unmarshal failed", zap.String("key", key), zap.Error(err))
		s.metrics.Miss()
		return false
	}
	s.metrics.Hit()
	return true
}

// Exists reports whether key is present. Errors degrade to false.
func (s *Store) Exists(ctx context.Context, key string) bool {
	n, err := s.rdb.Exists(ctx, versionedKey(key)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MGet fetches many keys at once. The result holds the decoded payload per
// key, nil for misses and undecodable entries.
func (s *Store) MGet(ctx context.Context, keys []string) [][]byte {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}
	vkeys := make([]string, len(keys))
	for i, k := range keys {
		vkeys[i] = versionedKey(k)
	}
	vals, err := s.rdb.MGet(ctx, vkeys...).Result()
	if err != nil {
		s.metrics.Error()
		logger.Warn("cache mget failed", zap.Int("keys", len(keys)), zap.Error(err))
		return out
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		raw, err := decode([]byte(str))
		if err != nil {
			continue
		}
		out[i] = raw
	}
	return out
}

// MSet writes every entry in the mapping with one pipeline round-trip.
func (s *Store) MSet(ctx context.Context, mapping map[string]any, ttl time.Duration) bool {
	if len(mapping) == 0 {
		return true
	}
	pipe := s.rdb.Pipeline()
	for k, v := range mapping {
		payload, err := s.encode(v)
		if err != nil {
			s.metrics.Error()
			logger.Warn("cache mset: encode failed", zap.String("key", k), zap.Error(err))
			continue
		}
		pipe.Set(ctx, versionedKey(k), payload, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.metrics.Error()
		logger.Warn("cache mset failed", zap.Error(err))
		return false
	}
	return true
}

// Delete removes the given keys, chunked to keep single commands bounded.
// Returns the number of keys actually removed.
func (s *Store) Delete(ctx context.Context, keys ...string) int {
	if len(keys) == 0 {
		return 0
	}
	vkeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			vkeys = append(vkeys, versionedKey(k))
		}
	}
	deleted := 0
	for start := 0; start < len(vkeys); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(vkeys) {
			end = len(vkeys)
		}
		n, err := s.rdb.Del(ctx, vkeys[start:end]...).Result()
		if err != nil {
			s.metrics.Error()
			logger.Warn("cache delete failed", zap.Error(err))
			continue
		}
		deleted += int(n)
	}
	return deleted
}

// DeletePattern removes every key matching the glob via an incremental SCAN
// so large matches never block the store. Deletions past
// WarnDeleteThreshold log a warning: that usually means the invalidation is
// broader than it needs to be.
func (s *Store) DeletePattern(ctx context.Context, pattern string) int {
	match := versionedKey(pattern)
	var cursor uint64
	deleted := 0
	for {
		if err := s.scanLimiter.Wait(ctx); err != nil {
			break
		}
		keys, next, err := s.rdb.Scan(ctx, cursor, match, scanPageSize).Result()
		if err != nil {
			s.metrics.Error()
			logger.Warn("cache scan failed", zap.String("pattern", pattern), zap.Error(err))
			break
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				s.metrics.Error()
				logger.Warn("cache pattern delete failed", zap.String("pattern", pattern), zap.Error(err))
			} else {
				deleted += int(n)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if deleted > WarnDeleteThreshold {
		logger.Warn("pattern deletion removed many keys, consider narrowing the key design",
			zap.String("pattern", pattern), zap.Int("deleted", deleted))
	}
	return deleted
}

// AcquireLock takes a short-lived distributed lock via SET NX EX. A false
// return is not an error condition: callers fall back to direct
// computation. Transient write errors are retried with backoff because lock
// writes matter for stampede correctness.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	lockKey := versionedKey("lock:" + key)
	delay := lockRetryDelay
	for attempt := 0; attempt < lockRetries; attempt++ {
		ok, err := s.rdb.SetNX(ctx, lockKey, "1", ttl).Result()
		if err == nil {
			return ok
		}
		s.metrics.Error()
		if attempt == lockRetries-1 {
			logger.Warn("lock acquire failed", zap.String("key", key), zap.Error(err))
			return false
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		delay *= 2
	}
	return false
}

// ReleaseLock drops the lock. Best-effort: the TTL bounds a failed release.
func (s *Store) ReleaseLock(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, versionedKey("lock:"+key)).Err(); err != nil {
		logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
	}
}
