package checkpoint

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

const (
	redisPrefix  = "logsieve:offsets:"
	redisTTL     = 7 * 24 * time.Hour
	redisTimeout = 5 * time.Second
)

// RedisStore keeps offsets in Redis, one key per followed file. Useful
// when the tailing host has no stable local disk.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the server named by a redis:// URL and
// verifies the connection with a ping.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"parsing checkpoint URL %s", url)
	}
	opts.ReadTimeout = redisTimeout
	opts.WriteTimeout = redisTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"connecting to %s", opts.Addr)
	}

	return &RedisStore{client: client}, nil
}

// key returns the Redis key for a file path.
func key(file string) string {
	return redisPrefix + sanitizeKey(file)
}

// sanitizeKey removes characters that may cause issues in Redis keys.
func sanitizeKey(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, file string) (Offset, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, key(file)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Offset{}, false, nil
		}
		return Offset{}, false, lserrors.Wrapf(err, lserrors.SeverityFatal,
			lserrors.CodeCheckpoint, "loading checkpoint for %s", file)
	}

	var off Offset
	if err := json.Unmarshal(data, &off); err != nil {
		return Offset{}, false, lserrors.Wrapf(err, lserrors.SeverityFatal,
			lserrors.CodeCheckpoint, "decoding checkpoint for %s", file)
	}
	return off, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, file string, off Offset) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	data, err := json.Marshal(off)
	if err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"encoding checkpoint")
	}
	if err := s.client.Set(ctx, key(file), data, redisTTL).Err(); err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"saving checkpoint for %s", file)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, file string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := s.client.Del(ctx, key(file)).Err(); err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"deleting checkpoint for %s", file)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
