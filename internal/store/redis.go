package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/supportsync/internal/logging"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a Backend on a shared redis instance. Several client instances of
// the same profile see each other's writes; the last writer wins.
type Redis struct {
	rdb *redis.Client
	log *logging.Logger
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions, log *logging.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", opts.Addr)
	}
	r := &Redis{rdb: rdb, log: log.Sub("store")}
	r.log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("redis connected")
	return r, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(r.rdb.Set(ctx, key, value, 0).Err(), "redis set %s", key)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.rdb.Del(ctx, key).Err(), "redis del %s", key)
}

// Append pushes to the tail and trims to the newest max entries in one
// transaction.
func (r *Redis) Append(ctx context.Context, key, value string, max int) error {
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, value)
	if max > 0 {
		pipe.LTrim(ctx, key, int64(-max), -1)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "redis append %s", key)
}

func (r *Redis) Replace(ctx context.Context, key string, values []string, max int) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		pipe.RPush(ctx, key, args...)
		if max > 0 {
			pipe.LTrim(ctx, key, int64(-max), -1)
		}
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "redis replace %s", key)
}

func (r *Redis) Range(ctx context.Context, key string) ([]string, error) {
	vals, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis lrange %s", key)
	}
	return vals, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
