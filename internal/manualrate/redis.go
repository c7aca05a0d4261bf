package manualrate

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/metrics"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

const keyPrefix = "manualrate:"

// Key is the Redis hash holding the manual rates for base.
func Key(base string) string { return keyPrefix + provider.NormalizeSymbol(base) }

// Redis is a Store backed by one hash per base currency.
type Redis struct {
	rdb        redis.Cmdable
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

type RedisOption func(*Redis)

// WithBackOff sets the retry policy for writes. Defaults to exponential
// backoff with three retries.
func WithBackOff(fn func() backoff.BackOff) RedisOption {
	return func(r *Redis) { r.newBackOff = fn }
}

func WithLogger(l *zap.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

func NewRedis(rdb redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb: rdb,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial parses a redis:// URL and checks the server answers.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Get returns every stored rate for base. Unparseable values are skipped.
func (r *Redis) Get(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	vals, err := r.rdb.HGetAll(ctx, Key(base)).Result()
	metrics.StoreOperations.WithLabelValues("get", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", Key(base), err)
	}
	out := make(map[string]decimal.Decimal, len(vals))
	for cur, raw := range vals {
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			r.logger.Warn("ignoring bad manual rate", zap.String("base", base), zap.String("currency", cur), zap.String("value", raw))
			continue
		}
		out[provider.NormalizeSymbol(cur)] = rate
	}
	return out, nil
}

// Set validates and stores one rate, retrying transient write errors.
func (r *Redis) Set(ctx context.Context, base, currency string, rate decimal.Decimal) error {
	base, currency, err := Validate(base, currency, rate)
	if err != nil {
		return err
	}
	op := func() error {
		return r.rdb.HSet(ctx, Key(base), currency, rate.String()).Err()
	}
	err = backoff.Retry(op, backoff.WithContext(r.newBackOff(), ctx))
	metrics.StoreOperations.WithLabelValues("set", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("hset %s: %w", Key(base), err)
	}
	return nil
}
