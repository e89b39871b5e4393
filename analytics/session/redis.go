// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wpbe/wintr/connectors/storage"
)

// NewRedisKV keeps the values of one scope in a single redis hash. Closing it closes db.
func NewRedisKV(db storage.DB, scope string) KV {
	return &redisKV{db: db, key: redisKeyPrefix + scopeHash(scope)}
}

func (r *redisKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	vals, err := r.db.HMGet(ctx, r.key, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to HMGET %v", r.key)
	}
	values := make(map[string]string, len(keys))
	for ix, val := range vals {
		if str, ok := val.(string); ok {
			values[keys[ix]] = str
		}
	}

	return values, nil
}

func (r *redisKV) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	args := make([]any, 0, len(values)*(1+1))
	for key, val := range values {
		args = append(args, key, val)
	}

	return errors.Wrapf(r.db.HSet(ctx, r.key, args...).Err(), "failed to HSET %v", r.key)
}

func (r *redisKV) Delete(ctx context.Context, keys ...string) error {
	return errors.Wrapf(r.db.HDel(ctx, r.key, keys...).Err(), "failed to HDEL %v", r.key)
}

func (r *redisKV) Close() error {
	return errors.Wrap(r.db.Close(), "failed to close storage")
}
