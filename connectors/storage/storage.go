// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	stdlibtime "time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	appCfg "github.com/wpbe/wintr/config"
	"github.com/wpbe/wintr/log"
)

// MustConnect builds a redis client out of `wintr/connectors/storage` under applicationYAMLKey and pings it.
func MustConnect(ctx context.Context, applicationYAMLKey string) DB {
	var cfg config
	appCfg.MustLoadFromKey(applicationYAMLKey, &cfg)
	if cfg.WintrStorage.URL == "" {
		cfg.WintrStorage.URL = appCfg.Env(applicationYAMLKey, "STORAGE_URL")
	}
	if cfg.WintrStorage.URL == "" {
		log.Panic(errors.Errorf("[%v] storage url is required", applicationYAMLKey))
	}
	opts, err := redis.ParseURL(cfg.WintrStorage.URL)
	log.Panic(errors.Wrapf(err, "[%v] invalid storage url", applicationYAMLKey)) //nolint:revive // That's intended.
	if opts.Username == "" {
		opts.Username = cfg.WintrStorage.Credentials.User
	}
	if opts.Password == "" {
		opts.Password = cfg.WintrStorage.Credentials.Password
	}
	opts.ClientName = applicationYAMLKey
	opts.PoolSize = cfg.WintrStorage.PoolSize
	if opts.PoolSize == 0 {
		opts.PoolSize = defaultPoolSize
	}
	db := New(opts)
	log.Panic(errors.Wrapf(Ping(ctx, db), "[%v] storage is unreachable", applicationYAMLKey))

	return db
}

// New tunes timeouts and retries the way every storage client here is tuned, then builds the client.
//
//nolint:mnd,gomnd // Static config.
func New(opts *redis.Options) DB {
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 10 * stdlibtime.Millisecond
	opts.MaxRetryBackoff = 250 * stdlibtime.Millisecond
	opts.DialTimeout = 5 * stdlibtime.Second
	opts.ReadTimeout = 5 * stdlibtime.Second
	opts.WriteTimeout = 5 * stdlibtime.Second
	opts.ContextTimeoutEnabled = true

	return redis.NewClient(opts)
}

func Ping(ctx context.Context, db DB) error {
	result, err := db.Ping(ctx).Result()
	if err != nil {
		return errors.Wrap(err, "ping failed")
	}
	if result != "PONG" {
		return errors.Errorf("unexpected ping response: %v", result)
	}

	return nil
}
