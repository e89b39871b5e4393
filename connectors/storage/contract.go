// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
)

// Public API.

type (
	DB interface {
		redis.Cmdable
		io.Closer
		Ping(ctx context.Context) *redis.StatusCmd
	}
)

// Private API.

const (
	defaultPoolSize = 4
)

type (
	config struct {
		WintrStorage struct {
			Credentials struct {
				User     string `yaml:"user" mapstructure:"user"`
				Password string `yaml:"password" mapstructure:"password"`
			} `yaml:"credentials" mapstructure:"credentials"`
			URL      string `yaml:"url" mapstructure:"url"`
			PoolSize int    `yaml:"poolSize" mapstructure:"poolSize"`
		} `yaml:"wintr/connectors/storage" mapstructure:"wintr/connectors/storage"` //nolint:tagliatelle // Nope.
	}
)
