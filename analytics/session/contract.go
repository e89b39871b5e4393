// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/wpbe/wintr/connectors/storage"
	"github.com/wpbe/wintr/time"
)

// Public API.

const (
	KeyGuestID      = "wpbe_guest_id"
	KeySessionToken = "wpbe_guest_token"
	KeyLastSeenDate = "wpbe_guest_date"
	KeyOptOut       = "wpbe_opt_out"

	TypeMemory = "memory"
	TypeFile   = "file"
	TypeRedis  = "redis"
)

type (
	// Session is the locally persisted guest identity. Empty fields mean the key is absent.
	Session struct {
		GuestID      string `json:"guestId,omitempty"`
		SessionToken string `json:"sessionToken,omitempty"`
		LastSeenDate string `json:"lastSeenDate,omitempty"`
		OptedOut     bool   `json:"optedOut,omitempty"`
	}
	// Store persists the guest session across process restarts, scoped to one origin.
	Store interface {
		io.Closer

		// Read never fails; unreadable keys are reported as absent.
		Read(ctx context.Context) *Session
		// WriteSession stores the pair and stamps the last-seen date with today.
		WriteSession(ctx context.Context, guestID, sessionToken string) error
		// ClearSession removes the guest id, token and last-seen date, keeping the opt-out flag.
		ClearSession(ctx context.Context) error
		SetOptOut(ctx context.Context, optedOut bool) error
	}
	// KV is the origin-scoped key-value primitive a Store is built on.
	KV interface {
		io.Closer

		Get(ctx context.Context, keys ...string) (map[string]string, error)
		Set(ctx context.Context, values map[string]string) error
		Delete(ctx context.Context, keys ...string) error
	}
	Config struct {
		Type  string `yaml:"type" mapstructure:"type"`
		Dir   string `yaml:"dir" mapstructure:"dir"`
		Scope string `yaml:"scope" mapstructure:"scope"`
	}
)

// Private API.

const (
	redisKeyPrefix = "wpbe:guest:"
	fileExtension  = ".session"
	fileMode       = 0o600
	dirMode        = 0o700
	optOutValue    = "true"
)

type (
	store struct {
		kv    KV
		clock clockwork.Clock
	}
	memoryKV struct {
		values map[string]string
		mx     *sync.Mutex
	}
	fileKV struct {
		mx   *sync.Mutex
		path string
	}
	fileState struct {
		Values    map[string]string `msgpack:"values"`
		UpdatedAt *time.Time        `msgpack:"updatedAt,omitempty"`
	}
	redisKV struct {
		db  storage.DB
		key string
	}
)
