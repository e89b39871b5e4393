// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/wpbe/wintr/connectors/storage"
	"github.com/wpbe/wintr/log"
	"github.com/wpbe/wintr/time"
)

// New builds the store selected by cfg.Type. The redis backend needs a db; the others ignore it.
func New(cfg *Config, db storage.DB, clock clockwork.Clock) (Store, error) {
	var kv KV
	switch cfg.Type {
	case "", TypeMemory:
		kv = NewMemoryKV()
	case TypeFile:
		fkv, err := NewFileKV(cfg.Dir, cfg.Scope)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open file session store in %v", cfg.Dir)
		}
		kv = fkv
	case TypeRedis:
		if db == nil {
			return nil, errors.New("redis session store requires a storage connection")
		}
		kv = NewRedisKV(db, cfg.Scope)
	default:
		return nil, errors.Errorf("unsupported session store type %q", cfg.Type)
	}

	return NewStore(kv, clock), nil
}

func NewStore(kv KV, clock clockwork.Clock) Store {
	return &store{kv: kv, clock: clock}
}

func (s *store) Read(ctx context.Context) *Session {
	values, err := s.kv.Get(ctx, KeyGuestID, KeySessionToken, KeyLastSeenDate, KeyOptOut)
	if err != nil {
		log.Error(errors.Wrap(err, "failed to read guest session, treating it as absent"))

		return new(Session)
	}

	return &Session{
		GuestID:      values[KeyGuestID],
		SessionToken: values[KeySessionToken],
		LastSeenDate: values[KeyLastSeenDate],
		OptedOut:     values[KeyOptOut] == optOutValue,
	}
}

func (s *store) WriteSession(ctx context.Context, guestID, sessionToken string) error {
	return errors.Wrapf(s.kv.Set(ctx, map[string]string{
		KeyGuestID:      guestID,
		KeySessionToken: sessionToken,
		KeyLastSeenDate: time.New(s.clock.Now()).Date(),
	}), "failed to write guest session for %v", guestID)
}

func (s *store) ClearSession(ctx context.Context) error {
	return errors.Wrap(s.kv.Delete(ctx, KeyGuestID, KeySessionToken, KeyLastSeenDate), "failed to clear guest session")
}

func (s *store) SetOptOut(ctx context.Context, optedOut bool) error {
	if !optedOut {
		return errors.Wrap(s.kv.Delete(ctx, KeyOptOut), "failed to clear opt-out flag")
	}

	return errors.Wrap(s.kv.Set(ctx, map[string]string{KeyOptOut: optOutValue}), "failed to set opt-out flag")
}

func (s *store) Close() error {
	return errors.Wrap(s.kv.Close(), "failed to close session store")
}

func scopeHash(scope string) string {
	return strconv.FormatUint(xxh3.HashString(scope), 16)
}
