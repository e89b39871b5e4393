// SPDX-License-Identifier: ice License 1.0

package guest

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"github.com/wpbe/wintr/analytics/session"
	"github.com/wpbe/wintr/analytics/tracking"
	"github.com/wpbe/wintr/log"
)

func New(cfg *Config, client tracking.Client, store session.Store) Manager {
	if cfg == nil {
		cfg = new(Config)
	}

	return &manager{cfg: cfg, client: client, store: store, visit: new(Visit)}
}

func (m *manager) HasLocalSession(ctx context.Context) bool {
	return m.store.Read(ctx).GuestID != ""
}

func (m *manager) Ensure(ctx context.Context) string {
	m.ensureMx.Lock()
	defer m.ensureMx.Unlock()

	local := m.store.Read(ctx)
	if local.OptedOut {
		return ""
	}
	if local.GuestID != "" && local.SessionToken != "" {
		if guestID, valid := m.validate(ctx, &tracking.Credentials{GuestID: local.GuestID, SessionToken: local.SessionToken}); valid {
			return guestID
		}
	}

	return m.create(ctx)
}

func (m *manager) validate(ctx context.Context, creds *tracking.Credentials) (string, bool) {
	err := m.client.TouchGuest(ctx, creds)
	switch tracking.Classify(err) {
	case tracking.OutcomeSuccess:
		if wErr := m.store.WriteSession(ctx, creds.GuestID, creds.SessionToken); wErr != nil {
			log.Error(wErr)
		}
		m.Confirm(creds)

		return creds.GuestID, true
	case tracking.OutcomeUnauthorized:
		log.Info("guest session expired or invalid, creating a new one", "guestId", creds.GuestID)
	default:
		if m.cfg.KeepSessionOnTouchFailure {
			log.Warn("unable to validate guest session, keeping it", "guestId", creds.GuestID, "error", err.Error())

			return creds.GuestID, true
		}
		log.Warn("unable to validate guest session, creating a new one", "guestId", creds.GuestID, "error", err.Error())
	}
	m.Rotate(ctx)

	return "", false
}

func (m *manager) create(ctx context.Context) string {
	creds, err := m.client.CreateGuest(ctx, m.guestContext())
	if err != nil {
		log.Error(errors.Wrap(err, "failed to create guest session"))

		return ""
	}
	if err = m.store.WriteSession(ctx, creds.GuestID, creds.SessionToken); err != nil {
		log.Error(err)
	}
	m.Confirm(creds)

	return creds.GuestID
}

func (m *manager) Rotate(ctx context.Context) {
	m.mx.Lock()
	m.trusted = nil
	m.mx.Unlock()
	if err := m.store.ClearSession(ctx); err != nil {
		log.Error(err)
	}
}

func (m *manager) Convert(ctx context.Context, formID string, formData map[string]any) bool {
	if m.OptedOut(ctx) {
		return false
	}
	conversion := &tracking.Conversion{FormID: formID, FormData: formData}
	for attempt := 0; ; attempt++ {
		creds := m.Credentials(ctx)
		if creds == nil {
			if m.Ensure(ctx) == "" {
				return false
			}
			if creds = m.Credentials(ctx); creds == nil {
				return false
			}
		}
		err := m.client.ConvertGuest(ctx, creds, conversion)
		switch outcome := tracking.Classify(err); {
		case outcome == tracking.OutcomeSuccess:
			m.Confirm(creds)

			return true
		case outcome == tracking.OutcomeUnauthorized && attempt < maxAuthRetries:
			log.Warn("guest token rejected during conversion, rotating session", "guestId", creds.GuestID)
			m.Rotate(ctx)

			continue
		}
		log.Error(errors.Wrapf(err, "failed to convert guest %v", creds.GuestID))

		return false
	}
}

func (m *manager) Credentials(ctx context.Context) *tracking.Credentials {
	local := m.store.Read(ctx)
	if local.GuestID == "" || local.SessionToken == "" {
		return nil
	}

	return &tracking.Credentials{GuestID: local.GuestID, SessionToken: local.SessionToken}
}

func (m *manager) Trusted(ctx context.Context) *tracking.Credentials {
	creds := m.Credentials(ctx)
	if creds == nil {
		return nil
	}
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.trusted == nil || *m.trusted != *creds {
		return nil
	}

	return creds
}

func (m *manager) Confirm(creds *tracking.Credentials) {
	if creds == nil {
		return
	}
	trusted := *creds
	m.mx.Lock()
	m.trusted = &trusted
	m.mx.Unlock()
}

func (m *manager) OptedOut(ctx context.Context) bool {
	return m.store.Read(ctx).OptedOut
}

func (m *manager) SetOptOut(ctx context.Context, optedOut bool) error {
	return errors.Wrapf(m.store.SetOptOut(ctx, optedOut), "failed to set opt-out to %v", optedOut)
}

func (m *manager) SetVisit(visit *Visit) {
	if visit == nil {
		visit = new(Visit)
	}
	cpy := *visit
	m.mx.Lock()
	m.visit = &cpy
	m.mx.Unlock()
}

func (m *manager) guestContext() *tracking.GuestContext {
	m.mx.RLock()
	visit := *m.visit
	m.mx.RUnlock()

	return visit.GuestContext()
}

// GuestContext is the creation payload for v, with UTM parameters taken from its URL.
func (v *Visit) GuestContext() *tracking.GuestContext {
	guest := &tracking.GuestContext{UserAgent: v.UserAgent, ReferrerURL: v.Referrer}
	if v.URL == "" {
		return guest
	}
	parsed, err := url.Parse(v.URL)
	if err != nil {
		log.Warn("unable to parse visit url, skipping utm parameters", "url", v.URL, "error", err.Error())

		return guest
	}
	query := parsed.Query()
	guest.UTMSource = utmParam(query, utmSourceParam)
	guest.UTMMedium = utmParam(query, utmMediumParam)
	guest.UTMCampaign = utmParam(query, utmCampaignParam)

	return guest
}

func utmParam(query url.Values, key string) *string {
	if !query.Has(key) {
		return nil
	}
	val := query.Get(key)

	return &val
}
