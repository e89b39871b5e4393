// SPDX-License-Identifier: ice License 1.0

package guest

import (
	"net/http"
	"testing"
	stdlibtime "time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpbe/wintr/analytics/fixture"
	"github.com/wpbe/wintr/analytics/session"
	"github.com/wpbe/wintr/analytics/tracking"
)

func newManager(tb testing.TB, cfg *Config) (*manager, session.Store, *fixture.Backend) {
	tb.Helper()
	backend := fixture.New(tb)
	store := session.NewStore(session.NewMemoryKV(), clockwork.NewFakeClockAt(stdlibtime.Date(2026, 10, 19, 10, 0, 0, 0, stdlibtime.UTC)))
	client := tracking.New(&tracking.Config{BaseURL: backend.URL()})

	return New(cfg, client, store).(*manager), store, backend //nolint:forcetypeassert // We know for sure.
}

func TestEnsureCreatesGuest(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	mgr.SetVisit(&Visit{UserAgent: "go-test", Referrer: "https://google.com", URL: "https://example.com/pricing?utm_source=ads&utm_campaign=fall"})
	assert.False(t, mgr.HasLocalSession(t.Context()))

	guestID := mgr.Ensure(t.Context())
	require.Equal(t, "guest-1", guestID)
	assert.True(t, mgr.HasLocalSession(t.Context()))

	local := store.Read(t.Context())
	assert.Equal(t, guestID, local.GuestID)
	assert.Equal(t, "2026-10-19", local.LastSeenDate)
	assert.True(t, backend.Valid(local.GuestID, local.SessionToken))
	assert.Equal(t, &tracking.Credentials{GuestID: guestID, SessionToken: local.SessionToken}, mgr.Trusted(t.Context()))

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, fixture.RouteCreateGuest, reqs[0].Route)
	assert.Equal(t, "go-test", reqs[0].Body["user_agent"])
	assert.Equal(t, "https://google.com", reqs[0].Body["referrer_url"])
	assert.Equal(t, "ads", reqs[0].Body["utm_source"])
	assert.Nil(t, reqs[0].Body["utm_medium"])
	assert.Equal(t, "fall", reqs[0].Body["utm_campaign"])
}

func TestEnsureOptedOut(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	guestID, token := backend.IssueSession()
	require.NoError(t, store.WriteSession(t.Context(), guestID, token))
	require.NoError(t, mgr.SetOptOut(t.Context(), true))
	assert.True(t, mgr.OptedOut(t.Context()))

	assert.Empty(t, mgr.Ensure(t.Context()))
	assert.Empty(t, mgr.Ensure(t.Context()))
	assert.Empty(t, backend.Requests())

	require.NoError(t, mgr.SetOptOut(t.Context(), false))
	assert.Equal(t, guestID, mgr.Ensure(t.Context()))
}

func TestEnsureValidatesStoredSession(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	guestID, token := backend.IssueSession()
	require.NoError(t, store.WriteSession(t.Context(), guestID, token))
	assert.Nil(t, mgr.Trusted(t.Context()))
	assert.NotNil(t, mgr.Credentials(t.Context()))

	assert.Equal(t, guestID, mgr.Ensure(t.Context()))
	assert.Len(t, backend.Requests(fixture.RouteTouchGuest), 1)
	assert.Empty(t, backend.Requests(fixture.RouteCreateGuest))
	assert.Equal(t, &tracking.Credentials{GuestID: guestID, SessionToken: token}, mgr.Trusted(t.Context()))
}

func TestEnsureReplacesRejectedSession(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	guestID, token := backend.IssueSession()
	require.NoError(t, store.WriteSession(t.Context(), guestID, token))
	backend.Revoke(guestID)

	newGuestID := mgr.Ensure(t.Context())
	require.NotEmpty(t, newGuestID)
	assert.NotEqual(t, guestID, newGuestID)
	local := store.Read(t.Context())
	assert.Equal(t, newGuestID, local.GuestID)
	assert.NotEqual(t, token, local.SessionToken)

	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, fixture.RouteTouchGuest, reqs[0].Route)
	assert.Equal(t, fixture.RouteCreateGuest, reqs[1].Route)
}

func TestEnsureFailsClosedWhenValidationFails(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	guestID, token := backend.IssueSession()
	require.NoError(t, store.WriteSession(t.Context(), guestID, token))
	backend.Fail(fixture.RouteTouchGuest, http.StatusBadGateway, 1)

	newGuestID := mgr.Ensure(t.Context())
	assert.NotEqual(t, guestID, newGuestID)
	assert.Len(t, backend.Requests(fixture.RouteCreateGuest), 1)
}

func TestEnsureKeepsSessionWhenValidationFailsIfConfigured(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, &Config{KeepSessionOnTouchFailure: true})
	guestID, token := backend.IssueSession()
	require.NoError(t, store.WriteSession(t.Context(), guestID, token))
	backend.Fail(fixture.RouteTouchGuest, http.StatusBadGateway, 1)

	assert.Equal(t, guestID, mgr.Ensure(t.Context()))
	assert.Empty(t, backend.Requests(fixture.RouteCreateGuest))
	assert.Nil(t, mgr.Trusted(t.Context()))

	backend.Revoke(guestID)
	assert.NotEqual(t, guestID, mgr.Ensure(t.Context()))
}

func TestEnsureCreationFailure(t *testing.T) {
	t.Parallel()
	mgr, _, backend := newManager(t, nil)
	backend.Fail(fixture.RouteCreateGuest, http.StatusServiceUnavailable, 1)

	assert.Empty(t, mgr.Ensure(t.Context()))
	assert.False(t, mgr.HasLocalSession(t.Context()))
	assert.NotEmpty(t, mgr.Ensure(t.Context()))
}

func TestRotate(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	require.NotEmpty(t, mgr.Ensure(t.Context()))
	require.NoError(t, mgr.SetOptOut(t.Context(), true))

	mgr.Rotate(t.Context())
	assert.False(t, mgr.HasLocalSession(t.Context()))
	assert.Nil(t, mgr.Credentials(t.Context()))
	assert.Nil(t, mgr.Trusted(t.Context()))
	assert.Equal(t, &session.Session{OptedOut: true}, store.Read(t.Context()))
	assert.Len(t, backend.Requests(), 1)
}

func TestConvertCreatesGuestFirst(t *testing.T) {
	t.Parallel()
	mgr, _, backend := newManager(t, nil)

	assert.True(t, mgr.Convert(t.Context(), "contact", map[string]any{"email": "jane@example.com"}))
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, fixture.RouteCreateGuest, reqs[0].Route)
	assert.Equal(t, fixture.RouteConvertGuest, reqs[1].Route)
	assert.Equal(t, "contact", reqs[1].Body["form_id"])
}

func TestConvertRetriesOnceOnAuthFailure(t *testing.T) {
	t.Parallel()
	mgr, store, backend := newManager(t, nil)
	guestID, token := backend.IssueSession()
	require.NoError(t, store.WriteSession(t.Context(), guestID, token))
	backend.Fail(fixture.RouteConvertGuest, http.StatusForbidden, 1)

	assert.True(t, mgr.Convert(t.Context(), "contact", nil))
	reqs := backend.Requests(fixture.RouteConvertGuest)
	require.Len(t, reqs, 2)
	assert.Equal(t, token, reqs[0].Token)
	assert.NotEqual(t, token, reqs[1].Token)
	assert.NotEqual(t, guestID, store.Read(t.Context()).GuestID)
}

func TestConvertGivesUpAfterSecondAuthFailure(t *testing.T) {
	t.Parallel()
	mgr, _, backend := newManager(t, nil)
	backend.Fail(fixture.RouteConvertGuest, http.StatusUnauthorized, 2)

	assert.False(t, mgr.Convert(t.Context(), "contact", nil))
	assert.Len(t, backend.Requests(fixture.RouteConvertGuest), 2)
	assert.Len(t, backend.Requests(fixture.RouteCreateGuest), 2)
}

func TestConvertOptedOut(t *testing.T) {
	t.Parallel()
	mgr, _, backend := newManager(t, nil)
	require.NoError(t, mgr.SetOptOut(t.Context(), true))

	assert.False(t, mgr.Convert(t.Context(), "contact", nil))
	assert.Empty(t, backend.Requests())
}

func TestVisitGuestContext(t *testing.T) {
	t.Parallel()
	medium := "email"
	assert.Equal(t, &tracking.GuestContext{UserAgent: "ua", UTMMedium: &medium}, (&Visit{UserAgent: "ua", URL: "/?utm_medium=email"}).GuestContext())
	assert.Equal(t, &tracking.GuestContext{ReferrerURL: "r"}, (&Visit{Referrer: "r", URL: "://bad"}).GuestContext())
	assert.Equal(t, new(tracking.GuestContext), new(Visit).GuestContext())
}
