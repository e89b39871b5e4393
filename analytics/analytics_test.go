// SPDX-License-Identifier: ice License 1.0

package analytics

import (
	"net/http"
	"net/url"
	"testing"
	stdlibtime "time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpbe/wintr/analytics/delivery"
	"github.com/wpbe/wintr/analytics/fixture"
	"github.com/wpbe/wintr/analytics/forms"
	"github.com/wpbe/wintr/analytics/guest"
	"github.com/wpbe/wintr/analytics/session"
	"github.com/wpbe/wintr/analytics/tracking"
)

const (
	testApplicationYAMLKey = "self"
	eventually             = 5 * stdlibtime.Second
	tick                   = 10 * stdlibtime.Millisecond
)

func newTestTracker(tb testing.TB, mutate ...func(*Config)) (*tracker, *fixture.Backend) {
	tb.Helper()
	backend := fixture.New(tb)
	cfg := defaultConfig().Analytics
	cfg.BaseURL = backend.URL()
	cfg.PhoneRegion = "US"
	for _, fn := range mutate {
		fn(&cfg)
	}
	clock := clockwork.NewFakeClockAt(stdlibtime.Date(2026, 10, 19, 9, 0, 0, 0, stdlibtime.UTC))
	trk := newTracker(&cfg, session.NewStore(session.NewMemoryKV(), clock), clock)
	tb.Cleanup(func() { require.NoError(tb, trk.Close()) })

	return trk, backend
}

func queued(trk *tracker) []*tracking.Event {
	events := trk.queue.DrainAll()
	trk.queue.RequeueFront(events)

	return events
}

func TestPageLoadTracksKnownGuestsOnly(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	visit := &guest.Visit{URL: "https://example.com/pricing?utm_source=ads", Title: "Pricing", UserAgent: "go-test"}

	trk.PageLoad(t.Context(), visit)
	assert.Empty(t, queued(trk))
	assert.Empty(t, backend.Requests())

	require.NotEmpty(t, trk.Guests().Ensure(t.Context()))
	assert.Equal(t, "ads", backend.Requests(fixture.RouteCreateGuest)[0].Body["utm_source"])
	trk.PageLoad(t.Context(), visit)
	events := queued(trk)
	require.Len(t, events, 1)
	assert.Equal(t, tracking.EventTypePageView, events[0].EventType)
	assert.Equal(t, "/pricing", events[0].PagePath)
	assert.Equal(t, map[string]any{"page_title": "Pricing"}, events[0].EventData)
	assert.Equal(t, "2026-10-19", events[0].Timestamp.Date())
}

func TestEngagementCreatesGuestBeforeTracking(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	trk.PageLoad(t.Context(), &guest.Visit{URL: "https://example.com/"})

	trk.TrackCTAClick(t.Context(), "hero")
	trk.TrackFormProgress(t.Context(), "contact", 2, map[string]any{"email": "jane@example.com"})

	assert.Len(t, backend.Requests(fixture.RouteCreateGuest), 1)
	trk.Flush(t.Context())
	batches := backend.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Events, 2)
	assert.Equal(t, "cta_click", batches[0].Events[0].EventType)
	assert.Equal(t, map[string]any{"cta_id": "hero"}, batches[0].Events[0].EventData)
	assert.Equal(t, "/", batches[0].Events[0].PagePath)
	assert.Equal(t, "form_progress", batches[0].Events[1].EventType)
	assert.InDelta(t, 2, batches[0].Events[1].EventData["step"], 0)
	assert.Equal(t, "2026-10-19T09:00:00Z", batches[0].Events[1].Timestamp)
}

func TestQueuedEventsKeepTheirData(t *testing.T) {
	t.Parallel()
	trk, _ := newTestTracker(t)
	fields := map[string]any{"email": "a@b.co"}
	formData := map[string]any{"topics": []any{"seo"}}

	trk.TrackFormProgress(t.Context(), "contact", 1, fields)
	trk.TrackFormSubmit(t.Context(), "contact", formData, false)
	fields["email"] = "changed@b.co"
	formData["topics"].([]any)[0] = "ads" //nolint:forcetypeassert // We know for sure.

	events := queued(trk)
	require.Len(t, events, 2)
	assert.Equal(t, map[string]any{"email": "a@b.co"}, events[0].EventData["field_data"])
	assert.Equal(t, map[string]any{"topics": []any{"seo"}}, events[1].EventData["form_data"])
}

func TestFormStartFiresOncePerPage(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	trk.PageLoad(t.Context(), &guest.Visit{URL: "https://example.com/contact"})

	trk.TrackFormStart(t.Context(), "contact")
	trk.TrackFormStart(t.Context(), "contact")
	trk.TrackFormStart(t.Context(), "newsletter")
	require.Len(t, queued(trk), 2)

	trk.PageLoad(t.Context(), &guest.Visit{URL: "https://example.com/contact"})
	trk.TrackFormStart(t.Context(), "contact")
	types := make([]string, 0)
	for _, ev := range queued(trk) {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{"form_start", "form_start", "page_view", "form_start"}, types)
	assert.Len(t, backend.Requests(fixture.RouteCreateGuest), 1)
}

func TestTrackFormSubmit(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	trk.delivery.Start(t.Context())

	assert.True(t, trk.TrackFormSubmit(t.Context(), "quote", map[string]any{"email": "jane@example.com"}, true))
	convert := backend.Requests(fixture.RouteConvertGuest)
	require.Len(t, convert, 1)
	assert.Equal(t, "quote", convert[0].Body["form_id"])

	assert.True(t, trk.TrackFormSubmit(t.Context(), "newsletter", map[string]any{"email": "jane@example.com"}, false))
	require.Eventually(t, func() bool { return len(backend.Batches()) == 1 }, eventually, tick)
	assert.Equal(t, []string{"form_submit"}, backend.EventTypes())
	assert.Equal(t, "newsletter", backend.Events()[0].EventData["form_id"])
}

func TestOptOut(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	trk.TrackCTAClick(t.Context(), "hero")
	require.Len(t, queued(trk), 1)

	require.NoError(t, trk.OptOut(t.Context(), true))
	assert.Empty(t, queued(trk))
	trk.TrackCTAClick(t.Context(), "footer")
	trk.TrackFormStart(t.Context(), "contact")
	assert.False(t, trk.TrackFormSubmit(t.Context(), "contact", nil, true))
	trk.Flush(t.Context())
	assert.Empty(t, queued(trk))
	assert.Len(t, backend.Requests(), 1)

	require.NoError(t, trk.OptOut(t.Context(), false))
	trk.TrackCTAClick(t.Context(), "hero")
	assert.Len(t, queued(trk), 1)
}

func TestSubmitForm(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)

	resp, err := trk.SubmitForm(t.Context(), &forms.Submission{FormType: forms.FormTypeContactForm, SenderEmail: " jane@example.com ", SenderPhone: "201-555-0123"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])

	submissions := backend.Requests(fixture.RouteSubmitForm)
	require.Len(t, submissions, 1)
	local := trk.Guests().Credentials(t.Context())
	require.NotNil(t, local)
	assert.Equal(t, local.SessionToken, submissions[0].Token)
	assert.Equal(t, "jane@example.com", submissions[0].Body["sender_email"])
	assert.Equal(t, "+12015550123", submissions[0].Body["sender_phone"])
	events := queued(trk)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"form_type": "contact_form", "form_id": "contact_form", "submission_success": true}, events[0].EventData)
}

func TestSubmitFormFailure(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	backend.Respond(fixture.RouteSubmitForm, &fixture.Response{Status: http.StatusUnprocessableEntity, Body: map[string]any{"message": "Spam detected."}})

	_, err := trk.SubmitForm(t.Context(), &forms.Submission{FormType: forms.FormTypeQuickMessage, SenderEmail: "jane@example.com"})
	require.ErrorIs(t, err, tracking.ErrUnexpectedStatus)
	assert.Equal(t, "Spam detected.", tracking.Message(err))
	events := queued(trk)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].EventData["submission_success"])
	assert.Equal(t, "Spam detected.", events[0].EventData["error"])

	_, err = trk.SubmitForm(t.Context(), &forms.Submission{FormType: forms.FormTypeQuickMessage, SenderEmail: "nope"})
	require.ErrorIs(t, err, forms.ErrInvalidEmail)
	assert.Len(t, backend.Requests(fixture.RouteSubmitForm), 1)
}

func TestSubmitFormWhenOptedOut(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)
	require.NoError(t, trk.OptOut(t.Context(), true))

	_, err := trk.SubmitFormValues(t.Context(), forms.FormTypeNewsletter, url.Values{"email": {"jane@example.com"}, "list": {"weekly"}})
	require.NoError(t, err)
	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, fixture.RouteSubmitForm, reqs[0].Route)
	assert.Empty(t, reqs[0].Token)
	assert.Equal(t, map[string]any{"list": "weekly"}, reqs[0].Body["form_data"])
	assert.Empty(t, queued(trk))
}

func TestUnconfiguredEndpointDisablesTracking(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t, func(cfg *Config) { cfg.PlaceholderHosts = []string{"127.0.0.1"} })
	backend.Fail(fixture.RouteBatch, http.StatusNotFound, 1)
	trk.TrackCTAClick(t.Context(), "hero")

	trk.Unload(t.Context())
	assert.Equal(t, delivery.StateDisabled, trk.Stats().State)
	assert.Zero(t, trk.Stats().Queued)
	requests := len(backend.Requests())

	trk.TrackCTAClick(t.Context(), "hero")
	trk.TrackFormSubmit(t.Context(), "contact", nil, false)
	assert.Zero(t, trk.Stats().Queued)
	trk.Flush(t.Context())
	assert.Len(t, backend.Requests(fixture.RouteBatch), 1)
	assert.Len(t, backend.Requests(), requests+1)
}

func TestSubmitLead(t *testing.T) {
	t.Parallel()
	trk, backend := newTestTracker(t)

	resp, err := trk.SubmitLead(t.Context(), map[string]any{"email": " jane@example.com ", "source": "footer"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	leads := backend.Requests(fixture.RouteSubmitLead)
	require.Len(t, leads, 1)
	assert.Equal(t, map[string]any{"email": "jane@example.com", "source": "footer"}, leads[0].Body)
	assert.Len(t, backend.Requests(), 1)
	assert.Empty(t, queued(trk))

	_, err = trk.SubmitLead(t.Context(), map[string]any{"email": "nope"})
	require.ErrorIs(t, err, forms.ErrInvalidEmail)
	backend.Respond(fixture.RouteSubmitLead, &fixture.Response{Status: http.StatusConflict, Body: map[string]any{"message": "Already subscribed."}})
	_, err = trk.SubmitLead(t.Context(), map[string]any{"email": "jane@example.com"})
	require.ErrorIs(t, err, tracking.ErrUnexpectedStatus)
	assert.Equal(t, "Already subscribed.", tracking.Message(err))
	assert.Len(t, backend.Requests(fixture.RouteSubmitLead), 2)
}

func TestNew(t *testing.T) { //nolint:paralleltest // Env is process wide.
	backend := fixture.New(t)
	t.Setenv("SELF_ANALYTICS_BASE_URL", backend.URL())
	t.Setenv("TMPDIR", t.TempDir())

	trk := New(t.Context(), testApplicationYAMLKey).(*tracker) //nolint:forcetypeassert // We know for sure.
	assert.Equal(t, backend.URL(), trk.cfg.BaseURL)
	assert.Equal(t, 2*stdlibtime.Second, trk.cfg.RequestTimeout)
	assert.Equal(t, 5*stdlibtime.Minute, trk.cfg.CircuitCooldownMax)
	assert.InDelta(t, 1, trk.cfg.CircuitCooldownMultiplier, 0)
	assert.Equal(t, 500, trk.cfg.MaxQueuedEvents)
	assert.Equal(t, session.TypeFile, trk.cfg.Store.Type)

	trk.TrackCTAClick(t.Context(), "hero")
	require.NoError(t, trk.Close())
	assert.Equal(t, []string{"cta_click"}, backend.EventTypes())
}

func TestNewWithRedisStore(t *testing.T) { //nolint:paralleltest // Env is process wide.
	mr := miniredis.RunT(t)
	backend := fixture.New(t)
	t.Setenv("REDIS_TRACKER_STORAGE_URL", "redis://"+mr.Addr())
	t.Setenv("ANALYTICS_BASE_URL", backend.URL())

	trk := New(t.Context(), "redis-tracker").(*tracker) //nolint:forcetypeassert // We know for sure.
	assert.True(t, trk.cfg.KeepSessionOnTouchFailure)
	assert.Equal(t, stdlibtime.Minute, trk.cfg.CircuitCooldown)
	assert.Equal(t, delivery.DefaultFlushInterval, trk.cfg.FlushInterval)
	assert.Equal(t, []string{"general-wp.local", "localhost"}, trk.cfg.PlaceholderHosts)

	guestID := trk.Guests().Ensure(t.Context())
	require.NotEmpty(t, guestID)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, guestID, mr.HGet(keys[0], session.KeyGuestID))
	require.NoError(t, trk.Close())
}
