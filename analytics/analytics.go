// SPDX-License-Identifier: ice License 1.0

package analytics

import (
	"context"
	"maps"
	"net/url"
	"strings"
	stdlibtime "time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/wpbe/wintr/analytics/delivery"
	"github.com/wpbe/wintr/analytics/forms"
	"github.com/wpbe/wintr/analytics/guest"
	"github.com/wpbe/wintr/analytics/queue"
	"github.com/wpbe/wintr/analytics/session"
	"github.com/wpbe/wintr/analytics/tracking"
	appcfg "github.com/wpbe/wintr/config"
	"github.com/wpbe/wintr/connectors/storage"
	"github.com/wpbe/wintr/log"
	"github.com/wpbe/wintr/time"
)

// New loads the tracker config under applicationYAMLKey, wires every component and starts the flush loop.
func New(ctx context.Context, applicationYAMLKey string) Tracker {
	var cfg config
	appcfg.MustLoadFromKeyWithDefaults(applicationYAMLKey, &cfg, defaultConfig())
	if baseURL := appcfg.Env(applicationYAMLKey, baseURLEnv); baseURL != "" {
		cfg.Analytics.BaseURL = baseURL
	}
	var db storage.DB
	if cfg.Analytics.Store.Type == session.TypeRedis {
		db = storage.MustConnect(ctx, applicationYAMLKey)
	}
	clock := clockwork.NewRealClock()
	store, err := session.New(&cfg.Analytics.Store, db, clock)
	log.Panic(errors.Wrapf(err, "failed to open the guest session store for %v", applicationYAMLKey)) //nolint:revive // That's intended.
	trk := newTracker(&cfg.Analytics, store, clock)
	trk.delivery.Start(ctx)

	return trk
}

func defaultConfig() *config {
	return &config{Analytics: Config{
		Config: delivery.Config{
			BaseURL:                   DefaultBaseURL,
			PlaceholderHosts:          []string{"general-wp.local", "localhost"},
			RequestTimeout:            5 * stdlibtime.Second,
			FlushInterval:             delivery.DefaultFlushInterval,
			CircuitCooldown:           delivery.DefaultCircuitCooldown,
			CircuitCooldownMax:        5 * stdlibtime.Minute,
			CircuitCooldownMultiplier: 1,
			MaxConsecutiveFailures:    delivery.DefaultMaxConsecutiveFailures,
		},
		Store:           session.Config{Type: session.TypeMemory},
		MaxQueuedEvents: queue.DefaultMaxLen,
	}}
}

func newTracker(cfg *Config, store session.Store, clock clockwork.Clock) *tracker {
	client := tracking.New(&tracking.Config{BaseURL: cfg.BaseURL, RequestTimeout: cfg.RequestTimeout})
	guests := guest.New(&guest.Config{KeepSessionOnTouchFailure: cfg.KeepSessionOnTouchFailure}, client, store)
	events := queue.New(cfg.MaxQueuedEvents)

	return &tracker{
		cfg:          cfg,
		store:        store,
		clock:        clock,
		client:       client,
		guests:       guests,
		queue:        events,
		delivery:     delivery.New(&cfg.Config, client, guests, events, clock),
		visit:        new(guest.Visit),
		startedForms: make(map[string]struct{}),
	}
}

func (t *tracker) PageLoad(ctx context.Context, visit *guest.Visit) {
	if visit == nil {
		visit = new(guest.Visit)
	}
	cpy := *visit
	t.guests.SetVisit(&cpy)
	t.mx.Lock()
	t.visit = &cpy
	t.startedForms = make(map[string]struct{})
	t.mx.Unlock()
	if t.guests.HasLocalSession(ctx) {
		t.TrackPageView(ctx)
	}
}

func (t *tracker) Track(ctx context.Context, eventType string, eventData map[string]any) {
	if !t.delivery.Stats().Enabled || t.guests.OptedOut(ctx) {
		return
	}
	t.queue.Enqueue(&tracking.Event{
		EventType: eventType,
		EventData: eventData,
		PagePath:  t.pagePath(),
		Timestamp: time.New(t.clock.Now()),
	})
}

func (t *tracker) TrackPageView(ctx context.Context) {
	t.mx.Lock()
	title := t.visit.Title
	t.mx.Unlock()
	t.Track(ctx, tracking.EventTypePageView, map[string]any{"page_title": title})
}

func (t *tracker) TrackCTAClick(ctx context.Context, ctaID string) {
	t.guests.Ensure(ctx)
	t.Track(ctx, tracking.EventTypeCTAClick, map[string]any{"cta_id": ctaID})
}

func (t *tracker) TrackFormStart(ctx context.Context, formID string) {
	t.mx.Lock()
	_, started := t.startedForms[formID]
	t.startedForms[formID] = struct{}{}
	t.mx.Unlock()
	if started {
		return
	}
	t.guests.Ensure(ctx)
	t.Track(ctx, tracking.EventTypeFormStart, map[string]any{"form_id": formID})
}

func (t *tracker) TrackFormProgress(ctx context.Context, formID string, step int, fieldData map[string]any) {
	t.Track(ctx, tracking.EventTypeFormProgress, map[string]any{"form_id": formID, "step": step, "field_data": fieldData})
}

func (t *tracker) TrackFormSubmit(ctx context.Context, formID string, formData map[string]any, convert bool) bool {
	succeeded := true
	if convert {
		succeeded = t.guests.Convert(ctx, formID, formData)
	} else {
		t.Track(ctx, tracking.EventTypeFormSubmit, map[string]any{"form_id": formID, "form_data": formData})
	}
	t.delivery.Trigger()

	return succeeded
}

func (t *tracker) SubmitFormValues(ctx context.Context, formType string, values url.Values) (map[string]any, error) {
	return t.SubmitForm(ctx, forms.Extract(values, formType, t.cfg.PhoneRegion))
}

func (t *tracker) SubmitForm(ctx context.Context, submission *forms.Submission) (map[string]any, error) {
	if err := submission.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %v form submission", submission.FormType)
	}
	sub := *submission
	sub.SenderEmail = strings.TrimSpace(sub.SenderEmail)
	sub.SenderPhone = forms.NormalizePhone(sub.SenderPhone, t.cfg.PhoneRegion)
	var creds *tracking.Credentials
	if t.guests.Ensure(ctx) != "" {
		creds = t.guests.Credentials(ctx)
	}
	resp, err := t.client.SubmitForm(ctx, creds, &sub)
	if err != nil {
		if t.guests.HasLocalSession(ctx) {
			msg := tracking.Message(err)
			if msg == "" {
				msg = err.Error()
			}
			t.trackSubmission(ctx, sub.FormType, map[string]any{"submission_success": false, "error": msg})
		}

		return nil, errors.Wrapf(err, "failed to submit %v form", sub.FormType)
	}
	if creds != nil {
		t.trackSubmission(ctx, sub.FormType, map[string]any{"submission_success": true})
	}

	return resp, nil
}

func (t *tracker) SubmitLead(ctx context.Context, lead map[string]any) (map[string]any, error) {
	if err := forms.ValidateLead(lead); err != nil {
		return nil, errors.Wrap(err, "invalid lead")
	}
	cpy := maps.Clone(lead)
	cpy["email"] = strings.TrimSpace(cpy["email"].(string)) //nolint:forcetypeassert,errcheck // Validated above.
	resp, err := t.client.SubmitLead(ctx, cpy)

	return resp, errors.Wrap(err, "failed to submit lead")
}

func (t *tracker) trackSubmission(ctx context.Context, formType string, data map[string]any) {
	data["form_type"] = formType
	data["form_id"] = formType
	t.Track(ctx, tracking.EventTypeFormSubmit, data)
	t.delivery.Trigger()
}

func (t *tracker) Flush(ctx context.Context) {
	t.delivery.Flush(ctx)
}

func (t *tracker) Unload(ctx context.Context) {
	t.delivery.Flush(ctx)
}

func (t *tracker) OptOut(ctx context.Context, optedOut bool) error {
	if err := t.guests.SetOptOut(ctx, optedOut); err != nil {
		return errors.Wrap(err, "failed to change tracking consent")
	}
	if optedOut {
		log.Info("guest opted out of tracking, discarding queued events", "dropped", t.queue.Clear())
	}

	return nil
}

func (t *tracker) Guests() guest.Manager {
	return t.guests
}

func (t *tracker) Stats() *delivery.Stats {
	return t.delivery.Stats()
}

func (t *tracker) pagePath() string {
	t.mx.Lock()
	rawURL := t.visit.URL
	t.mx.Unlock()
	if rawURL == "" {
		return "/"
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return "/"
	}

	return parsed.Path
}

func (t *tracker) Close() error {
	return multierror.Append(nil, //nolint:wrapcheck // Not needed.
		errors.Wrap(t.delivery.Close(), "failed to close analytics delivery"),
		errors.Wrap(t.store.Close(), "failed to close guest session store"),
	).ErrorOrNil()
}
