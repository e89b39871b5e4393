// SPDX-License-Identifier: ice License 1.0

package analytics

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/wpbe/wintr/analytics/delivery"
	"github.com/wpbe/wintr/analytics/forms"
	"github.com/wpbe/wintr/analytics/guest"
	"github.com/wpbe/wintr/analytics/queue"
	"github.com/wpbe/wintr/analytics/session"
	"github.com/wpbe/wintr/analytics/tracking"
)

// Public API.

const (
	DefaultBaseURL = "http://general-wp.local/wp-json/wpbe/v1"
)

type (
	// Tracker is the guest tracking context of one client, built once at startup and shared by every caller.
	Tracker interface {
		io.Closer

		// PageLoad records the page the visitor landed on and tracks a page view for already known guests.
		PageLoad(ctx context.Context, visit *guest.Visit)
		Track(ctx context.Context, eventType string, eventData map[string]any)
		TrackPageView(ctx context.Context)
		// TrackCTAClick counts as engagement, so it makes sure a guest session exists first.
		TrackCTAClick(ctx context.Context, ctaID string)
		// TrackFormStart fires once per form per page load and, like a CTA click, ensures a guest session.
		TrackFormStart(ctx context.Context, formID string)
		TrackFormProgress(ctx context.Context, formID string, step int, fieldData map[string]any)
		// TrackFormSubmit either converts the guest into a lead or tracks a plain form_submit, then asks for a flush.
		TrackFormSubmit(ctx context.Context, formID string, formData map[string]any, convert bool) bool
		// SubmitForm posts a form submission. Unlike everything else here, its failures are returned.
		SubmitForm(ctx context.Context, submission *forms.Submission) (map[string]any, error)
		SubmitFormValues(ctx context.Context, formType string, values url.Values) (map[string]any, error)
		// SubmitLead posts a lead capture. It is anonymous and untracked; failures are returned.
		SubmitLead(ctx context.Context, lead map[string]any) (map[string]any, error)
		Flush(ctx context.Context)
		// Unload is the best-effort flush made when the visitor leaves the page.
		Unload(ctx context.Context)
		// OptOut toggles tracking; opting out also discards everything queued.
		OptOut(ctx context.Context, optedOut bool) error
		Guests() guest.Manager
		Stats() *delivery.Stats
	}
	Config struct {
		delivery.Config `mapstructure:",squash"` //nolint:tagliatelle // Nope.

		Store                     session.Config `yaml:"store" mapstructure:"store"`
		PhoneRegion               string         `yaml:"phoneRegion" mapstructure:"phoneRegion"`
		MaxQueuedEvents           int            `yaml:"maxQueuedEvents" mapstructure:"maxQueuedEvents"`
		KeepSessionOnTouchFailure bool           `yaml:"keepSessionOnTouchFailure" mapstructure:"keepSessionOnTouchFailure"`
	}
)

// Private API.

const (
	baseURLEnv = "ANALYTICS_BASE_URL"
)

type (
	config struct {
		Analytics Config `yaml:"wpbe/analytics" mapstructure:"wpbe/analytics"` //nolint:tagliatelle // Nope.
	}
	tracker struct {
		guests       guest.Manager
		client       tracking.Client
		queue        queue.Queue
		delivery     delivery.Controller
		store        session.Store
		clock        clockwork.Clock
		cfg          *Config
		visit        *guest.Visit
		startedForms map[string]struct{}
		mx           sync.Mutex
	}
)
