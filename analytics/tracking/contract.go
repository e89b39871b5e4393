// SPDX-License-Identifier: ice License 1.0

package tracking

import (
	"context"
	stdlibtime "time"

	"github.com/imroc/req/v3"
	"github.com/pkg/errors"

	"github.com/wpbe/wintr/time"
)

// Public API.

const (
	EventTypePageView     = "page_view"
	EventTypeCTAClick     = "cta_click"
	EventTypeFormStart    = "form_start"
	EventTypeFormProgress = "form_progress"
	EventTypeFormSubmit   = "form_submit"

	GuestTokenHeader = "X-Guest-Token"
)

const (
	OutcomeSuccess Outcome = iota
	OutcomeUnauthorized
	OutcomeRejected
	OutcomeTimeout
	OutcomeNetworkFailure
)

var (
	ErrUnauthorized      = errors.New("guest session token rejected")
	ErrUnexpectedStatus  = errors.New("unexpected response status")
	ErrMalformedResponse = errors.New("malformed response")
)

type (
	// Outcome is how a single backend call ended, as far as retry and circuit logic care.
	Outcome int
	// Client talks to the guest/analytics backend. It never retries on its own.
	Client interface {
		CreateGuest(ctx context.Context, guest *GuestContext) (*Credentials, error)
		TouchGuest(ctx context.Context, creds *Credentials) error
		ConvertGuest(ctx context.Context, creds *Credentials, conversion *Conversion) error
		SendBatch(ctx context.Context, creds *Credentials, batch *Batch) error
		// SubmitForm posts a form submission; creds are optional.
		SubmitForm(ctx context.Context, creds *Credentials, submission any) (map[string]any, error)
		// SubmitLead posts a lead capture, anonymously.
		SubmitLead(ctx context.Context, lead map[string]any) (map[string]any, error)
	}
	Credentials struct {
		GuestID      string
		SessionToken string
	}
	GuestContext struct {
		UTMSource   *string `json:"utm_source"`
		UTMMedium   *string `json:"utm_medium"`
		UTMCampaign *string `json:"utm_campaign"`
		UserAgent   string  `json:"user_agent"`
		ReferrerURL string  `json:"referrer_url"`
	}
	Event struct {
		EventData map[string]any `json:"event_data"`
		Timestamp *time.Time     `json:"timestamp"`
		EventType string         `json:"event_type"`
		PagePath  string         `json:"page_path"`
	}
	Batch struct {
		GuestID string   `json:"guest_id"`
		Events  []*Event `json:"events"`
	}
	Conversion struct {
		FormData map[string]any `json:"form_data"`
		FormID   string         `json:"form_id"`
	}
	Config struct {
		BaseURL        string
		RequestTimeout stdlibtime.Duration
	}
)

// Private API.

const (
	createGuestPath  = "/guests"
	touchGuestPath   = "/guests/{guestId}/touch"
	convertGuestPath = "/guests/{guestId}/convert"
	batchPath        = "/analytics/events/batch"
	submitFormPath   = "/form-submissions"
	submitLeadPath   = "/leads"

	defaultRequestTimeout = 5 * stdlibtime.Second
)

type (
	tracking struct {
		client *req.Client
		cfg    *Config
	}
	// guestID accepts both JSON strings and numbers.
	guestID        string
	createResponse struct {
		Data *struct {
			GuestID      guestID `json:"guest_id"`
			SessionToken string  `json:"session_token"`
		} `json:"data"`
	}
)
