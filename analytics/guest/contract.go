// SPDX-License-Identifier: ice License 1.0

package guest

import (
	"context"
	"sync"

	"github.com/wpbe/wintr/analytics/session"
	"github.com/wpbe/wintr/analytics/tracking"
)

// Public API.

type (
	// Manager owns the guest session. Nothing else should read or mutate the session store directly.
	Manager interface {
		// HasLocalSession reports whether a guest id is stored locally, valid or not. It never touches the network.
		HasLocalSession(ctx context.Context) bool
		// Ensure returns a usable guest id, validating or creating the session as needed, or "" when none could be had.
		Ensure(ctx context.Context) string
		// Rotate drops the local session unconditionally.
		Rotate(ctx context.Context)
		// Convert attaches a form submission to the guest as a lead, rotating and retrying once on an auth rejection.
		Convert(ctx context.Context, formID string, formData map[string]any) bool
		// Credentials returns the stored id/token pair, trusted or not, or nil.
		Credentials(ctx context.Context) *tracking.Credentials
		// Trusted returns the stored pair only if this process has seen the backend accept it.
		Trusted(ctx context.Context) *tracking.Credentials
		// Confirm records that the backend just accepted creds.
		Confirm(creds *tracking.Credentials)
		OptedOut(ctx context.Context) bool
		SetOptOut(ctx context.Context, optedOut bool) error
		// SetVisit records the page the visitor is on; it feeds the context sent when a guest is created.
		SetVisit(visit *Visit)
	}
	// Visit is the best-effort client context of the current page.
	Visit struct {
		UserAgent string `json:"userAgent,omitempty"`
		Referrer  string `json:"referrer,omitempty"`
		URL       string `json:"url,omitempty"`
		Title     string `json:"title,omitempty"`
	}
	Config struct {
		// KeepSessionOnTouchFailure keeps a stored session when validation fails for reasons other than 401/403.
		KeepSessionOnTouchFailure bool `yaml:"keepSessionOnTouchFailure" mapstructure:"keepSessionOnTouchFailure"`
	}
)

// Private API.

const (
	maxAuthRetries = 1

	utmSourceParam   = "utm_source"
	utmMediumParam   = "utm_medium"
	utmCampaignParam = "utm_campaign"
)

type (
	manager struct {
		client  tracking.Client
		store   session.Store
		visit   *Visit
		trusted *tracking.Credentials
		cfg     *Config
		// ensureMx serializes Ensure; mx guards visit and trusted.
		ensureMx sync.Mutex
		mx       sync.RWMutex
	}
)
