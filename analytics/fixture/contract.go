// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"net/http/httptest"
	"sync"
)

// Public API.

const (
	RouteCreateGuest  Route = "create_guest"
	RouteTouchGuest   Route = "touch_guest"
	RouteConvertGuest Route = "convert_guest"
	RouteBatch        Route = "batch"
	RouteSubmitForm   Route = "submit_form"
	RouteSubmitLead   Route = "submit_lead"
)

type (
	// Route names one backend endpoint.
	Route string
	// Request is what the backend received, in arrival order.
	Request struct {
		Body    map[string]any
		Route   Route
		GuestID string
		Token   string
	}
	// Event is one delivered analytics event.
	Event struct {
		EventData map[string]any `json:"event_data"`
		EventType string         `json:"event_type"`
		PagePath  string         `json:"page_path"`
		Timestamp string         `json:"timestamp"`
	}
	// Batch is one accepted delivery.
	Batch struct {
		GuestID string   `json:"guest_id"`
		Token   string   `json:"-"`
		Events  []*Event `json:"events"`
	}
	// Response overrides the default behavior of a route for one call.
	// A zero Status with Hang set blocks until the caller gives up.
	Response struct {
		Body   any
		Status int
		Hang   bool
	}
	// Backend is an in-process guest/analytics backend with programmable failures.
	Backend struct {
		server    *httptest.Server
		sessions  map[string]string
		overrides map[Route][]*Response
		requests  []*Request
		batches   []*Batch
		mx        sync.Mutex
		nextGuest int
		numericID bool
	}
)

// Private API.

const (
	guestIDParam = "guestId"
	tokenHeader  = "X-Guest-Token"
)
