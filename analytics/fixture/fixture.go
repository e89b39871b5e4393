// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func New(tb testing.TB) *Backend {
	tb.Helper()
	gin.SetMode(gin.TestMode)
	b := &Backend{
		sessions:  make(map[string]string),
		overrides: make(map[Route][]*Response),
	}
	router := gin.New()
	router.POST("/guests", b.createGuest)
	router.POST("/guests/:"+guestIDParam+"/touch", b.touchGuest)
	router.POST("/guests/:"+guestIDParam+"/convert", b.convertGuest)
	router.POST("/analytics/events/batch", b.sendBatch)
	router.POST("/form-submissions", b.submitForm)
	router.POST("/leads", b.submitLead)
	b.server = httptest.NewServer(router)
	tb.Cleanup(b.server.Close)

	return b
}

func (b *Backend) URL() string {
	return b.server.URL
}

// Respond queues one-off responses for route, consumed in order before the default behavior resumes.
func (b *Backend) Respond(route Route, responses ...*Response) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.overrides[route] = append(b.overrides[route], responses...)
}

// Fail queues count responses with the given status for route.
func (b *Backend) Fail(route Route, status, count int) {
	for range count {
		b.Respond(route, &Response{Status: status})
	}
}

// Hang makes the next count calls of route block until the caller gives up.
func (b *Backend) Hang(route Route, count int) {
	for range count {
		b.Respond(route, &Response{Hang: true})
	}
}

// UseNumericGuestIDs makes newly created guests come back with JSON number ids.
func (b *Backend) UseNumericGuestIDs() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.numericID = true
}

// IssueSession registers a valid session without going through the API.
func (b *Backend) IssueSession() (guestID, token string) {
	b.mx.Lock()
	defer b.mx.Unlock()

	return b.issueSession()
}

func (b *Backend) Revoke(guestID string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.sessions, guestID)
}

func (b *Backend) Valid(guestID, token string) bool {
	b.mx.Lock()
	defer b.mx.Unlock()

	return guestID != "" && b.sessions[guestID] == token
}

// Requests returns the received requests, optionally filtered by route.
func (b *Backend) Requests(routes ...Route) []*Request {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(routes) == 0 {
		return append(make([]*Request, 0, len(b.requests)), b.requests...)
	}
	filtered := make([]*Request, 0, len(b.requests))
	for _, req := range b.requests {
		for _, route := range routes {
			if req.Route == route {
				filtered = append(filtered, req)
			}
		}
	}

	return filtered
}

func (b *Backend) Batches() []*Batch {
	b.mx.Lock()
	defer b.mx.Unlock()

	return append(make([]*Batch, 0, len(b.batches)), b.batches...)
}

// Events flattens every accepted batch, in delivery order.
func (b *Backend) Events() []*Event {
	var events []*Event
	for _, batch := range b.Batches() {
		events = append(events, batch.Events...)
	}

	return events
}

// EventTypes is Events reduced to their types.
func (b *Backend) EventTypes() []string {
	events := b.Events()
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.EventType)
	}

	return types
}

func (b *Backend) issueSession() (guestID, token string) {
	b.nextGuest++
	guestID = "guest-" + strconv.Itoa(b.nextGuest)
	if b.numericID {
		guestID = strconv.Itoa(b.nextGuest)
	}
	token = uuid.NewString()
	b.sessions[guestID] = token

	return guestID, token
}

func (b *Backend) createGuest(c *gin.Context) {
	b.handle(c, RouteCreateGuest, false, func(*Request, []byte) (int, any) {
		b.mx.Lock()
		guestID, token := b.issueSession()
		numeric := b.numericID
		b.mx.Unlock()
		var id any = guestID
		if numeric {
			id, _ = strconv.Atoi(guestID) //nolint:errcheck // We built it.
		}

		return http.StatusCreated, gin.H{"success": true, "data": gin.H{"guest_id": id, "session_token": token}}
	})
}

func (b *Backend) touchGuest(c *gin.Context) {
	b.handle(c, RouteTouchGuest, true, func(*Request, []byte) (int, any) {
		return http.StatusOK, gin.H{"success": true}
	})
}

func (b *Backend) convertGuest(c *gin.Context) {
	b.handle(c, RouteConvertGuest, true, func(*Request, []byte) (int, any) {
		return http.StatusOK, gin.H{"success": true, "data": gin.H{"lead_id": uuid.NewString()}}
	})
}

func (b *Backend) sendBatch(c *gin.Context) {
	b.handle(c, RouteBatch, true, func(req *Request, raw []byte) (int, any) {
		batch := new(Batch)
		if err := json.Unmarshal(raw, batch); err != nil {
			return http.StatusBadRequest, gin.H{"message": err.Error()}
		}
		batch.Token = req.Token
		b.mx.Lock()
		b.batches = append(b.batches, batch)
		b.mx.Unlock()

		return http.StatusOK, gin.H{"success": true, "data": gin.H{"accepted": len(batch.Events)}}
	})
}

func (b *Backend) submitForm(c *gin.Context) {
	b.handle(c, RouteSubmitForm, false, func(req *Request, _ []byte) (int, any) {
		if email, _ := req.Body["sender_email"].(string); email == "" { //nolint:errcheck // Zero value is enough.
			return http.StatusBadRequest, gin.H{"message": "sender_email is required"}
		}

		return http.StatusCreated, gin.H{"success": true, "data": gin.H{"message": "Thanks!"}}
	})
}

func (b *Backend) submitLead(c *gin.Context) {
	b.handle(c, RouteSubmitLead, false, func(req *Request, _ []byte) (int, any) {
		if email, _ := req.Body["email"].(string); email == "" { //nolint:errcheck // Zero value is enough.
			return http.StatusBadRequest, gin.H{"message": "email is required"}
		}

		return http.StatusCreated, gin.H{"success": true, "data": gin.H{"lead_id": uuid.NewString()}}
	})
}

func (b *Backend) handle(c *gin.Context, route Route, authenticated bool, respond func(*Request, []byte) (int, any)) {
	raw, _ := io.ReadAll(c.Request.Body) //nolint:errcheck // An unreadable body decodes as empty.
	req := &Request{Route: route, GuestID: c.Param(guestIDParam), Token: c.GetHeader(tokenHeader)}
	if len(raw) != 0 {
		_ = json.Unmarshal(raw, &req.Body) //nolint:errcheck // Tests assert on what could be decoded.
	}
	if req.GuestID == "" {
		req.GuestID, _ = req.Body["guest_id"].(string) //nolint:errcheck // Zero value is enough.
	}
	b.mx.Lock()
	b.requests = append(b.requests, req)
	var override *Response
	if queued := b.overrides[route]; len(queued) > 0 {
		override, b.overrides[route] = queued[0], queued[1:]
	}
	valid := req.GuestID != "" && b.sessions[req.GuestID] == req.Token
	b.mx.Unlock()

	switch {
	case override != nil && override.Hang:
		<-c.Request.Context().Done()
		c.AbortWithStatus(http.StatusGatewayTimeout)
	case override != nil:
		body := override.Body
		if body == nil {
			body = gin.H{"code": "forced", "message": http.StatusText(override.Status)}
		}
		c.JSON(override.Status, body)
	case authenticated && !valid:
		c.JSON(http.StatusUnauthorized, gin.H{"code": "invalid_guest_token", "message": "Invalid or expired guest token."})
	default:
		c.JSON(respond(req, raw))
	}
}
