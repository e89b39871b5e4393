// SPDX-License-Identifier: ice License 1.0

package tracking

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/pkg/errors"

	"github.com/wpbe/wintr/terror"
)

func New(cfg *Config) Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := req.C().
		SetTimeout(cfg.RequestTimeout).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal).
		SetCommonContentType("application/json").
		SetCommonHeader("Accept", "application/json")

	return &tracking{client: client, cfg: cfg}
}

func (t *tracking) CreateGuest(ctx context.Context, guest *GuestContext) (*Credentials, error) {
	var resp createResponse
	if err := t.post(ctx, createGuestPath, nil, guest, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to create guest")
	}
	if resp.Data == nil || resp.Data.GuestID == "" || resp.Data.SessionToken == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "guest id or session token missing from the create guest response")
	}

	return &Credentials{GuestID: string(resp.Data.GuestID), SessionToken: resp.Data.SessionToken}, nil
}

func (t *tracking) TouchGuest(ctx context.Context, creds *Credentials) error {
	return errors.Wrapf(t.post(ctx, touchGuestPath, creds, nil, nil), "failed to touch guest %v", creds.GuestID)
}

func (t *tracking) ConvertGuest(ctx context.Context, creds *Credentials, conversion *Conversion) error {
	return errors.Wrapf(t.post(ctx, convertGuestPath, creds, conversion, nil), "failed to convert guest %v with form %v", creds.GuestID, conversion.FormID)
}

func (t *tracking) SendBatch(ctx context.Context, creds *Credentials, batch *Batch) error {
	return errors.Wrapf(t.post(ctx, batchPath, creds, batch, nil), "failed to send %v events for guest %v", len(batch.Events), creds.GuestID)
}

func (t *tracking) SubmitForm(ctx context.Context, creds *Credentials, submission any) (map[string]any, error) {
	var resp map[string]any
	if err := t.post(ctx, submitFormPath, creds, submission, &resp); err != nil {
		if !errors.Is(err, ErrMalformedResponse) {
			return nil, errors.Wrap(err, "form submission failed")
		}
		resp = nil
	}
	if resp == nil {
		resp = map[string]any{"success": true, "data": map[string]any{"message": "Form submitted successfully!"}}
	}

	return resp, nil
}

func (t *tracking) SubmitLead(ctx context.Context, lead map[string]any) (map[string]any, error) {
	var resp map[string]any
	if err := t.post(ctx, submitLeadPath, nil, lead, &resp); err != nil {
		return nil, errors.Wrap(err, "lead submission failed")
	}

	return resp, nil
}

func (t *tracking) post(ctx context.Context, path string, creds *Credentials, body, result any) error { //nolint:revive // .
	url := t.cfg.BaseURL + path
	request := t.client.R().SetContext(ctx)
	if creds != nil {
		request = request.SetPathParam("guestId", creds.GuestID).SetHeader(GuestTokenHeader, creds.SessionToken)
	}
	if body != nil {
		request = request.SetBodyJsonMarshal(body)
	}
	resp, err := request.Post(url)
	if err != nil {
		return errors.Wrapf(err, "POST `%v` failed", url)
	}
	respBody, err := resp.ToString()
	if err != nil {
		return errors.Wrapf(err, "POST `%v` failed, unable to read response body", url)
	}
	data := map[string]any{"statusCode": resp.GetStatusCode(), "url": url}
	switch code := resp.GetStatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return terror.New(ErrUnauthorized, data)
	case !resp.IsSuccessState():
		data["message"] = errorMessage(respBody)

		return terror.New(errors.Wrapf(ErrUnexpectedStatus, "POST `%v` responded %v: %v", url, code, respBody), data)
	}
	if result == nil {
		return nil
	}
	if err = json.Unmarshal([]byte(respBody), result); err != nil {
		return terror.New(errors.Wrapf(ErrMalformedResponse, "POST `%v` responded with %q: %v", url, respBody, err), data)
	}

	return nil
}

// errorMessage digs the human readable message out of a WordPress error body.
func errorMessage(respBody string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(respBody), &body); err != nil {
		return strings.TrimSpace(respBody)
	}
	if body.Message != "" {
		return body.Message
	}
	if body.Error != "" {
		return body.Error
	}

	return strings.TrimSpace(respBody)
}

// Classify maps the error of any Client call onto the Outcome that drives retries and the circuit breaker.
func Classify(err error) Outcome {
	var netErr net.Error
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ErrUnexpectedStatus), errors.Is(err, ErrMalformedResponse):
		return OutcomeRejected
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return OutcomeTimeout
	default:
		return OutcomeNetworkFailure
	}
}

// StatusCode returns the HTTP status a Client error came with, or 0 when the request never got a response.
func StatusCode(err error) int {
	code, _ := terror.Value[int](err, "statusCode")

	return code
}

// Message returns the backend's error message for a rejected request, if it sent one.
func Message(err error) string {
	msg, _ := terror.Value[string](err, "message")

	return msg
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNetworkFailure:
		return "network_failure"
	default:
		return "unknown"
	}
}

func (g *guestID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}
	if raw[0] != '"' {
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return errors.Wrapf(ErrMalformedResponse, "guest id must be a string or a number, got %v", raw)
		}
		*g = guestID(raw)

		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return errors.Wrapf(err, "invalid guest id %v", raw)
	}
	*g = guestID(str)

	return nil
}
