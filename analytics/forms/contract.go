// SPDX-License-Identifier: ice License 1.0

package forms

import (
	"regexp"

	"github.com/pkg/errors"
)

// Public API.

const (
	FormTypeContactForm     = "contact_form"
	FormTypeQuickMessage    = "quick_message"
	FormTypeBookACall       = "book_a_call"
	FormTypeRequestAQuote   = "request_a_quote"
	FormTypeQuoteRequest    = "quote_request"
	FormTypeDiscoveryIntake = "discovery_intake"
	FormTypeNewsletter      = "newsletter_signup"
	FormTypeSupportRequest  = "support_request"
	FormTypeSupportForm     = "support_form"
	FormTypeFAQQuestion     = "faq_question"
)

var (
	ErrFormTypeRequired = errors.New("form type is required")
	ErrEmailRequired    = errors.New("email is required")
	ErrInvalidEmail     = errors.New("invalid email address")
)

type (
	// Submission is the payload of POST /form-submissions.
	Submission struct {
		FormData    map[string]any `json:"form_data,omitempty"`
		FormType    string         `json:"form_type"`
		SenderEmail string         `json:"sender_email"`
		SenderName  string         `json:"sender_name,omitempty"`
		SenderPhone string         `json:"sender_phone,omitempty"`
		Subject     string         `json:"subject,omitempty"`
		Message     string         `json:"message,omitempty"`
	}
)

// Private API.

const (
	leadEmailField = "email"
)

var (
	//nolint:gochecknoglobals // Compiled once.
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	//nolint:gochecknoglobals // Lookup order matters, first non-empty field wins.
	emailFields   = []string{"email", "sender_email", "e-mail"}
	nameFields    = []string{"name", "sender_name", "full_name"}
	phoneFields   = []string{"phone", "sender_phone", "tel"}
	subjectFields = []string{"subject", "title"}
	messageFields = []string{"message", "body", "comments"}
)
