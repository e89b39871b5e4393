// SPDX-License-Identifier: ice License 1.0

package forms

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/pkg/errors"

	"github.com/wpbe/wintr/log"
)

// Extract builds a submission out of raw form values. Well-known fields are lifted out under their canonical names,
// everything else that is non-empty ends up in FormData. Phone numbers parseable for phoneRegion are normalized to E.164.
func Extract(values url.Values, formType, phoneRegion string) *Submission {
	sub := &Submission{
		FormType:    formType,
		SenderEmail: first(values, emailFields),
		SenderName:  first(values, nameFields),
		SenderPhone: NormalizePhone(first(values, phoneFields), phoneRegion),
		Subject:     first(values, subjectFields),
		Message:     first(values, messageFields),
	}
	if sub.SenderEmail == "" {
		log.Warn("form submission has no email field", "formType", formType, "fields", slices.Sorted(maps.Keys(values)))
	}
	for key, vals := range values {
		if isStandardField(key) {
			continue
		}
		nonEmpty := slices.DeleteFunc(slices.Clone(vals), func(val string) bool { return val == "" })
		switch len(nonEmpty) {
		case 0:
			continue
		case 1:
			if sub.FormData == nil {
				sub.FormData = make(map[string]any)
			}
			sub.FormData[key] = nonEmpty[0]
		default:
			if sub.FormData == nil {
				sub.FormData = make(map[string]any)
			}
			sub.FormData[key] = nonEmpty
		}
	}

	return sub
}

func (s *Submission) Validate() error {
	if s.FormType == "" {
		return ErrFormTypeRequired
	}
	if strings.TrimSpace(s.SenderEmail) == "" {
		return ErrEmailRequired
	}
	if !ValidEmail(s.SenderEmail) {
		return errors.Wrapf(ErrInvalidEmail, "%q", s.SenderEmail)
	}

	return nil
}

// ValidateLead checks the one field a lead must carry, a valid `email`.
func ValidateLead(lead map[string]any) error {
	email, _ := lead[leadEmailField].(string) //nolint:errcheck // Zero value is enough.
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	if !ValidEmail(email) {
		return errors.Wrapf(ErrInvalidEmail, "%q", email)
	}

	return nil
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// NormalizePhone formats phone as E.164 when it is a valid number for region, otherwise returns it trimmed.
func NormalizePhone(phone, region string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || region == "" {
		return phone
	}
	parsed, err := phonenumbers.Parse(phone, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return phone
	}

	return phonenumbers.Format(parsed, phonenumbers.E164)
}

func first(values url.Values, keys []string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(values.Get(key)); val != "" {
			return val
		}
	}

	return ""
}

func isStandardField(key string) bool {
	key = strings.ToLower(key)
	for _, fields := range [][]string{emailFields, nameFields, phoneFields, subjectFields, messageFields} {
		if slices.Contains(fields, key) {
			return true
		}
	}

	return false
}

