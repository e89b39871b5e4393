// SPDX-License-Identifier: ice License 1.0

package terror

// Public API.

type (
	// Err is an error that carries structured context, like the HTTP status it came from.
	Err struct {
		error
		Data map[string]any `json:"data"`
	}
)
