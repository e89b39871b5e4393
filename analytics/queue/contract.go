// SPDX-License-Identifier: ice License 1.0

package queue

import (
	"sync"

	"github.com/wpbe/wintr/analytics/tracking"
)

// Public API.

const (
	DefaultMaxLen = 1000
	Unbounded     = -1
)

type (
	// Queue buffers events awaiting delivery, oldest first. It is safe for concurrent use.
	Queue interface {
		// Enqueue appends events to the tail. Their data is deep copied, so callers may keep mutating what they passed in.
		Enqueue(events ...*tracking.Event)
		// DrainAll removes and returns everything currently queued.
		DrainAll() []*tracking.Event
		// RequeueFront puts events back at the head, ahead of anything enqueued since they were drained.
		RequeueFront(events []*tracking.Event)
		// Clear empties the queue, returning how many events were discarded.
		Clear() int
		Len() int
	}
)

// Private API.

type (
	queue struct {
		events []*tracking.Event
		mx     sync.Mutex
		maxLen int
	}
)
