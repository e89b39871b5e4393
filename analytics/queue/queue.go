// SPDX-License-Identifier: ice License 1.0

package queue

import (
	"maps"
	"slices"

	"github.com/wpbe/wintr/analytics/tracking"
	"github.com/wpbe/wintr/log"
)

// New builds a queue holding at most maxLen events; 0 means DefaultMaxLen and Unbounded disables the limit.
// Once full, the oldest events are dropped.
func New(maxLen int) Queue {
	if maxLen == 0 {
		maxLen = DefaultMaxLen
	}

	return &queue{maxLen: maxLen}
}

func (q *queue) Enqueue(events ...*tracking.Event) {
	if len(events) == 0 {
		return
	}
	cpy := make([]*tracking.Event, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		clone := *event
		clone.EventData = copyData(event.EventData)
		cpy = append(cpy, &clone)
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	q.events = append(q.events, cpy...)
	q.evictOverflow()
}

func (q *queue) DrainAll() []*tracking.Event {
	q.mx.Lock()
	defer q.mx.Unlock()
	drained := q.events
	q.events = nil

	return drained
}

func (q *queue) RequeueFront(events []*tracking.Event) {
	if len(events) == 0 {
		return
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	requeued := make([]*tracking.Event, 0, len(events)+len(q.events))
	requeued = append(requeued, events...)
	q.events = append(requeued, q.events...)
	q.evictOverflow()
}

func (q *queue) Clear() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	cleared := len(q.events)
	q.events = nil

	return cleared
}

func (q *queue) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()

	return len(q.events)
}

func (q *queue) evictOverflow() {
	if q.maxLen < 0 || len(q.events) <= q.maxLen {
		return
	}
	drop := len(q.events) - q.maxLen
	log.Warn("analytics queue is full, dropping oldest events", "dropped", drop, "maxLen", q.maxLen)
	q.events = q.events[drop:]
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cpy := make(map[string]any, len(data))
	for key, val := range data {
		cpy[key] = copyValue(val)
	}

	return cpy
}

//nolint:revive // The nested containers callers are known to pass in.
func copyValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return copyData(v)
	case []any:
		cpy := make([]any, len(v))
		for ix, elem := range v {
			cpy[ix] = copyValue(elem)
		}

		return cpy
	case map[string]string:
		return maps.Clone(v)
	case []string:
		return slices.Clone(v)
	case []map[string]any:
		cpy := make([]map[string]any, len(v))
		for ix, elem := range v {
			cpy[ix] = copyData(elem)
		}

		return cpy
	default:
		return val
	}
}
