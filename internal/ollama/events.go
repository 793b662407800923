// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "math"

// EventKind discriminates ProgressEvent.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// ProgressEvent is delivered incrementally to a Sink. Only the fields that
// belong to Kind are set:
//
//	token:    Text
//	progress: Completed, Total, Percent, Status
//	done:     (none)
//	error:    Detail
type ProgressEvent struct {
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Completed int64     `json:"completed,omitempty"`
	Total     int64     `json:"total,omitempty"`
	Percent   int       `json:"percent,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink receives progress events. It is called synchronously from the reading
// goroutine and must not retain the event.
type Sink func(ProgressEvent)

// TokenEvent builds a token event.
func TokenEvent(text string) ProgressEvent { return ProgressEvent{Kind: EventToken, Text: text} }

// DoneEvent builds a done event.
func DoneEvent() ProgressEvent { return ProgressEvent{Kind: EventDone} }

// ErrorEvent builds an error event.
func ErrorEvent(detail string) ProgressEvent { return ProgressEvent{Kind: EventError, Detail: detail} }

// ProgressOf builds a progress event with percent = round(completed/total*100).
// A non-positive total yields 0%.
func ProgressOf(completed, total int64) ProgressEvent {
	ev := ProgressEvent{Kind: EventProgress, Completed: completed, Total: total}
	if total > 0 {
		ev.Percent = int(math.Round(float64(completed) / float64(total) * 100))
	}
	return ev
}

func (s Sink) emit(ev ProgressEvent) {
	if s != nil {
		s(ev)
	}
}
