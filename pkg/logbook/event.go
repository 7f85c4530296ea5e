// Package logbook records the audit trail of contract operations. Every
// operation opens with a STARTED event and closes with exactly one of OK,
// KO or FATAL. Events are append-only.
package logbook

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrOperationExists  = errors.New("logbook: operation already started")
	ErrUnknownOperation = errors.New("logbook: unknown operation")
	// ErrOperationClosed is returned for any event appended after the
	// terminal one.
	ErrOperationClosed = errors.New("logbook: operation already closed")
)

// Outcome is the status carried by an event.
type Outcome string

const (
	OutcomeStarted Outcome = "STARTED"
	OutcomeOK      Outcome = "OK"
	OutcomeKO      Outcome = "KO"
	OutcomeFatal   Outcome = "FATAL"
)

// Terminal reports whether the outcome closes its operation.
func (o Outcome) Terminal() bool {
	return o == OutcomeOK || o == OutcomeKO || o == OutcomeFatal
}

// Event is one immutable audit record.
type Event struct {
	EventID          string          `json:"event_id"`
	OperationID      string          `json:"operation_id"`
	Tenant           int             `json:"tenant"`
	EventType        string          `json:"event_type"`
	Outcome          Outcome         `json:"outcome"`
	OutcomeDetail    string          `json:"outcome_detail"`
	Message          string          `json:"message,omitempty"`
	ObjectIdentifier string          `json:"object_identifier,omitempty"`
	Detail           json.RawMessage `json:"detail,omitempty"`
	DateTime         time.Time       `json:"date_time"`
}

// Journal is the append-only event sink.
type Journal interface {
	// Create opens an operation with its first event.
	Create(ctx context.Context, e Event) error
	// Append adds an event to an open operation.
	Append(ctx context.Context, e Event) error
	// Events returns the events of an operation in append order.
	Events(ctx context.Context, operationID string) ([]Event, error)
}

// Terminal returns the terminal events among events.
func Terminal(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Outcome.Terminal() {
			out = append(out, e)
		}
	}
	return out
}
