package logbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/operation"
	"github.com/archivekeep/funcadmin/pkg/rejection"
)

// Recorder writes the audit events of one contract collection.
type Recorder struct {
	journal    Journal
	collection contracts.Collection
	now        func() time.Time
	logger     *slog.Logger
}

func NewRecorder(journal Journal, coll contracts.Collection) *Recorder {
	return &Recorder{
		journal:    journal,
		collection: coll,
		now:        time.Now,
		logger:     slog.Default().With("component", "logbook", "collection", string(coll)),
	}
}

// WithClock replaces the event time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) LogStarted(ctx context.Context, op operation.Operation) error {
	e := r.event(op, r.collection.ImportEventCode(), OutcomeStarted, "")
	return r.journal.Create(ctx, e)
}

func (r *Recorder) LogSuccess(ctx context.Context, op operation.Operation) error {
	e := r.event(op, r.collection.ImportEventCode(), OutcomeOK, "")
	return r.journal.Append(ctx, e)
}

// LogValidationError closes an import with KO. subCode refines the outcome
// detail, usually the code of the first rejection.
func (r *Recorder) LogValidationError(ctx context.Context, op operation.Operation, causes []*rejection.Cause, subCode string) error {
	e := r.event(op, r.collection.ImportEventCode(), OutcomeKO, subCode)
	e.Message = rejection.Join(causes)
	e.Detail = mustDetail(categoryDetail(causes))
	return r.journal.Append(ctx, e)
}

func (r *Recorder) LogFatal(ctx context.Context, op operation.Operation, cause error) error {
	e := r.event(op, r.collection.ImportEventCode(), OutcomeFatal, "")
	e.Message = cause.Error()
	return r.journal.Append(ctx, e)
}

// LogUpdateStarted opens an update. contractID is empty when the target
// could not be resolved.
func (r *Recorder) LogUpdateStarted(ctx context.Context, op operation.Operation, contractID string) error {
	e := r.event(op, r.collection.UpdateEventCode(), OutcomeStarted, "")
	e.ObjectIdentifier = contractID
	return r.journal.Create(ctx, e)
}

// LogUpdateSuccess closes an update with OK and the diff lines of the
// changed fields, keyed by internal id.
func (r *Recorder) LogUpdateSuccess(ctx context.Context, op operation.Operation, contractID, identifier string, diffs []contracts.Diff) error {
	e := r.event(op, r.collection.UpdateEventCode(), OutcomeOK, "")
	e.ObjectIdentifier = contractID
	e.Message = identifier
	lines := contracts.DiffLines(diffs)
	if lines == nil {
		lines = []string{}
	}
	e.Detail = mustDetail(map[string]any{"diff": map[string][]string{contractID: lines}})
	return r.journal.Append(ctx, e)
}

func (r *Recorder) LogUpdateValidationError(ctx context.Context, op operation.Operation, causes []*rejection.Cause, subCode string) error {
	e := r.event(op, r.collection.UpdateEventCode(), OutcomeKO, subCode)
	e.Message = rejection.Join(causes)
	e.Detail = mustDetail(categoryDetail(causes))
	return r.journal.Append(ctx, e)
}

func (r *Recorder) LogUpdateFatal(ctx context.Context, op operation.Operation, cause error) error {
	e := r.event(op, r.collection.UpdateEventCode(), OutcomeFatal, "")
	e.Message = cause.Error()
	return r.journal.Append(ctx, e)
}

func (r *Recorder) event(op operation.Operation, eventType string, outcome Outcome, subCode string) Event {
	detail := eventType
	if subCode != "" {
		detail += "." + subCode
	}
	detail += "." + string(outcome)

	r.logger.Debug("logbook event", append(op.LogAttrs(), "event_type", eventType, "outcome", string(outcome))...)
	return Event{
		EventID:       uuid.New().String(),
		OperationID:   op.ID,
		Tenant:        op.Tenant,
		EventType:     eventType,
		Outcome:       outcome,
		OutcomeDetail: detail,
		DateTime:      r.now().UTC(),
	}
}

// categoryDetail groups reasons by category, joined with "; ". It panics on
// a category outside the fixed vocabulary.
func categoryDetail(causes []*rejection.Cause) map[string]string {
	grouped := map[string][]string{}
	for _, c := range causes {
		if !c.Category().Valid() {
			panic(fmt.Sprintf("logbook: unknown rejection category %q", c.Category()))
		}
		key := string(c.Category())
		grouped[key] = append(grouped[key], c.Reason())
	}
	out := make(map[string]string, len(grouped))
	for k, reasons := range grouped {
		out[k] = strings.Join(reasons, "; ")
	}
	return out
}

func mustDetail(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("logbook: encode detail: %v", err))
	}
	return raw
}
