package logbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// SQLJournal stores events in the logbook_events table. A partial unique
// index allows a single terminal event per operation.
type SQLJournal struct {
	db *sql.DB
}

func NewSQLJournal(db *sql.DB) *SQLJournal {
	return &SQLJournal{db: db}
}

func (j *SQLJournal) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS logbook_events (
			event_id          TEXT PRIMARY KEY,
			operation_id      TEXT NOT NULL,
			seq               INTEGER NOT NULL,
			tenant            INTEGER NOT NULL,
			event_type        TEXT NOT NULL,
			outcome           TEXT NOT NULL,
			outcome_detail    TEXT NOT NULL,
			message           TEXT NOT NULL DEFAULT '',
			object_identifier TEXT NOT NULL DEFAULT '',
			detail            TEXT,
			date_time         TEXT NOT NULL,
			UNIQUE (operation_id, seq)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS logbook_events_terminal
			ON logbook_events (operation_id) WHERE outcome IN ('OK', 'KO', 'FATAL')`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("logbook: migrate: %w", err)
		}
	}
	return nil
}

const insertEvent = `INSERT INTO logbook_events
	(event_id, operation_id, seq, tenant, event_type, outcome, outcome_detail, message, object_identifier, detail, date_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (j *SQLJournal) Create(ctx context.Context, e Event) error {
	err := j.insert(ctx, e, 1)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrOperationExists, e.OperationID)
	}
	return err
}

// appendAttempts bounds the retries when concurrent appends race for the
// same sequence number.
const appendAttempts = 5

func (j *SQLJournal) Append(ctx context.Context, e Event) error {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		count, closed, err := j.state(ctx, e.OperationID)
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownOperation, e.OperationID)
		}
		if closed {
			return fmt.Errorf("%w: %s", ErrOperationClosed, e.OperationID)
		}

		lastErr = j.insert(ctx, e, count+1)
		if !isUniqueViolation(lastErr) {
			return lastErr
		}
		// either another writer took seq count+1 or a terminal event won;
		// state tells the two apart on the next pass
	}
	return fmt.Errorf("logbook: append %s: gave up after %d attempts: %w", e.OperationID, appendAttempts, lastErr)
}

// state returns the number of events of an operation and whether one of them
// is terminal.
func (j *SQLJournal) state(ctx context.Context, operationID string) (count int, closed bool, err error) {
	rows, err := j.db.QueryContext(ctx, `SELECT outcome FROM logbook_events WHERE operation_id = $1`, operationID)
	if err != nil {
		return 0, false, fmt.Errorf("logbook: read %s: %w", operationID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return 0, false, fmt.Errorf("logbook: scan: %w", err)
		}
		count++
		closed = closed || Outcome(outcome).Terminal()
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("logbook: read %s: %w", operationID, err)
	}
	return count, closed, nil
}

func (j *SQLJournal) insert(ctx context.Context, e Event, seq int) error {
	var detail any
	if len(e.Detail) > 0 {
		detail = string(e.Detail)
	}
	_, err := j.db.ExecContext(ctx, insertEvent,
		e.EventID, e.OperationID, seq, e.Tenant, e.EventType, string(e.Outcome), e.OutcomeDetail,
		e.Message, e.ObjectIdentifier, detail, e.DateTime.UTC().Format(time.RFC3339Nano))
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("logbook: insert %s: %w", e.OperationID, err)
	}
	return err
}

func (j *SQLJournal) Events(ctx context.Context, operationID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, operation_id, tenant, event_type, outcome, outcome_detail, message, object_identifier, detail, date_time
		FROM logbook_events WHERE operation_id = $1 ORDER BY seq`, operationID)
	if err != nil {
		return nil, fmt.Errorf("logbook: query %s: %w", operationID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e        Event
			outcome  string
			detail   sql.NullString
			dateTime string
		)
		if err := rows.Scan(&e.EventID, &e.OperationID, &e.Tenant, &e.EventType, &outcome, &e.OutcomeDetail,
			&e.Message, &e.ObjectIdentifier, &detail, &dateTime); err != nil {
			return nil, fmt.Errorf("logbook: scan: %w", err)
		}
		e.Outcome = Outcome(outcome)
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		if e.DateTime, err = time.Parse(time.RFC3339Nano, dateTime); err != nil {
			return nil, fmt.Errorf("logbook: parse date_time %q: %w", dateTime, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
