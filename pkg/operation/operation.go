// Package operation carries the correlation identity of one import or update.
package operation

import (
	"log/slog"

	"github.com/google/uuid"
)

// Operation is shared by the audit trail, the backup blob key and the
// failure report of a single create or update call.
type Operation struct {
	ID     string `json:"operation_id"`
	Tenant int    `json:"tenant"`
}

// New opens a fresh operation on tenant.
func New(tenant int) Operation {
	return Operation{ID: uuid.New().String(), Tenant: tenant}
}

// LogAttrs returns the slog attributes identifying the operation.
func (o Operation) LogAttrs() []any {
	return []any{slog.String("operation_id", o.ID), slog.Int("tenant", o.Tenant)}
}
