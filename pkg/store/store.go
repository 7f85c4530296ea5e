// Package store persists contract documents per tenant and collection.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

var (
	ErrNotFound = errors.New("store: document not found")
	// ErrDuplicate is returned when an identifier already exists for the
	// tenant and collection. Nothing of the batch is written.
	ErrDuplicate = errors.New("store: duplicate identifier")
	// ErrSchema is returned when an update would produce a document that
	// does not decode into its contract variant.
	ErrSchema = contracts.ErrSchema
	// ErrConflict is returned when a document changed between read and write.
	ErrConflict = errors.New("store: concurrent modification")
)

// DuplicateError names the identifier that collided. It matches ErrDuplicate.
type DuplicateError struct {
	Identifier string
}

func (e *DuplicateError) Error() string {
	return ErrDuplicate.Error() + ": " + e.Identifier
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// UpdateResult describes an applied update.
type UpdateResult struct {
	Before contracts.Document
	After  contracts.Document
	Diffs  []contracts.Diff
}

// Store is the document store used by the contract service. Documents use
// the persisted field names (_id, _tenant).
type Store interface {
	// InsertBatch writes every document or none.
	InsertBatch(ctx context.Context, tenant int, coll contracts.Collection, docs []contracts.Document) error
	FindByIdentifier(ctx context.Context, tenant int, coll contracts.Collection, identifier string) (contracts.Document, error)
	FindByIdentifiers(ctx context.Context, tenant int, coll contracts.Collection, identifiers []string) ([]contracts.Document, error)
	// List returns every document of the collection ordered by identifier.
	List(ctx context.Context, tenant int, coll contracts.Collection) ([]contracts.Document, error)
	// Update applies the assignments to the document with internal id and
	// reports the fields that changed.
	Update(ctx context.Context, tenant int, coll contracts.Collection, id string, updates []contracts.FieldUpdate) (*UpdateResult, error)
	Count(ctx context.Context, tenant int, coll contracts.Collection) (int, error)
}

// checkBatch verifies that every document is insertable and that the batch
// does not repeat an identifier.
func checkBatch(coll contracts.Collection, docs []contracts.Document) error {
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if d.ID() == "" || d.Identifier() == "" {
			return fmt.Errorf("store: %s document %d lacks _id or Identifier", coll, i)
		}
		if _, dup := seen[d.Identifier()]; dup {
			return &DuplicateError{Identifier: d.Identifier()}
		}
		seen[d.Identifier()] = struct{}{}
	}
	return nil
}

// applyUpdate computes the updated document and rejects results that no
// longer decode into the collection variant.
func applyUpdate(coll contracts.Collection, before contracts.Document, updates []contracts.FieldUpdate) (*UpdateResult, error) {
	after := before.Clone()
	diffs := contracts.ApplyUpdates(after, updates)
	if _, err := contracts.FromDocument(coll, after); err != nil {
		return nil, err
	}
	return &UpdateResult{Before: before, After: after, Diffs: diffs}, nil
}
