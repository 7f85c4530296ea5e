package xref

import (
	"context"
	"fmt"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

// IdentifierLookup is the slice of the document store ContractIndex needs.
type IdentifierLookup interface {
	FindByIdentifiers(ctx context.Context, tenant int, coll contracts.Collection, identifiers []string) ([]contracts.Document, error)
}

// ContractIndex checks identifiers against another contract collection,
// e.g. the management contract referenced by an ingest contract.
type ContractIndex struct {
	store      IdentifierLookup
	collection contracts.Collection
}

func NewContractIndex(store IdentifierLookup, coll contracts.Collection) *ContractIndex {
	return &ContractIndex{store: store, collection: coll}
}

func (c *ContractIndex) Missing(ctx context.Context, tenant int, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := c.store.FindByIdentifiers(ctx, tenant, c.collection, ids)
	if err != nil {
		return nil, fmt.Errorf("xref: lookup %s: %w", c.collection, err)
	}
	found := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		found[d.Identifier()] = struct{}{}
	}
	return filter(ids, func(id string) bool {
		_, ok := found[id]
		return ok
	}), nil
}
