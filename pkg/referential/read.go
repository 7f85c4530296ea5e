package referential

import (
	"context"
	"errors"
	"fmt"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/query"
	"github.com/archivekeep/funcadmin/pkg/store"
)

func (s *Service) FindByIdentifier(ctx context.Context, tenant int, identifier string) (contracts.Contract, error) {
	doc, err := s.store.FindByIdentifier(ctx, tenant, s.collection, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Identifier: identifier}
	}
	if err != nil {
		return nil, fmt.Errorf("referential: find %s: %w", identifier, err)
	}
	return contracts.FromDocument(s.collection, doc)
}

// FindContracts returns the contracts of tenant matching q, ordered by
// identifier.
func (s *Service) FindContracts(ctx context.Context, tenant int, q query.Query) ([]contracts.Contract, error) {
	docs, err := s.store.List(ctx, tenant, s.collection)
	if err != nil {
		return nil, fmt.Errorf("referential: list %s: %w", s.collection, err)
	}
	matched, err := s.queries.Apply(docs, q)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.Contract, 0, len(matched))
	for _, d := range matched {
		c, err := contracts.FromDocument(s.collection, d)
		if err != nil {
			return nil, fmt.Errorf("referential: decode %s: %w", d.Identifier(), err)
		}
		out = append(out, c)
	}
	return out, nil
}
