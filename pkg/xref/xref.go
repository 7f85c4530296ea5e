// Package xref resolves identifiers owned by other referentials: agencies,
// archive units, archive profiles, storage strategies and sibling contracts.
package xref

import (
	"context"
	"sort"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

// Checker reports which of ids do not exist for tenant. The result keeps
// the input order and holds each missing identifier once.
type Checker interface {
	Missing(ctx context.Context, tenant int, ids []string) ([]string, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, tenant int, ids []string) ([]string, error)

func (f CheckerFunc) Missing(ctx context.Context, tenant int, ids []string) ([]string, error) {
	return f(ctx, tenant, ids)
}

// Set maps each reference kind to the checker that owns it.
type Set map[contracts.RefKind]Checker

// Static answers from fixed per-tenant identifier lists.
type Static struct {
	known map[int]map[string]struct{}
}

// NewStatic indexes ids by tenant.
func NewStatic(ids map[int][]string) *Static {
	s := &Static{known: make(map[int]map[string]struct{}, len(ids))}
	for tenant, list := range ids {
		set := make(map[string]struct{}, len(list))
		for _, id := range list {
			set[id] = struct{}{}
		}
		s.known[tenant] = set
	}
	return s
}

func (s *Static) Missing(_ context.Context, tenant int, ids []string) ([]string, error) {
	known := s.known[tenant]
	return filter(ids, func(id string) bool {
		_, ok := known[id]
		return ok
	}), nil
}

// Tenants lists the tenants with at least one known identifier.
func (s *Static) Tenants() []int {
	out := make([]int, 0, len(s.known))
	for t := range s.known {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// filter returns the unique ids for which found is false.
func filter(ids []string, found func(string) bool) []string {
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !found(id) {
			missing = append(missing, id)
		}
	}
	return missing
}
