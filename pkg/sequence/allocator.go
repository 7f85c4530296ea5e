package sequence

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

// FormatIdentifier renders the n-th identifier of a sequence, e.g. AC-000001.
func FormatIdentifier(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// Allocator hands out business identifiers for accepted contracts.
type Allocator struct {
	counter Counter
}

func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

// Allocate returns one identifier per entry of supplied. In slave mode the
// supplied identifiers are returned verbatim. In master mode a single
// counter reservation covers the whole batch, so identifiers are
// consecutive.
func (a *Allocator) Allocate(ctx context.Context, tenant int, coll contracts.Collection, slave bool, supplied []string) ([]string, error) {
	if slave {
		return slices.Clone(supplied), nil
	}
	n := int64(len(supplied))
	if n == 0 {
		return nil, nil
	}
	last, err := a.counter.Increment(ctx, tenant, coll.SequenceName(), n)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		out[i] = FormatIdentifier(coll.SequenceName(), last-n+1+int64(i))
	}
	return out, nil
}

// Current reports the counter value of coll, for snapshots.
func (a *Allocator) Current(ctx context.Context, tenant int, coll contracts.Collection) (int64, error) {
	return a.counter.Current(ctx, tenant, coll.SequenceName())
}

// ModeResolver tells whether a tenant supplies its own identifiers for a
// collection.
type ModeResolver interface {
	SlaveMode(ctx context.Context, tenant int, coll contracts.Collection) (bool, error)
}

// Modes is a ModeResolver backed by a fixed configuration.
type Modes struct {
	slave map[int]map[contracts.Collection]struct{}
}

// NewModes marks the listed collections of each tenant as slave.
func NewModes(slave map[int][]contracts.Collection) *Modes {
	m := &Modes{slave: make(map[int]map[contracts.Collection]struct{}, len(slave))}
	for tenant, colls := range slave {
		set := make(map[contracts.Collection]struct{}, len(colls))
		for _, c := range colls {
			set[c] = struct{}{}
		}
		m.slave[tenant] = set
	}
	return m
}

func (m *Modes) SlaveMode(_ context.Context, tenant int, coll contracts.Collection) (bool, error) {
	_, ok := m.slave[tenant][coll]
	return ok, nil
}

// SlaveTenants lists the tenants with at least one slave collection.
func (m *Modes) SlaveTenants() []int {
	out := make([]int, 0, len(m.slave))
	for t, set := range m.slave {
		if len(set) > 0 {
			out = append(out, t)
		}
	}
	sort.Ints(out)
	return out
}
