package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

type partition struct {
	tenant int
	coll   contracts.Collection
}

type memoryPartition struct {
	byID         map[string][]byte
	byIdentifier map[string]string
}

// MemoryStore keeps documents as JSON in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	parts map[partition]*memoryPartition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{parts: make(map[partition]*memoryPartition)}
}

func (s *MemoryStore) part(tenant int, coll contracts.Collection, create bool) *memoryPartition {
	key := partition{tenant: tenant, coll: coll}
	p := s.parts[key]
	if p == nil && create {
		p = &memoryPartition{byID: map[string][]byte{}, byIdentifier: map[string]string{}}
		s.parts[key] = p
	}
	return p
}

func (s *MemoryStore) InsertBatch(_ context.Context, tenant int, coll contracts.Collection, docs []contracts.Document) error {
	if err := checkBatch(coll, docs); err != nil {
		return err
	}
	encoded := make([][]byte, len(docs))
	for i, d := range docs {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", d.Identifier(), err)
		}
		encoded[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(tenant, coll, true)
	for _, d := range docs {
		if _, exists := p.byIdentifier[d.Identifier()]; exists {
			return &DuplicateError{Identifier: d.Identifier()}
		}
		if _, exists := p.byID[d.ID()]; exists {
			return fmt.Errorf("%w: id %s", ErrDuplicate, d.ID())
		}
	}
	for i, d := range docs {
		p.byID[d.ID()] = encoded[i]
		p.byIdentifier[d.Identifier()] = d.ID()
	}
	return nil
}

func (s *MemoryStore) FindByIdentifier(_ context.Context, tenant int, coll contracts.Collection, identifier string) (contracts.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.part(tenant, coll, false)
	if p == nil {
		return nil, ErrNotFound
	}
	id, ok := p.byIdentifier[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	return decode(p.byID[id])
}

func (s *MemoryStore) FindByIdentifiers(_ context.Context, tenant int, coll contracts.Collection, identifiers []string) ([]contracts.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.part(tenant, coll, false)
	if p == nil {
		return nil, nil
	}
	var out []contracts.Document
	for _, identifier := range identifiers {
		id, ok := p.byIdentifier[identifier]
		if !ok {
			continue
		}
		d, err := decode(p.byID[id])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, tenant int, coll contracts.Collection) ([]contracts.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.part(tenant, coll, false)
	if p == nil {
		return nil, nil
	}
	identifiers := make([]string, 0, len(p.byIdentifier))
	for identifier := range p.byIdentifier {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)

	out := make([]contracts.Document, 0, len(identifiers))
	for _, identifier := range identifiers {
		d, err := decode(p.byID[p.byIdentifier[identifier]])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, tenant int, coll contracts.Collection, id string, updates []contracts.FieldUpdate) (*UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(tenant, coll, false)
	if p == nil || p.byID[id] == nil {
		return nil, ErrNotFound
	}
	before, err := decode(p.byID[id])
	if err != nil {
		return nil, err
	}
	res, err := applyUpdate(coll, before, updates)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(res.After)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", id, err)
	}
	p.byID[id] = raw
	return res, nil
}

func (s *MemoryStore) Count(_ context.Context, tenant int, coll contracts.Collection) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.part(tenant, coll, false)
	if p == nil {
		return 0, nil
	}
	return len(p.byID), nil
}

func decode(raw []byte) (contracts.Document, error) {
	var d contracts.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("store: decode document: %w", err)
	}
	return d, nil
}
