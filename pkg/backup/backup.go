// Package backup snapshots a contract collection after each mutation and
// keeps failure reports for imports that could not be persisted.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/archivekeep/funcadmin/pkg/artifacts"
	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/operation"
)

// DocumentSource lists the stored documents of a collection.
type DocumentSource interface {
	List(ctx context.Context, tenant int, coll contracts.Collection) ([]contracts.Document, error)
}

// CounterSource reads the current identifier sequence value.
type CounterSource interface {
	Current(ctx context.Context, tenant int, coll contracts.Collection) (int64, error)
}

// Snapshot is the blob written after a committed mutation.
type Snapshot struct {
	OperationID string               `json:"operation_id"`
	Tenant      int                  `json:"tenant"`
	EventCode   string               `json:"event_code"`
	Collection  contracts.Collection `json:"collection"`
	ReferenceID string               `json:"reference_id,omitempty"`
	Sequence    Sequence             `json:"sequence"`
	Documents   []contracts.Document `json:"documents"`
	// Digest is the SHA-256 of the JCS canonical form of Documents.
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

type Sequence struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Report preserves the payloads of a creation that failed after validation.
type Report struct {
	OperationID string               `json:"operation_id"`
	Tenant      int                  `json:"tenant"`
	Collection  contracts.Collection `json:"collection"`
	Payloads    []json.RawMessage    `json:"payloads"`
	Error       string               `json:"error"`
	CreatedAt   time.Time            `json:"created_at"`
}

type Service struct {
	blobs    artifacts.BlobStore
	docs     DocumentSource
	counters CounterSource
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(blobs artifacts.BlobStore, docs DocumentSource, counters CounterSource) *Service {
	return &Service{
		blobs:    blobs,
		docs:     docs,
		counters: counters,
		now:      time.Now,
		logger:   slog.Default().With("component", "backup"),
	}
}

// WithClock replaces the snapshot time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func BackupKey(op operation.Operation) string {
	return fmt.Sprintf("%d/backup/%s.json", op.Tenant, op.ID)
}

func ReportKey(op operation.Operation) string {
	return fmt.Sprintf("report/%s.json", op.ID)
}

// Save writes the whole tenant collection and its counter value under the
// operation key. referenceID is the internal id of an updated contract and
// empty for imports.
func (s *Service) Save(ctx context.Context, op operation.Operation, eventCode string, coll contracts.Collection, referenceID string) error {
	docs, err := s.docs.List(ctx, op.Tenant, coll)
	if err != nil {
		return fmt.Errorf("backup: list %s: %w", coll, err)
	}
	if docs == nil {
		docs = []contracts.Document{}
	}
	value, err := s.counters.Current(ctx, op.Tenant, coll)
	if err != nil {
		return fmt.Errorf("backup: read sequence %s: %w", coll.SequenceName(), err)
	}
	digest, err := Digest(docs)
	if err != nil {
		return err
	}

	snap := Snapshot{
		OperationID: op.ID,
		Tenant:      op.Tenant,
		EventCode:   eventCode,
		Collection:  coll,
		ReferenceID: referenceID,
		Sequence:    Sequence{Name: coll.SequenceName(), Value: value},
		Documents:   docs,
		Digest:      digest,
		CreatedAt:   s.now().UTC(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("backup: encode snapshot: %w", err)
	}
	key := BackupKey(op)
	if err := s.blobs.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("backup: put %s: %w", key, err)
	}

	s.logger.Info("collection snapshot saved", append(op.LogAttrs(),
		"collection", string(coll), "documents", len(docs), "key", key)...)
	return nil
}

// Report writes the failure report of an import.
func (s *Service) Report(ctx context.Context, op operation.Operation, coll contracts.Collection, payloads []contracts.Contract, cause error) error {
	rep := Report{
		OperationID: op.ID,
		Tenant:      op.Tenant,
		Collection:  coll,
		Payloads:    make([]json.RawMessage, 0, len(payloads)),
		Error:       cause.Error(),
		CreatedAt:   s.now().UTC(),
	}
	for i, c := range payloads {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("backup: encode payload %d: %w", i, err)
		}
		rep.Payloads = append(rep.Payloads, raw)
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("backup: encode report: %w", err)
	}
	key := ReportKey(op)
	if err := s.blobs.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("backup: put %s: %w", key, err)
	}
	return nil
}

// Load reads back the snapshot of an operation and checks its digest.
func (s *Service) Load(ctx context.Context, op operation.Operation) (*Snapshot, error) {
	raw, err := s.blobs.Get(ctx, BackupKey(op))
	if err != nil {
		return nil, fmt.Errorf("backup: get %s: %w", BackupKey(op), err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("backup: decode snapshot: %w", err)
	}
	digest, err := Digest(snap.Documents)
	if err != nil {
		return nil, err
	}
	if digest != snap.Digest {
		return nil, fmt.Errorf("backup: digest mismatch for %s: stored %s, computed %s", op.ID, snap.Digest, digest)
	}
	return &snap, nil
}

// Digest hashes the canonical JSON form of docs so equal collections hash
// equally regardless of key order.
func Digest(docs []contracts.Document) (string, error) {
	raw, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("backup: encode documents: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("backup: canonicalize documents: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
