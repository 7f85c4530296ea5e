package logbook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrChainBroken = errors.New("logbook: hash chain is broken")

const genesis = "genesis"

type chainedEvent struct {
	event        Event
	sequence     uint64
	previousHash string
	hash         string
}

// MemoryJournal is an in-process Journal. Entries are hash-chained in
// append order so tampering is detectable with VerifyChain.
type MemoryJournal struct {
	mu          sync.RWMutex
	entries     []*chainedEvent
	byOperation map[string][]*chainedEvent
	chainHead   string
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		byOperation: make(map[string][]*chainedEvent),
		chainHead:   genesis,
	}
}

func (j *MemoryJournal) Create(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.byOperation[e.OperationID]; exists {
		return fmt.Errorf("%w: %s", ErrOperationExists, e.OperationID)
	}
	return j.append(e)
}

func (j *MemoryJournal) Append(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	events, exists := j.byOperation[e.OperationID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, e.OperationID)
	}
	for _, prior := range events {
		if prior.event.Outcome.Terminal() {
			return fmt.Errorf("%w: %s", ErrOperationClosed, e.OperationID)
		}
	}
	return j.append(e)
}

func (j *MemoryJournal) append(e Event) error {
	entry := &chainedEvent{
		event:        e,
		sequence:     uint64(len(j.entries)) + 1,
		previousHash: j.chainHead,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return err
	}
	entry.hash = hash
	j.chainHead = hash
	j.entries = append(j.entries, entry)
	j.byOperation[e.OperationID] = append(j.byOperation[e.OperationID], entry)
	return nil
}

func (j *MemoryJournal) Events(_ context.Context, operationID string) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	entries := j.byOperation[operationID]
	out := make([]Event, len(entries))
	for i, entry := range entries {
		out[i] = entry.event
	}
	return out, nil
}

// All returns every event in append order.
func (j *MemoryJournal) All() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Event, len(j.entries))
	for i, entry := range j.entries {
		out[i] = entry.event
	}
	return out
}

// ChainHead returns the hash of the last entry.
func (j *MemoryJournal) ChainHead() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.chainHead
}

// VerifyChain recomputes every entry hash.
func (j *MemoryJournal) VerifyChain() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	expectedPrev := genesis
	for i, entry := range j.entries {
		if entry.previousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous hash %s but expected %s",
				ErrChainBroken, i, entry.previousHash, expectedPrev)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != entry.hash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.hash
	}
	return nil
}

func entryHash(entry *chainedEvent) (string, error) {
	hashable := struct {
		Sequence     uint64 `json:"sequence"`
		Event        Event  `json:"event"`
		PreviousHash string `json:"previous_hash"`
	}{
		Sequence:     entry.sequence,
		Event:        entry.event,
		PreviousHash: entry.previousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("logbook: marshal entry for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
