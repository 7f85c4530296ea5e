package referential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivekeep/funcadmin/pkg/artifacts"
	"github.com/archivekeep/funcadmin/pkg/backup"
	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/logbook"
	"github.com/archivekeep/funcadmin/pkg/operation"
	"github.com/archivekeep/funcadmin/pkg/query"
	"github.com/archivekeep/funcadmin/pkg/sequence"
	"github.com/archivekeep/funcadmin/pkg/store"
	"github.com/archivekeep/funcadmin/pkg/xref"
)

var fixed = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   store.Store
	journal *logbook.MemoryJournal
	blobs   artifacts.BlobStore
	counter *sequence.MemoryCounter
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	slave   map[int][]contracts.Collection
	store   store.Store
	blobs   func(artifacts.BlobStore) artifacts.BlobStore
	journal func(logbook.Journal) logbook.Journal
}

func withSlave(tenant int) fixtureOption {
	return func(c *fixtureConfig) {
		c.slave = map[int][]contracts.Collection{tenant: {contracts.AccessContracts}}
	}
}

func withStore(s store.Store) fixtureOption {
	return func(c *fixtureConfig) { c.store = s }
}

func withBlobs(wrap func(artifacts.BlobStore) artifacts.BlobStore) fixtureOption {
	return func(c *fixtureConfig) { c.blobs = wrap }
}

func withJournal(wrap func(logbook.Journal) logbook.Journal) fixtureOption {
	return func(c *fixtureConfig) { c.journal = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := &fixtureConfig{store: store.NewMemoryStore()}
	for _, o := range opts {
		o(cfg)
	}

	files, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	var blobs artifacts.BlobStore = files
	if cfg.blobs != nil {
		blobs = cfg.blobs(files)
	}

	counter := sequence.NewMemoryCounter()
	alloc := sequence.NewAllocator(counter)
	journal := logbook.NewMemoryJournal()
	var events logbook.Journal = journal
	if cfg.journal != nil {
		events = cfg.journal(journal)
	}
	units := xref.NewStatic(map[int][]string{0: {"U1", "U2"}, 1: {"U1"}})

	svc, err := NewService(Options{
		Collection: contracts.AccessContracts,
		Store:      cfg.store,
		Allocator:  alloc,
		Modes:      sequence.NewModes(cfg.slave),
		Checkers: xref.Set{
			contracts.RefOriginatingAgencies: xref.NewStatic(map[int][]string{0: {"AG1", "AG2"}, 1: {"AG1"}}),
			contracts.RefRootUnits:           units,
			contracts.RefExcludedRootUnits:   units,
		},
		Journal: events,
		Backups: backup.NewService(blobs, cfg.store, alloc).WithClock(func() time.Time { return fixed }),
		Clock:   func() time.Time { return fixed },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: cfg.store, journal: journal, blobs: files, counter: counter}
}

func access(name string, agencies ...string) contracts.Contract {
	c := &contracts.AccessContract{OriginatingAgencies: agencies}
	c.Name = name
	return c
}

func (f *fixture) events(t *testing.T, op operation.Operation) []logbook.Event {
	t.Helper()
	events, err := f.journal.Events(context.Background(), op.ID)
	require.NoError(t, err)
	return events
}

func (f *fixture) requireClosedOnce(t *testing.T, op operation.Operation, outcome logbook.Outcome) logbook.Event {
	t.Helper()
	events := f.events(t, op)
	require.NotEmpty(t, events)
	assert.Equal(t, logbook.OutcomeStarted, events[0].Outcome)
	terminal := logbook.Terminal(events)
	require.Len(t, terminal, 1)
	assert.Equal(t, outcome, terminal[0].Outcome)
	return terminal[0]
}

func TestCreateContracts_MasterModeSingle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := operation.New(0)

	created, err := f.svc.CreateContracts(ctx, op, []contracts.Contract{access("C1")})
	require.NoError(t, err)
	require.Len(t, created, 1)

	base := created[0].Core()
	assert.Equal(t, "AC-000001", base.Identifier)
	assert.NotEmpty(t, base.ID)
	assert.Equal(t, contracts.StatusInactive, base.Status)
	assert.Equal(t, contracts.FormatDate(fixed), base.CreationDate)

	n, err := f.store.Count(ctx, 0, contracts.AccessContracts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.requireClosedOnce(t, op, logbook.OutcomeOK)

	ok, err := f.blobs.Exists(ctx, "0/backup/"+op.ID+".json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateContracts_MasterModeOverwritesIdentifier(t *testing.T) {
	f := newFixture(t)
	c := access("C1")
	c.Core().Identifier = "MINE"

	created, err := f.svc.CreateContracts(context.Background(), operation.New(0), []contracts.Contract{c})
	require.NoError(t, err)
	assert.Equal(t, "AC-000001", created[0].Core().Identifier)
}

func TestCreateContracts_BatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := operation.New(0)

	_, err := f.svc.CreateContracts(ctx, op, []contracts.Contract{
		access("ok", "AG1"),
		access("", "AG1"),
		access("bad agency", "AG9"),
	})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Rejections, 2)
	assert.Equal(t, 1, batchErr.Rejections[0].Index)
	assert.Equal(t, "MANDATORY_FIELD", batchErr.Rejections[0].Cause.Code())
	assert.Equal(t, 2, batchErr.Rejections[1].Index)
	assert.Equal(t, "AGENCY_NOT_FOUND", batchErr.Rejections[1].Cause.Code())

	n, _ := f.store.Count(ctx, 0, contracts.AccessContracts)
	assert.Zero(t, n)
	current, _ := f.counter.Current(ctx, 0, "AC")
	assert.Zero(t, current)

	ko := f.requireClosedOnce(t, op, logbook.OutcomeKO)
	assert.Equal(t, "STP_IMPORT_ACCESS_CONTRACT.MANDATORY_FIELD.KO", ko.OutcomeDetail)
	assert.JSONEq(t, `{
		"mandatory-field": "The field Name is mandatory",
		"agency-not-found": "Originating agencies not found: AG9"
	}`, string(ko.Detail))

	ok, _ := f.blobs.Exists(ctx, "0/backup/"+op.ID+".json")
	assert.False(t, ok)
}

func TestCreateContracts_RejectsSuppliedID(t *testing.T) {
	f := newFixture(t)
	c := access("C1")
	c.Core().ID = "abc"

	_, err := f.svc.CreateContracts(context.Background(), operation.New(0), []contracts.Contract{c})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, "ID_NOT_ALLOWED", batchErr.Rejections[0].Cause.Code())
}

func TestCreateContracts_DedupesIdenticalReasons(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateContracts(context.Background(), operation.New(0), []contracts.Contract{access(""), access("")})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Rejections, 1)
}

func TestCreateContracts_SlaveMode(t *testing.T) {
	f := newFixture(t, withSlave(1))
	ctx := context.Background()

	c := access("C1")
	c.Core().Identifier = "  CUSTOM-1 "
	created, err := f.svc.CreateContracts(ctx, operation.New(1), []contracts.Contract{c})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM-1", created[0].Core().Identifier)
	current, _ := f.counter.Current(ctx, 1, "AC")
	assert.Zero(t, current, "slave mode must not consume the sequence")

	t.Run("blank identifier", func(t *testing.T) {
		op := operation.New(1)
		_, err := f.svc.CreateContracts(ctx, op, []contracts.Contract{access("C2")})
		var batchErr *BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, "MANDATORY_FIELD", batchErr.Rejections[0].Cause.Code())
		assert.Equal(t, "The field Identifier is mandatory", batchErr.Rejections[0].Cause.Reason())
		f.requireClosedOnce(t, op, logbook.OutcomeKO)
	})

	t.Run("identifier already stored", func(t *testing.T) {
		dup := access("C3")
		dup.Core().Identifier = "CUSTOM-1"
		_, err := f.svc.CreateContracts(ctx, operation.New(1), []contracts.Contract{dup})
		var batchErr *BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, "DUPLICATE_IN_DATABASE", batchErr.Rejections[0].Cause.Code())
	})

	t.Run("identifier repeated in batch", func(t *testing.T) {
		a, b := access("A"), access("B")
		a.Core().Identifier = "CUSTOM-2"
		b.Core().Identifier = "CUSTOM-2"
		_, err := f.svc.CreateContracts(ctx, operation.New(1), []contracts.Contract{a, b})
		var batchErr *BatchError
		require.ErrorAs(t, err, &batchErr)
		require.Len(t, batchErr.Rejections, 1)
		assert.Equal(t, 1, batchErr.Rejections[0].Index)
		assert.Equal(t, "DUPLICATE_IN_REQUEST", batchErr.Rejections[0].Cause.Code())
	})

	n, _ := f.store.Count(ctx, 1, contracts.AccessContracts)
	assert.Equal(t, 1, n)
}

func TestCreateContracts_ConcurrentIdentifiersAreUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers, perBatch = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]contracts.Contract, perBatch)
			for i := range batch {
				batch[i] = access(fmt.Sprintf("w%d-%d", w, i))
			}
			_, err := f.svc.CreateContracts(ctx, operation.New(0), batch)
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	docs, err := f.store.List(ctx, 0, contracts.AccessContracts)
	require.NoError(t, err)
	require.Len(t, docs, workers*perBatch)
	seen := map[string]bool{}
	for _, d := range docs {
		assert.False(t, seen[d.Identifier()], "identifier %s allocated twice", d.Identifier())
		seen[d.Identifier()] = true
	}
	assert.True(t, seen[sequence.FormatIdentifier("AC", workers*perBatch)])
}

func TestCreateContracts_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateContracts(ctx, operation.New(0), nil)
	assert.NoError(t, err)
	assert.Nil(t, created)

	_, err = f.svc.CreateContracts(ctx, operation.New(0), []contracts.Contract{nil})
	assert.ErrorIs(t, err, ErrInvalidInput)

	ingest := &contracts.IngestContract{}
	ingest.Name = "wrong"
	_, err = f.svc.CreateContracts(ctx, operation.New(0), []contracts.Contract{ingest})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, f.journal.All(), "no operation may be opened")
}

type failingInsert struct {
	*store.MemoryStore
}

func (failingInsert) InsertBatch(context.Context, int, contracts.Collection, []contracts.Document) error {
	return errors.New("connection reset")
}

func TestCreateContracts_StoreFailureIsFatal(t *testing.T) {
	f := newFixture(t, withStore(failingInsert{store.NewMemoryStore()}))
	ctx := context.Background()
	op := operation.New(0)

	_, err := f.svc.CreateContracts(ctx, op, []contracts.Contract{access("C1", "AG1")})
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, op.ID, fatal.OperationID)
	assert.ErrorContains(t, err, "connection reset")

	event := f.requireClosedOnce(t, op, logbook.OutcomeFatal)
	assert.Contains(t, event.Message, "connection reset")

	raw, err := f.blobs.Get(ctx, "report/"+op.ID+".json")
	require.NoError(t, err)
	var rep backup.Report
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Len(t, rep.Payloads, 1)
	assert.Contains(t, rep.Error, "connection reset")
}

// flakyInsert fails the first batch insert only.
type flakyInsert struct {
	*store.MemoryStore
	failed bool
}

func (f *flakyInsert) InsertBatch(ctx context.Context, tenant int, coll contracts.Collection, docs []contracts.Document) error {
	if !f.failed {
		f.failed = true
		return errors.New("connection reset")
	}
	return f.MemoryStore.InsertBatch(ctx, tenant, coll, docs)
}

func TestCreateContracts_FailureReportCanBeReplayed(t *testing.T) {
	f := newFixture(t, withStore(&flakyInsert{MemoryStore: store.NewMemoryStore()}))
	ctx := context.Background()
	op := operation.New(0)
	batch := []contracts.Contract{access("C1", "AG1")}

	_, err := f.svc.CreateContracts(ctx, op, batch)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)

	assert.Empty(t, batch[0].Core().ID, "caller payload left untouched")
	assert.Empty(t, batch[0].Core().Identifier)

	raw, err := f.blobs.Get(ctx, "report/"+op.ID+".json")
	require.NoError(t, err)
	var rep backup.Report
	require.NoError(t, json.Unmarshal(raw, &rep))
	require.Len(t, rep.Payloads, 1)

	original, err := contracts.Decode(contracts.AccessContracts, rep.Payloads[0])
	require.NoError(t, err)
	assert.Empty(t, original.Core().ID)
	assert.Empty(t, original.Core().Identifier)
	assert.Empty(t, original.Core().CreationDate)

	replayed, err := f.svc.CreateContracts(ctx, operation.New(0), []contracts.Contract{original})
	require.NoError(t, err)
	assert.Equal(t, "C1", replayed[0].Core().Name)
	assert.NotEmpty(t, replayed[0].Core().ID)

	retried, err := f.svc.CreateContracts(ctx, operation.New(0), batch)
	require.NoError(t, err)
	assert.NotEqual(t, replayed[0].Core().Identifier, retried[0].Core().Identifier)
}

// flakyJournal refuses the first OK event of eventType.
type flakyJournal struct {
	logbook.Journal
	eventType string
	failed    bool
}

func (j *flakyJournal) Append(ctx context.Context, e logbook.Event) error {
	if e.Outcome == logbook.OutcomeOK && e.EventType == j.eventType && !j.failed {
		j.failed = true
		return errors.New("journal timeout")
	}
	return j.Journal.Append(ctx, e)
}

func TestCreateContracts_SuccessEventFailureClosesFatal(t *testing.T) {
	f := newFixture(t, withJournal(func(j logbook.Journal) logbook.Journal {
		return &flakyJournal{Journal: j, eventType: contracts.AccessContracts.ImportEventCode()}
	}))
	ctx := context.Background()
	op := operation.New(0)

	_, err := f.svc.CreateContracts(ctx, op, []contracts.Contract{access("C1")})
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorContains(t, err, "journal timeout")

	n, _ := f.store.Count(ctx, 0, contracts.AccessContracts)
	assert.Equal(t, 1, n)
	event := f.requireClosedOnce(t, op, logbook.OutcomeFatal)
	assert.Contains(t, event.Message, "log success")

	ok, _ := f.blobs.Exists(ctx, "report/"+op.ID+".json")
	assert.False(t, ok, "stored contracts need no remediation report")
}

type failingBackups struct {
	artifacts.BlobStore
}

func (b failingBackups) Put(ctx context.Context, key string, data []byte) error {
	if strings.Contains(key, "/backup/") {
		return errors.New("bucket unavailable")
	}
	return b.BlobStore.Put(ctx, key, data)
}

func TestCreateContracts_BackupFailureKeepsCommittedWrite(t *testing.T) {
	f := newFixture(t, withBlobs(func(b artifacts.BlobStore) artifacts.BlobStore { return failingBackups{b} }))
	ctx := context.Background()
	op := operation.New(0)

	_, err := f.svc.CreateContracts(ctx, op, []contracts.Contract{access("C1")})
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)

	n, _ := f.store.Count(ctx, 0, contracts.AccessContracts)
	assert.Equal(t, 1, n)
	f.requireClosedOnce(t, op, logbook.OutcomeFatal)
}

type countingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	lookups int
}

func (c *countingStore) FindByIdentifiers(ctx context.Context, tenant int, coll contracts.Collection, ids []string) ([]contracts.Document, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.MemoryStore.FindByIdentifiers(ctx, tenant, coll, ids)
}

func TestCreateContracts_DuplicateCheckIsNotCached(t *testing.T) {
	counting := &countingStore{MemoryStore: store.NewMemoryStore()}
	f := newFixture(t, withSlave(1), withStore(counting))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c := access("C")
		c.Core().Identifier = "X-1"
		_, _ = f.svc.CreateContracts(ctx, operation.New(1), []contracts.Contract{c})
	}
	assert.Equal(t, 2, counting.lookups)
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Options{Collection: contracts.AccessContracts})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewService(Options{Collection: "Bogus"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFindContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active := access("A", "AG1")
	active.Core().Status = contracts.StatusActive
	_, err := f.svc.CreateContracts(ctx, operation.New(0), []contracts.Contract{active, access("B", "AG2"), access("C")})
	require.NoError(t, err)

	found, err := f.svc.FindContracts(ctx, 0, query.Query{Filter: `contract.Status == "ACTIVE" || "AG2" in contract.OriginatingAgencies`})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "A", found[0].Core().Name)
	assert.Equal(t, "B", found[1].Core().Name)

	page, err := f.svc.FindContracts(ctx, 0, query.Query{Offset: 2, Limit: 5})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "AC-000003", page[0].Core().Identifier)

	_, err = f.svc.FindContracts(ctx, 0, query.Query{Filter: "contract."})
	assert.ErrorIs(t, err, query.ErrInvalidFilter)

	other, err := f.svc.FindContracts(ctx, 1, query.Query{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFindByIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateContracts(ctx, operation.New(0), []contracts.Contract{access("C1", "AG1")})
	require.NoError(t, err)

	c, err := f.svc.FindByIdentifier(ctx, 0, "AC-000001")
	require.NoError(t, err)
	ac, ok := c.(*contracts.AccessContract)
	require.True(t, ok)
	assert.Equal(t, []string{"AG1"}, ac.OriginatingAgencies)
	assert.Equal(t, 0, ac.Tenant)

	_, err = f.svc.FindByIdentifier(ctx, 1, "AC-000001")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
