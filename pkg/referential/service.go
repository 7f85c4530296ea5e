// Package referential creates, updates and reads the contracts of one
// collection, keeping the document store, the audit logbook and the backup
// blobs consistent for every operation.
package referential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/archivekeep/funcadmin/pkg/backup"
	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/logbook"
	"github.com/archivekeep/funcadmin/pkg/logger"
	"github.com/archivekeep/funcadmin/pkg/observability"
	"github.com/archivekeep/funcadmin/pkg/operation"
	"github.com/archivekeep/funcadmin/pkg/query"
	"github.com/archivekeep/funcadmin/pkg/rejection"
	"github.com/archivekeep/funcadmin/pkg/sequence"
	"github.com/archivekeep/funcadmin/pkg/store"
	"github.com/archivekeep/funcadmin/pkg/validation"
	"github.com/archivekeep/funcadmin/pkg/xref"
)

// Tracker measures service calls.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Options wires a Service. Queries, Tracker and Clock are optional.
type Options struct {
	Collection contracts.Collection
	Store      store.Store
	Allocator  *sequence.Allocator
	Modes      sequence.ModeResolver
	Checkers   xref.Set
	Journal    logbook.Journal
	Backups    *backup.Service
	Queries    *query.Evaluator
	Tracker    Tracker
	Clock      func() time.Time
	Logger     *slog.Logger
}

type Service struct {
	collection contracts.Collection
	store      store.Store
	allocator  *sequence.Allocator
	modes      sequence.ModeResolver
	runner     validation.Runner
	updates    validation.UpdateValidator
	recorder   *logbook.Recorder
	backups    *backup.Service
	queries    *query.Evaluator
	tracker    Tracker
	now        func() time.Time
	logger     *slog.Logger
}

func NewService(opts Options) (*Service, error) {
	if !opts.Collection.Valid() {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidInput, opts.Collection)
	}
	if opts.Store == nil || opts.Allocator == nil || opts.Modes == nil || opts.Journal == nil || opts.Backups == nil {
		return nil, fmt.Errorf("%w: store, allocator, modes, journal and backups are required", ErrInvalidInput)
	}

	s := &Service{
		collection: opts.Collection,
		store:      opts.Store,
		allocator:  opts.Allocator,
		modes:      opts.Modes,
		runner:     validation.Runner{Chain: validation.ForCollection(opts.Collection, opts.Checkers, opts.Store)},
		updates:    validation.UpdateValidator{Collection: opts.Collection, Checkers: opts.Checkers},
		recorder:   logbook.NewRecorder(opts.Journal, opts.Collection),
		backups:    opts.Backups,
		queries:    opts.Queries,
		tracker:    opts.Tracker,
		now:        opts.Clock,
		logger:     opts.Logger,
	}
	if s.queries == nil {
		q, err := query.NewEvaluator()
		if err != nil {
			return nil, err
		}
		s.queries = q
	}
	if s.tracker == nil {
		p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		s.tracker = p
	}
	if s.now == nil {
		s.now = time.Now
	} else {
		s.recorder.WithClock(s.now)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "referential", "collection", string(opts.Collection))
	return s, nil
}

// Collection returns the collection the service manages.
func (s *Service) Collection() contracts.Collection { return s.collection }

// CreateContracts validates and persists batch as one operation. Either
// every contract is stored or none is. batch itself is never modified: the
// returned copies carry the internal ids and identifiers, and a failure
// report keeps the payloads as received.
func (s *Service) CreateContracts(ctx context.Context, op operation.Operation, batch []contracts.Contract) (_ []contracts.Contract, err error) {
	if len(batch) == 0 {
		return nil, nil
	}
	for i, c := range batch {
		if c == nil {
			return nil, fmt.Errorf("%w: contract %d is nil", ErrInvalidInput, i)
		}
		if c.Collection() != s.collection {
			return nil, fmt.Errorf("%w: contract %d is a %s, service manages %s", ErrInvalidInput, i, c.Collection(), s.collection)
		}
	}

	ctx = logger.WithOperation(ctx, op)
	ctx, finish := s.tracker.TrackOperation(ctx, "contracts.import",
		append(observability.ContractOperation(op.Tenant, string(s.collection), op.ID), observability.AttrBatchSize.Int(len(batch)))...)
	defer func() { finish(err) }()
	log := logger.FromContext(ctx, s.logger)

	if err := s.recorder.LogStarted(ctx, op); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("log started: %w", err)}
	}

	slave, err := s.modes.SlaveMode(ctx, op.Tenant, s.collection)
	if err != nil {
		return nil, s.fatal(ctx, op, nil, fmt.Errorf("read identifier mode: %w", err))
	}

	accepted := make([]contracts.Contract, len(batch))
	for i, c := range batch {
		accepted[i] = contracts.Clone(c)
	}

	vctx := &validation.Context{Tenant: op.Tenant, Slave: slave, Now: s.now()}
	rejections, err := s.runner.Run(ctx, accepted, vctx)
	if err != nil {
		return nil, s.fatal(ctx, op, nil, err)
	}
	if len(rejections) > 0 {
		return nil, s.reject(ctx, op, rejections)
	}

	// Past this point the operation runs to completion.
	ctx = context.WithoutCancel(ctx)

	supplied := make([]string, len(accepted))
	for i, c := range accepted {
		supplied[i] = c.Core().Identifier
	}
	ids, err := s.allocator.Allocate(ctx, op.Tenant, s.collection, slave, supplied)
	if err != nil {
		return nil, s.fatal(ctx, op, batch, fmt.Errorf("allocate identifiers: %w", err))
	}

	docs := make([]contracts.Document, len(accepted))
	for i, c := range accepted {
		base := c.Core()
		base.ID = uuid.New().String()
		base.Identifier = ids[i]
		doc, err := contracts.ToDocument(c)
		if err != nil {
			return nil, s.fatal(ctx, op, batch, err)
		}
		docs[i] = doc
	}

	if err := s.store.InsertBatch(ctx, op.Tenant, s.collection, docs); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, s.reject(ctx, op, duplicateRejections(accepted, err))
		}
		return nil, s.fatal(ctx, op, batch, fmt.Errorf("insert batch: %w", err))
	}
	if err := s.backups.Save(ctx, op, s.collection.BackupEventCode(), s.collection, ""); err != nil {
		return nil, s.fatal(ctx, op, batch, err)
	}
	if err := s.recorder.LogSuccess(ctx, op); err != nil {
		// the contracts are stored: the report would only invite a replay
		return nil, s.fatal(ctx, op, nil, fmt.Errorf("log success: %w", err))
	}

	log.Info("contracts imported", "count", len(accepted), "slave", slave)
	return accepted, nil
}

// duplicateRejections maps a store uniqueness failure that slipped past
// validation onto the contract carrying the identifier.
func duplicateRejections(batch []contracts.Contract, err error) []rejection.Indexed {
	var dup *store.DuplicateError
	if !errors.As(err, &dup) {
		return []rejection.Indexed{{Index: 0, Cause: rejection.New(rejection.CodeDuplicateInDatabase, err.Error())}}
	}
	for i, c := range batch {
		if c.Core().Identifier == dup.Identifier {
			return []rejection.Indexed{{Index: i, Cause: rejection.New(rejection.CodeDuplicateInDatabase, dup.Identifier)}}
		}
	}
	return []rejection.Indexed{{Index: 0, Cause: rejection.New(rejection.CodeDuplicateInDatabase, dup.Identifier)}}
}

// reject closes the operation with KO. The first rejection code refines the
// outcome detail.
func (s *Service) reject(ctx context.Context, op operation.Operation, rejections []rejection.Indexed) error {
	causes := rejection.Causes(rejections)
	if err := s.recorder.LogValidationError(ctx, op, causes, causes[0].Code()); err != nil {
		return &FatalError{OperationID: op.ID, Err: fmt.Errorf("log validation error: %w", err)}
	}
	logger.FromContext(ctx, s.logger).Info("contracts rejected", "rejections", len(rejections))
	return &BatchError{OperationID: op.ID, Rejections: rejections}
}

// fatal closes the operation with FATAL. When payloads is set a failure
// report preserves them for remediation.
func (s *Service) fatal(ctx context.Context, op operation.Operation, payloads []contracts.Contract, cause error) error {
	log := logger.FromContext(ctx, s.logger)
	log.Error("contract operation failed", "error", cause)

	if err := s.recorder.LogFatal(ctx, op, cause); err != nil {
		log.Error("failed to log fatal event", "error", err)
	}
	if payloads != nil {
		if err := s.backups.Report(ctx, op, s.collection, payloads, cause); err != nil {
			log.Error("failed to write failure report", "error", err)
		}
	}
	return &FatalError{OperationID: op.ID, Err: cause}
}
