package referential

import (
	"context"
	"errors"
	"fmt"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/logger"
	"github.com/archivekeep/funcadmin/pkg/observability"
	"github.com/archivekeep/funcadmin/pkg/operation"
	"github.com/archivekeep/funcadmin/pkg/rejection"
	"github.com/archivekeep/funcadmin/pkg/store"
	"github.com/archivekeep/funcadmin/pkg/validation"
)

// UpdateContract applies patch to the contract with identifier in the
// operation tenant. A malformed patch is rejected before the operation is
// opened.
func (s *Service) UpdateContract(ctx context.Context, op operation.Operation, identifier string, patch contracts.Patch) (_ contracts.Contract, err error) {
	if err := validation.CheckPatch(patch); err != nil {
		return nil, &BadRequestError{Causes: []*rejection.Cause{rejection.New(rejection.CodeMalformedUpdate, err.Error())}}
	}

	ctx = logger.WithOperation(ctx, op)
	ctx, finish := s.tracker.TrackOperation(ctx, "contracts.update",
		observability.ContractOperation(op.Tenant, string(s.collection), op.ID)...)
	defer func() { finish(err) }()
	log := logger.FromContext(ctx, s.logger)

	current, err := s.store.FindByIdentifier(ctx, op.Tenant, s.collection, identifier)
	if err != nil {
		if startErr := s.recorder.LogUpdateStarted(ctx, op, ""); startErr != nil {
			return nil, &FatalError{Err: fmt.Errorf("log update started: %w", startErr)}
		}
		if errors.Is(err, store.ErrNotFound) {
			cause := rejection.New(rejection.CodeContractNotFound, identifier)
			if logErr := s.recorder.LogUpdateValidationError(ctx, op, []*rejection.Cause{cause}, cause.Code()); logErr != nil {
				return nil, &FatalError{OperationID: op.ID, Err: fmt.Errorf("log update error: %w", logErr)}
			}
			return nil, &NotFoundError{Identifier: identifier}
		}
		return nil, s.updateFatal(ctx, op, fmt.Errorf("find %s: %w", identifier, err))
	}

	contractID := current.ID()
	if err := s.recorder.LogUpdateStarted(ctx, op, contractID); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("log update started: %w", err)}
	}

	accepted, causes, err := s.updates.Validate(ctx, op.Tenant, current, patch.Updates())
	if err != nil {
		return nil, s.updateFatal(ctx, op, err)
	}
	if len(causes) > 0 {
		return nil, s.rejectUpdate(ctx, op, causes)
	}

	ctx = context.WithoutCancel(ctx)

	stamped := validation.Stamp(current, accepted, s.now())
	result, err := s.store.Update(ctx, op.Tenant, s.collection, contractID, stamped)
	if err != nil {
		if errors.Is(err, store.ErrSchema) {
			return nil, s.rejectUpdate(ctx, op, []*rejection.Cause{rejection.New(rejection.CodeSchema, err.Error())})
		}
		return nil, s.updateFatal(ctx, op, fmt.Errorf("update %s: %w", identifier, err))
	}

	if err := s.backups.Save(ctx, op, s.collection.UpdateEventCode(), s.collection, contractID); err != nil {
		return nil, s.updateFatal(ctx, op, err)
	}
	if err := s.recorder.LogUpdateSuccess(ctx, op, contractID, identifier, result.Diffs); err != nil {
		return nil, s.updateFatal(ctx, op, fmt.Errorf("log update success: %w", err))
	}

	updated, err := contracts.FromDocument(s.collection, result.After)
	if err != nil {
		return nil, &FatalError{OperationID: op.ID, Err: err}
	}
	log.Info("contract updated", "identifier", identifier, "changed_fields", len(result.Diffs))
	return updated, nil
}

func (s *Service) rejectUpdate(ctx context.Context, op operation.Operation, causes []*rejection.Cause) error {
	if err := s.recorder.LogUpdateValidationError(ctx, op, causes, causes[0].Code()); err != nil {
		return &FatalError{OperationID: op.ID, Err: fmt.Errorf("log update error: %w", err)}
	}
	return &BadRequestError{OperationID: op.ID, Causes: causes}
}

func (s *Service) updateFatal(ctx context.Context, op operation.Operation, cause error) error {
	log := logger.FromContext(ctx, s.logger)
	log.Error("contract update failed", "error", cause)
	if err := s.recorder.LogUpdateFatal(ctx, op, cause); err != nil {
		log.Error("failed to log fatal event", "error", err)
	}
	return &FatalError{OperationID: op.ID, Err: cause}
}
