package referential

import (
	"errors"
	"fmt"

	"github.com/archivekeep/funcadmin/pkg/rejection"
)

// ErrInvalidInput reports a programming error in the call itself, raised
// before any operation is opened.
var ErrInvalidInput = errors.New("referential: invalid input")

// BatchError rejects a whole import. Rejections are ordered by contract
// index and deduplicated by reason.
type BatchError struct {
	OperationID string
	Rejections  []rejection.Indexed
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("import rejected: %s", rejection.Join(rejection.Causes(e.Rejections)))
}

// BadRequestError rejects an update request.
type BadRequestError struct {
	OperationID string
	Causes      []*rejection.Cause
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("update rejected: %s", rejection.Join(e.Causes))
}

type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("contract %s not found", e.Identifier)
}

// FatalError wraps a collaborator failure. The operation was closed with a
// FATAL event when OperationID is set.
type FatalError struct {
	OperationID string
	Err         error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.OperationID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
