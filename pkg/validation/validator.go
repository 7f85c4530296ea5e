// Package validation checks candidate contracts before they are persisted.
//
// Validators run in a fixed order and the first rejection stops the chain
// for that contract. Expected failures are returned as rejection causes;
// a non-nil error always means a collaborator could not answer.
package validation

import (
	"context"
	"time"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/rejection"
	"github.com/archivekeep/funcadmin/pkg/xref"
)

// Context is the per-operation state shared by every validator.
type Context struct {
	Tenant int
	// Slave is true when identifiers are supplied by the caller.
	Slave bool
	Now   time.Time
}

// Validator checks a single contract. It may normalize the contract in place.
type Validator interface {
	Validate(ctx context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error)
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error)

func (f Func) Validate(ctx context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error) {
	return f(ctx, c, vctx)
}

// Chain runs validators in order and stops at the first rejection.
type Chain struct {
	validators []Validator
}

func NewChain(validators ...Validator) *Chain {
	return &Chain{validators: validators}
}

func (ch *Chain) Validate(ctx context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error) {
	for _, v := range ch.validators {
		cause, err := v.Validate(ctx, c, vctx)
		if err != nil || cause != nil {
			return cause, err
		}
	}
	return nil, nil
}

// Len reports the number of validators in the chain.
func (ch *Chain) Len() int { return len(ch.validators) }

var refKinds = map[contracts.Collection][]contracts.RefKind{
	contracts.AccessContracts: {
		contracts.RefOriginatingAgencies,
		contracts.RefRootUnits,
		contracts.RefExcludedRootUnits,
		contracts.RefStorageStrategies,
	},
	contracts.IngestContracts: {
		contracts.RefArchiveProfiles,
		contracts.RefManagementContract,
		contracts.RefParentUnits,
	},
	contracts.ManagementContracts: {
		contracts.RefStorageStrategies,
	},
}

// ForCollection builds the creation chain of coll: mandatory name, then
// normalization, then one reference check per kind the variant carries,
// then the duplicate identifier check.
func ForCollection(coll contracts.Collection, checkers xref.Set, store xref.IdentifierLookup) *Chain {
	validators := []Validator{MandatoryName{}, Normalizer{}}
	for _, kind := range refKinds[coll] {
		validators = append(validators, References{Kind: kind, Checker: checkers[kind]})
	}
	validators = append(validators, DuplicateIdentifier{Store: store})
	return NewChain(validators...)
}
