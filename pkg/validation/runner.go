package validation

import (
	"context"
	"strings"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/rejection"
)

// Runner validates a whole import batch. Each contract is checked
// independently; the batch result collects at most one cause per contract.
type Runner struct {
	Chain Validator
}

// Run validates batch in order, normalizing and assigning the tenant of
// every contract. The returned causes are ordered by index and deduplicated
// by reason.
func (r Runner) Run(ctx context.Context, batch []contracts.Contract, vctx *Context) ([]rejection.Indexed, error) {
	var causes []rejection.Indexed
	seen := map[string]struct{}{}

	for i, c := range batch {
		cause, err := r.one(ctx, c, vctx, seen)
		if err != nil {
			return nil, err
		}
		if cause != nil {
			causes = append(causes, rejection.Indexed{Index: i, Cause: cause})
		}
	}
	return rejection.Dedupe(causes), nil
}

func (r Runner) one(ctx context.Context, c contracts.Contract, vctx *Context, seen map[string]struct{}) (*rejection.Cause, error) {
	base := c.Core()
	if base.ID != "" {
		return rejection.New(rejection.CodeIDNotAllowed, base.ID), nil
	}

	cause, err := r.Chain.Validate(ctx, c, vctx)
	if err != nil || cause != nil {
		return cause, err
	}
	base.Tenant = vctx.Tenant

	if !vctx.Slave {
		return nil, nil
	}
	base.Identifier = strings.TrimSpace(base.Identifier)
	if base.Identifier == "" {
		return rejection.New(rejection.CodeMandatoryField, "Identifier"), nil
	}
	if _, dup := seen[base.Identifier]; dup {
		return rejection.New(rejection.CodeDuplicateInRequest, base.Identifier), nil
	}
	seen[base.Identifier] = struct{}{}
	return nil, nil
}
