package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/rejection"
	"github.com/archivekeep/funcadmin/pkg/xref"
)

// MandatoryName rejects contracts without a name.
type MandatoryName struct{}

func (MandatoryName) Validate(_ context.Context, c contracts.Contract, _ *Context) (*rejection.Cause, error) {
	if strings.TrimSpace(c.Core().Name) == "" {
		return rejection.New(rejection.CodeMandatoryField, "Name"), nil
	}
	return nil, nil
}

// Normalizer canonicalizes text, enums and dates in place and stamps the
// creation and update dates.
type Normalizer struct{}

func (Normalizer) Validate(_ context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error) {
	base := c.Core()
	base.Name = cleanText(base.Name)
	base.Description = cleanText(base.Description)

	if base.Status == "" {
		base.Status = contracts.StatusInactive
	}
	c.ApplyDefaults()
	if cause, err := checkEnums(c); cause != nil || err != nil {
		return cause, err
	}

	for _, f := range []struct {
		name  string
		value *string
	}{
		{"CreationDate", &base.CreationDate},
		{"LastUpdate", &base.LastUpdate},
		{"ActivationDate", &base.ActivationDate},
		{"DeactivationDate", &base.DeactivationDate},
	} {
		if *f.value == "" {
			continue
		}
		normalized, err := contracts.NormalizeDate(*f.value)
		if err != nil {
			return rejection.New(rejection.CodeInvalidDate, f.name, *f.value), nil
		}
		*f.value = normalized
	}

	now := contracts.FormatDate(vctx.Now)
	switch base.Status {
	case contracts.StatusActive:
		if base.ActivationDate == "" {
			base.ActivationDate = now
		}
	case contracts.StatusInactive:
		if base.DeactivationDate == "" {
			base.DeactivationDate = now
		}
	}
	if base.CreationDate == "" {
		base.CreationDate = now
	}
	base.LastUpdate = now
	return nil, nil
}

func checkEnums(c contracts.Contract) (*rejection.Cause, error) {
	doc, err := contracts.ToDocument(c)
	if err != nil {
		return nil, err
	}
	enums := c.Collection().EnumFields()
	fields := make([]string, 0, len(enums))
	for f := range enums {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	for _, field := range fields {
		value, ok := doc[field]
		if !ok {
			continue
		}
		if cause := enumCause(field, value, enums[field]); cause != nil {
			return cause, nil
		}
	}
	return nil, nil
}

// enumCause checks a scalar enum or every item of an enum list.
func enumCause(field string, value any, allowed []string) *rejection.Cause {
	items, isList := value.([]any)
	if !isList {
		items = []any{value}
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok || !slices.Contains(allowed, s) {
			return rejection.New(rejection.CodeNotInEnum, item, field, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// References checks that every identifier of one reference kind exists.
type References struct {
	Kind    contracts.RefKind
	Checker xref.Checker
}

func (r References) Validate(ctx context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error) {
	ids := c.References()[r.Kind]
	if len(ids) == 0 {
		return nil, nil
	}
	if r.Checker == nil {
		return nil, fmt.Errorf("validation: no checker configured for %s", r.Kind)
	}
	missing, err := r.Checker.Missing(ctx, vctx.Tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("validation: check %s: %w", r.Kind, err)
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return MissingCause(r.Kind, string(r.Kind), missing), nil
}

// MissingCause builds the rejection reported for identifiers of kind that
// were not found. field names the contract field that referenced them.
func MissingCause(kind contracts.RefKind, field string, missing []string) *rejection.Cause {
	joined := strings.Join(missing, ", ")
	switch kind {
	case contracts.RefOriginatingAgencies:
		return rejection.New(rejection.CodeAgencyNotFound, joined)
	case contracts.RefArchiveProfiles:
		return rejection.New(rejection.CodeProfileNotFound, joined)
	case contracts.RefManagementContract:
		return rejection.New(rejection.CodeManagementContractNotFound, joined)
	case contracts.RefStorageStrategies:
		return rejection.New(rejection.CodeStrategyNotFound, field, joined)
	default:
		return rejection.New(rejection.CodeUnitNotFound, field, joined)
	}
}

// DuplicateIdentifier rejects a caller-supplied identifier that already
// exists for the tenant. It only applies in slave mode and always queries
// the store.
type DuplicateIdentifier struct {
	Store xref.IdentifierLookup
}

func (d DuplicateIdentifier) Validate(ctx context.Context, c contracts.Contract, vctx *Context) (*rejection.Cause, error) {
	identifier := strings.TrimSpace(c.Core().Identifier)
	if !vctx.Slave || identifier == "" {
		return nil, nil
	}
	if d.Store == nil {
		return nil, fmt.Errorf("validation: no store configured for duplicate check")
	}
	docs, err := d.Store.FindByIdentifiers(ctx, vctx.Tenant, c.Collection(), []string{identifier})
	if err != nil {
		return nil, fmt.Errorf("validation: duplicate check: %w", err)
	}
	if len(docs) > 0 {
		return rejection.New(rejection.CodeDuplicateInDatabase, identifier), nil
	}
	return nil, nil
}
