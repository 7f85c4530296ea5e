package validation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/rejection"
	"github.com/archivekeep/funcadmin/pkg/xref"
)

// UpdateValidator checks the field assignments of an update request against
// the current document. Every field is checked; causes accumulate.
type UpdateValidator struct {
	Collection contracts.Collection
	Checkers   xref.Set
}

// Validate returns the accepted assignments, with normalized values and
// service-managed fields removed, plus every rejection found.
func (u UpdateValidator) Validate(ctx context.Context, tenant int, current contracts.Document, updates []contracts.FieldUpdate) ([]contracts.FieldUpdate, []*rejection.Cause, error) {
	var (
		accepted []contracts.FieldUpdate
		causes   []*rejection.Cause
	)
	for _, upd := range updates {
		spec, known := u.Collection.Field(upd.Field)
		if !known {
			// Left to the store, which rejects fields outside the schema.
			accepted = append(accepted, upd)
			continue
		}
		if spec.Kind == contracts.KindManaged {
			continue
		}
		if spec.Kind == contracts.KindObject {
			sub, cs, err := u.object(ctx, tenant, current, upd)
			if err != nil {
				return nil, nil, err
			}
			accepted = append(accepted, sub...)
			causes = append(causes, cs...)
			continue
		}

		value, cause, err := u.field(ctx, tenant, current, upd.Field, spec, upd.Value)
		if err != nil {
			return nil, nil, err
		}
		if cause != nil {
			causes = append(causes, cause)
			continue
		}
		accepted = append(accepted, contracts.FieldUpdate{Field: upd.Field, Value: value})
	}
	return accepted, causes, nil
}

// object splits a nested object assignment into dotted member assignments.
func (u UpdateValidator) object(ctx context.Context, tenant int, current contracts.Document, upd contracts.FieldUpdate) ([]contracts.FieldUpdate, []*rejection.Cause, error) {
	members, ok := upd.Value.(map[string]any)
	if !ok {
		return nil, []*rejection.Cause{rejection.New(rejection.CodeInvalidValue, upd.Field, upd.Value)}, nil
	}
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		accepted []contracts.FieldUpdate
		causes   []*rejection.Cause
	)
	for _, k := range keys {
		field := upd.Field + "." + k
		spec, known := u.Collection.Field(field)
		if !known {
			accepted = append(accepted, contracts.FieldUpdate{Field: field, Value: members[k]})
			continue
		}
		value, cause, err := u.field(ctx, tenant, current, field, spec, members[k])
		if err != nil {
			return nil, nil, err
		}
		if cause != nil {
			causes = append(causes, cause)
			continue
		}
		accepted = append(accepted, contracts.FieldUpdate{Field: field, Value: value})
	}
	return accepted, causes, nil
}

func (u UpdateValidator) field(ctx context.Context, tenant int, current contracts.Document, field string, spec contracts.FieldSpec, value any) (any, *rejection.Cause, error) {
	switch spec.Kind {
	case contracts.KindImmutable:
		return nil, rejection.New(rejection.CodeImmutableField, field), nil

	case contracts.KindName:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, rejection.New(rejection.CodeMandatoryField, field), nil
		}
		return cleanText(s), nil, nil

	case contracts.KindText:
		if value == nil {
			return nil, nil, nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, rejection.New(rejection.CodeInvalidValue, field, value), nil
		}
		return cleanText(s), nil, nil

	case contracts.KindBool:
		if _, ok := value.(bool); !ok {
			return nil, rejection.New(rejection.CodeInvalidBoolean, field, value), nil
		}
		return value, nil, nil

	case contracts.KindDate:
		s, ok := value.(string)
		if !ok {
			return nil, rejection.New(rejection.CodeInvalidDate, field, fmt.Sprint(value)), nil
		}
		normalized, err := contracts.NormalizeDate(s)
		if err != nil {
			return nil, rejection.New(rejection.CodeInvalidDate, field, s), nil
		}
		return normalized, nil, nil

	case contracts.KindEnum:
		if _, isList := value.([]any); isList {
			return nil, rejection.New(rejection.CodeNotInEnum, value, field, strings.Join(spec.Allowed, ", ")), nil
		}
		if cause := enumCause(field, value, spec.Allowed); cause != nil {
			return nil, cause, nil
		}
		return value, nil, nil

	case contracts.KindEnumList:
		list, ok := toStrings(value)
		if !ok {
			return nil, rejection.New(rejection.CodeInvalidValue, field, value), nil
		}
		for _, item := range list {
			if !slices.Contains(spec.Allowed, item) {
				return nil, rejection.New(rejection.CodeNotInEnum, item, field, strings.Join(spec.Allowed, ", ")), nil
			}
		}
		return value, nil, nil

	case contracts.KindTextList:
		if _, ok := toStrings(value); !ok {
			return nil, rejection.New(rejection.CodeInvalidValue, field, value), nil
		}
		return value, nil, nil

	case contracts.KindRef:
		ids, ok := toStrings(value)
		if !ok {
			return nil, rejection.New(rejection.CodeInvalidValue, field, value), nil
		}
		cause, err := u.references(ctx, tenant, current, field, spec.Ref, ids)
		return value, cause, err
	}
	return value, nil, nil
}

// references checks only the identifiers the document does not carry yet.
func (u UpdateValidator) references(ctx context.Context, tenant int, current contracts.Document, field string, kind contracts.RefKind, ids []string) (*rejection.Cause, error) {
	existing, _ := toStrings(lookup(current, field))
	var added []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(existing, id) && !slices.Contains(added, id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}
	checker := u.Checkers[kind]
	if checker == nil {
		return nil, fmt.Errorf("validation: no checker configured for %s", kind)
	}
	missing, err := checker.Missing(ctx, tenant, added)
	if err != nil {
		return nil, fmt.Errorf("validation: check %s: %w", kind, err)
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return MissingCause(kind, field, missing), nil
}

// Stamp completes accepted assignments with the dates the service maintains:
// LastUpdate always, and the activation or deactivation date when the status
// changes and the caller did not supply one.
func Stamp(current contracts.Document, updates []contracts.FieldUpdate, now time.Time) []contracts.FieldUpdate {
	date := contracts.FormatDate(now)
	set := map[string]any{}
	for _, u := range updates {
		set[u.Field] = u.Value
	}

	out := slices.Clone(updates)
	if status, ok := set["Status"].(string); ok && status != current["Status"] {
		target := "DeactivationDate"
		if status == string(contracts.StatusActive) {
			target = "ActivationDate"
		}
		if _, explicit := set[target]; !explicit {
			out = append(out, contracts.FieldUpdate{Field: target, Value: date})
		}
	}
	return append(out, contracts.FieldUpdate{Field: "LastUpdate", Value: date})
}

func toStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case string:
		return []string{t}, true
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func lookup(doc contracts.Document, field string) any {
	head, tail, nested := strings.Cut(field, ".")
	if !nested {
		return doc[field]
	}
	sub, _ := doc[head].(map[string]any)
	return sub[tail]
}
