// Package rejection models the validation failures raised against
// referential contracts. Values are immutable once built.
package rejection

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the logbook vocabulary a rejection is reported under.
type Category string

const (
	CategoryMandatoryField   Category = "mandatory-field"
	CategoryFormat           Category = "format"
	CategoryDuplicate        Category = "duplicate"
	CategoryAgencyNotFound   Category = "agency-not-found"
	CategoryValidation       Category = "validation-error"
	CategoryContractNotFound Category = "contract-not-found"
	CategoryNotInEnum        Category = "not-in-enum"
	CategoryStrategy         Category = "strategy-validation"
	CategoryBadRequest       Category = "bad-request"
)

var categories = map[Category]struct{}{
	CategoryMandatoryField:   {},
	CategoryFormat:           {},
	CategoryDuplicate:        {},
	CategoryAgencyNotFound:   {},
	CategoryValidation:       {},
	CategoryContractNotFound: {},
	CategoryNotInEnum:        {},
	CategoryStrategy:         {},
	CategoryBadRequest:       {},
}

// Valid reports whether c belongs to the fixed vocabulary.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Code identifies a rejection rule and carries its message template.
type Code struct {
	Name     string
	Template string
	Category Category
}

var (
	CodeIDNotAllowed               = Code{"ID_NOT_ALLOWED", "The field #id must not be provided when creating a contract (got %s)", CategoryFormat}
	CodeMandatoryField             = Code{"MANDATORY_FIELD", "The field %s is mandatory", CategoryMandatoryField}
	CodeInvalidDate                = Code{"INVALID_DATE", "The field %s has an invalid date format: %s", CategoryFormat}
	CodeInvalidBoolean             = Code{"INVALID_BOOLEAN", "The field %s must be a boolean, got %v", CategoryFormat}
	CodeInvalidValue               = Code{"INVALID_VALUE", "The field %s has an invalid value: %v", CategoryFormat}
	CodeNotInEnum                  = Code{"NOT_IN_ENUM", "The value %v of field %s is not one of [%s]", CategoryNotInEnum}
	CodeDuplicateInDatabase        = Code{"DUPLICATE_IN_DATABASE", "The contract identifier %s already exists in database", CategoryDuplicate}
	CodeDuplicateInRequest         = Code{"DUPLICATE_IN_REQUEST", "The contract identifier %s is duplicated in the request", CategoryDuplicate}
	CodeAgencyNotFound             = Code{"AGENCY_NOT_FOUND", "Originating agencies not found: %s", CategoryAgencyNotFound}
	CodeUnitNotFound               = Code{"UNIT_NOT_FOUND", "Archive units referenced by %s not found: %s", CategoryValidation}
	CodeProfileNotFound            = Code{"PROFILE_NOT_FOUND", "Archive profiles not found: %s", CategoryValidation}
	CodeManagementContractNotFound = Code{"MANAGEMENT_CONTRACT_NOT_FOUND", "Management contracts not found: %s", CategoryValidation}
	CodeStrategyNotFound           = Code{"STRATEGY_NOT_FOUND", "Storage strategies referenced by %s not found: %s", CategoryStrategy}
	CodeImmutableField             = Code{"IMMUTABLE_FIELD", "The field %s cannot be modified", CategoryBadRequest}
	CodeContractNotFound           = Code{"CONTRACT_NOT_FOUND", "Contract %s not found", CategoryContractNotFound}
	CodeMalformedUpdate            = Code{"MALFORMED_UPDATE", "Malformed update request: %s", CategoryBadRequest}
	CodeSchema                     = Code{"SCHEMA_VIOLATION", "The document does not match the contract schema: %s", CategoryBadRequest}
)

// Cause is a single formatted rejection.
type Cause struct {
	code   Code
	reason string
}

// New formats code's template with args.
func New(code Code, args ...any) *Cause {
	return &Cause{code: code, reason: fmt.Sprintf(code.Template, args...)}
}

func (c *Cause) Code() string       { return c.code.Name }
func (c *Cause) Category() Category { return c.code.Category }
func (c *Cause) Reason() string     { return c.reason }

func (c *Cause) String() string {
	return c.code.Name + ": " + c.reason
}

// Indexed ties a cause to the position of the rejected contract in its batch.
type Indexed struct {
	Index int
	Cause *Cause
}

// Dedupe keeps the first occurrence of every reason, ordered by index.
func Dedupe(in []Indexed) []Indexed {
	sorted := make([]Indexed, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	seen := make(map[string]struct{}, len(sorted))
	out := make([]Indexed, 0, len(sorted))
	for _, r := range sorted {
		if _, ok := seen[r.Cause.reason]; ok {
			continue
		}
		seen[r.Cause.reason] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Join renders reasons in order, separated by "; ".
func Join(causes []*Cause) string {
	parts := make([]string, len(causes))
	for i, c := range causes {
		parts[i] = c.reason
	}
	return strings.Join(parts, "; ")
}

// Causes strips the indexes.
func Causes(in []Indexed) []*Cause {
	out := make([]*Cause, len(in))
	for i, r := range in {
		out[i] = r.Cause
	}
	return out
}
