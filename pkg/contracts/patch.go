package contracts

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Patch is a raw update request of the form
//
//	{"$action": [{"$set": {"Field": value, ...}}, ...]}
//
// Its shape is checked by the validation package before use.
type Patch map[string]any

// ParsePatch decodes a raw update request.
func ParsePatch(raw []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("contracts: parse patch: %w", err)
	}
	return p, nil
}

// SetPatch builds a single-action patch from field values.
func SetPatch(fields map[string]any) Patch {
	set := make(map[string]any, len(fields))
	for k, v := range fields {
		set[k] = v
	}
	return Patch{"$action": []any{map[string]any{"$set": set}}}
}

// FieldUpdate assigns Value to Field. Field may be a one-level dotted path
// such as "Storage.UnitStrategy".
type FieldUpdate struct {
	Field string
	Value any
}

// Updates flattens every $set action. A field set twice keeps its last value.
// The result is ordered by field name.
func (p Patch) Updates() []FieldUpdate {
	merged := map[string]any{}
	actions, _ := p["$action"].([]any)
	for _, a := range actions {
		action, _ := a.(map[string]any)
		set, _ := action["$set"].(map[string]any)
		for k, v := range set {
			merged[k] = v
		}
	}
	out := make([]FieldUpdate, 0, len(merged))
	for k, v := range merged {
		out = append(out, FieldUpdate{Field: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Diff records one changed field. Old is nil when the field was absent.
type Diff struct {
	Field string
	Old   any
	New   any
}

// Lines renders the diff in the audit trail format:
//
//	-Name : "A"
//	+Name : "B"
func (d Diff) Lines() []string {
	var out []string
	if d.Old != nil {
		out = append(out, "-"+d.Field+" : "+render(d.Old))
	}
	if d.New != nil {
		out = append(out, "+"+d.Field+" : "+render(d.New))
	}
	return out
}

// DiffLines concatenates the lines of every diff.
func DiffLines(diffs []Diff) []string {
	var out []string
	for _, d := range diffs {
		out = append(out, d.Lines()...)
	}
	return out
}

func render(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// ApplyUpdates mutates doc and returns the diffs of fields whose value
// actually changed, in update order.
func ApplyUpdates(doc Document, updates []FieldUpdate) []Diff {
	var diffs []Diff
	for _, u := range updates {
		value := normalize(u.Value)
		old, _ := lookup(doc, u.Field)
		if reflect.DeepEqual(old, value) {
			continue
		}
		assign(doc, u.Field, value)
		diffs = append(diffs, Diff{Field: u.Field, Old: old, New: value})
	}
	return diffs
}

// ReplayDiffs applies the New side of diffs to doc.
func ReplayDiffs(doc Document, diffs []Diff) {
	for _, d := range diffs {
		assign(doc, d.Field, normalize(d.New))
	}
}

func lookup(doc Document, field string) (any, bool) {
	head, tail, nested := strings.Cut(field, ".")
	if !nested {
		v, ok := doc[field]
		return v, ok
	}
	sub, _ := doc[head].(map[string]any)
	v, ok := sub[tail]
	return v, ok
}

func assign(doc Document, field string, value any) {
	head, tail, nested := strings.Cut(field, ".")
	if !nested {
		if value == nil {
			delete(doc, field)
			return
		}
		doc[field] = value
		return
	}
	sub, _ := doc[head].(map[string]any)
	if sub == nil {
		sub = map[string]any{}
		doc[head] = sub
	}
	if value == nil {
		delete(sub, tail)
		return
	}
	sub[tail] = value
}

// normalize brings a value to the shape produced by decoding JSON into any.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
