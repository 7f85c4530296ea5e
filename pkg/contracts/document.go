package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchema is returned when a document cannot be decoded into its variant.
var ErrSchema = errors.New("contracts: document does not match schema")

// Field names differ between the external view and the persisted document.
const (
	externalID     = "#id"
	externalTenant = "#tenant"
	storedID       = "_id"
	storedTenant   = "_tenant"
)

// Document is the persisted, generic form of a contract.
type Document map[string]any

// ToDocument converts c to its persisted form.
func ToDocument(c Contract) (Document, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("contracts: marshal %s: %w", c.Collection(), err)
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("contracts: unmarshal %s: %w", c.Collection(), err)
	}
	rename(doc, externalID, storedID)
	rename(doc, externalTenant, storedTenant)
	return doc, nil
}

// FromDocument decodes a persisted document into a fresh variant of coll.
// Unknown fields and mistyped values yield ErrSchema.
func FromDocument(coll Collection, doc Document) (Contract, error) {
	external := doc.Clone()
	rename(external, storedID, externalID)
	rename(external, storedTenant, externalTenant)

	raw, err := json.Marshal(external)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return Decode(coll, raw)
}

// Decode strictly parses an external JSON representation of a contract.
func Decode(coll Collection, raw []byte) (Contract, error) {
	c := coll.New()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return c, nil
}

// DecodeList parses a JSON array of contracts of one collection.
func DecodeList(coll Collection, raw []byte) ([]Contract, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	out := make([]Contract, 0, len(items))
	for i, item := range items {
		c, err := Decode(coll, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Clone returns a deep copy of c.
func Clone(c Contract) Contract {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("contracts: clone %s: %v", c.Collection(), err))
	}
	out := c.Collection().New()
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Sprintf("contracts: clone %s: %v", c.Collection(), err))
	}
	return out
}

// Clone deep-copies the document through its JSON form.
func (d Document) Clone() Document {
	raw, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("contracts: clone document: %v", err))
	}
	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("contracts: clone document: %v", err))
	}
	return out
}

// Identifier returns the business identifier of the document, if any.
func (d Document) Identifier() string {
	s, _ := d["Identifier"].(string)
	return s
}

// ID returns the internal identifier of the document, if any.
func (d Document) ID() string {
	s, _ := d[storedID].(string)
	return s
}

func rename(doc Document, from, to string) {
	if v, ok := doc[from]; ok {
		delete(doc, from)
		doc[to] = v
	}
}
