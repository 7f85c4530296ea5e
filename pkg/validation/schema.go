package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

const patchSchemaURL = "https://funcadmin.schemas.local/update.schema.json"

const patchSchema = `{
  "type": "object",
  "required": ["$action"],
  "properties": {
    "$action": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["$set"],
        "additionalProperties": false,
        "properties": {
          "$set": {"type": "object", "minProperties": 1}
        }
      }
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func updateSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(patchSchemaURL, strings.NewReader(patchSchema)); err != nil {
			compileErr = fmt.Errorf("update schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(patchSchemaURL)
	})
	return compiled, compileErr
}

// CheckPatch verifies the shape of an update request. A nil patch fails.
func CheckPatch(p contracts.Patch) error {
	if p == nil {
		return fmt.Errorf("update request is empty")
	}
	schema, err := updateSchema()
	if err != nil {
		return err
	}

	// The schema validator only understands values decoded from JSON.
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return fmt.Errorf("update request is not JSON: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("update request is not JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("update request rejected: %w", err)
	}
	return nil
}
