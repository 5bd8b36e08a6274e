package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

// schemaCache holds compiled schemas keyed by their serialized form.
// Compilation is expensive; structured calls reuse the same schema heavily.
var schemaCache sync.Map // string -> *jsonschema.Schema

// CompileSchema compiles a JSON Schema document, caching the result.
func CompileSchema(schema map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, telerr.New(telerr.CodeConfiguration, "schema is not JSON-encodable", err)
	}
	key := string(raw)

	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString("schema.json", key)
	if err != nil {
		return nil, telerr.New(telerr.CodeConfiguration, "invalid JSON schema", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateAgainstSchema checks that content parses as JSON and validates
// against schema. Failures carry CodeStructuredOutput.
func ValidateAgainstSchema(content string, schema map[string]interface{}) error {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return err
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return telerr.New(telerr.CodeStructuredOutput, "output is not valid JSON", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return telerr.New(telerr.CodeStructuredOutput, "output does not match schema", err)
	}
	return nil
}

// SchemaInstruction renders the system-prompt directive used by providers
// without native schema-constrained output.
func SchemaInstruction(schema map[string]interface{}) string {
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf(
		"You must respond with a single JSON object that validates against this JSON Schema. "+
			"Output only the JSON object, with no surrounding prose or markdown fences.\n\nSchema:\n%s",
		raw)
}

// RepairInstruction renders the follow-up directive after a validation
// failure, quoting the failure so the model can correct its output.
func RepairInstruction(validationErr error) string {
	return fmt.Sprintf(
		"Your previous response did not validate against the required schema: %v\n"+
			"Respond again with only the corrected JSON object.",
		validationErr)
}

// ExtractJSON strips the markdown fences models often wrap around JSON.
func ExtractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
