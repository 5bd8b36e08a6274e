package llm

// Params tunes a plain generation call.
type Params struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	// Cumulative switches streaming text chunks from incremental deltas to
	// cumulative snapshots. Non-streaming calls ignore it.
	Cumulative bool `json:"-"`
}

// DefaultParams returns the standard sampling parameters for free-form text.
func DefaultParams() Params {
	return Params{
		Temperature: 0.7,
		TopP:        1.0,
	}
}

// SchemaParams tunes a structured generation call. Deterministic sampling by
// default: schema-constrained output should not be creative.
type SchemaParams struct {
	Params

	// Schema is the JSON Schema the content must validate against.
	Schema map[string]interface{} `json:"schema"`

	// SchemaName labels the schema for providers with native schema support.
	SchemaName string `json:"schema_name,omitempty"`

	// Strict requires syntactic validity; when false the schema is advisory
	// and the content is returned unvalidated.
	Strict bool `json:"strict"`

	// MaxRepairAttempts bounds the adapter-local re-prompt budget when the
	// model emits schema-invalid output. Zero means one attempt, no repairs.
	MaxRepairAttempts int `json:"-"`
}

// DefaultSchemaParams returns deterministic, strict settings for a schema.
func DefaultSchemaParams(schema map[string]interface{}) SchemaParams {
	return SchemaParams{
		Params:            Params{Temperature: 0, TopP: 1.0},
		Schema:            schema,
		Strict:            true,
		MaxRepairAttempts: 1,
	}
}

// ToolChoice constrains whether the model may call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceNone forbids tool calls for this turn.
	ToolChoiceNone ToolChoice = "none"
)

// ToolParams tunes a tool-enabled generation call. Deterministic by default
// so tool selection is reproducible.
type ToolParams struct {
	Params

	ToolChoice ToolChoice `json:"tool_choice,omitempty"`
}

// DefaultToolParams returns deterministic settings with automatic tool choice.
func DefaultToolParams() ToolParams {
	return ToolParams{
		Params:     Params{Temperature: 0, TopP: 1.0},
		ToolChoice: ToolChoiceAuto,
	}
}
