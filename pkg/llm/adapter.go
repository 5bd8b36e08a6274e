package llm

import "context"

// Adapter is the single contract every provider family implements. Callers
// never branch on provider identity; behavioral differences live entirely
// behind this interface.
//
// All methods translate provider-native failures into the unified taxonomy
// (pkg/errors) before returning. Blocking methods honor ctx cancellation.
type Adapter interface {
	// Generate performs a single-shot completion.
	Generate(ctx context.Context, model string, messages []Message, params Params) (*Response, error)

	// StructuredGenerate performs a completion whose content is guaranteed
	// syntactically valid against params.Schema when params.Strict, or fails
	// with a structured-output error once the local repair budget is spent.
	StructuredGenerate(ctx context.Context, model string, messages []Message, params SchemaParams) (*Response, error)

	// RunWithTools performs a completion that may request tool calls. The
	// native tool-call wire shape is translated into the unified ToolCall
	// list, preserving call identity for result correlation.
	RunWithTools(ctx context.Context, model string, messages []Message, tools []Tool, params ToolParams) (*Response, error)

	// Stream produces a finite, non-restartable sequence of chunks. The
	// returned channel is always closed by the producer; a terminal error
	// chunk ends the sequence instead of panicking past the consumer.
	Stream(ctx context.Context, model string, messages []Message, params Params) (<-chan StreamChunk, error)

	// StreamWithTools streams a tool-enabled completion. Tool calls are
	// accumulated and delivered complete on the terminal chunk.
	StreamWithTools(ctx context.Context, model string, messages []Message, tools []Tool, params ToolParams) (<-chan StreamChunk, error)

	// Capabilities reports what the model supports. Pure lookup, cached per
	// model name; no network call once warmed.
	Capabilities(ctx context.Context, model string) (ModelCapabilities, error)

	// Close releases pooled connections. Idempotent.
	Close() error
}
