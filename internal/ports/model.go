package ports

import (
	"context"
	"errors"
)

// ErrStreamingUnsupported is returned by GenerateStream on adapters that
// only support non-streaming generation.
var ErrStreamingUnsupported = errors.New("ports: streaming generation not supported by this model adapter")

// ResponseFormat constrains how the model is asked to shape its output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = ""
	ResponseFormatJSON ResponseFormat = "json"
)

// GenerateRequest is the input to a single model call.
type GenerateRequest struct {
	SystemPrompt   string
	UserPrompt     string
	ResponseFormat ResponseFormat
	Temperature    float64 // default 0.1, see DefaultTemperature
	MaxTokens      int
}

// ToolCall is an opaque tool invocation the model requested, when the
// adapter supports tool use. devengine's core never inspects these; they
// are carried through GenerateWithMeta for adapters that need them.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Usage reports token consumption for one model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateMeta is the richer result returned by GenerateWithMeta.
type GenerateMeta struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	// RequestID correlates this call with adapter-side logs and, for
	// adapters that forward it upstream, with the provider's own
	// request tracing. Adapters that don't generate one leave it empty.
	RequestID string
}

// StreamChunk is one increment of a streamed generation.
type StreamChunk struct {
	Delta string
	Done  bool
}

// DefaultTemperature is the temperature used when a GenerateRequest leaves
// Temperature at its zero value.
const DefaultTemperature = 0.1

// Model is the code-generation capability the core depends on.
// GenerateStream is optional: adapters that cannot stream may return
// ErrStreamingUnsupported.
type Model interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	GenerateWithMeta(ctx context.Context, req GenerateRequest) (GenerateMeta, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
}
