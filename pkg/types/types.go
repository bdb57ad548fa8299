// Package types defines the shared types used across GPT Speaker packages.
//
// Providers, the resolver and the dialogue handler exchange these values. Each
// package keeps its own domain types; cross-cutting data structures live here to
// avoid circular imports.
package types

// DialogLine is one quoted line of dialogue attributed to a speaker, as
// extracted from narrative text.
type DialogLine struct {
	// Character is the speaker name as reported by the extractor. It may not
	// match any roster name verbatim.
	Character string `json:"character"`

	// Text is the spoken line.
	Text string `json:"text"`
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// VoiceProfile describes a synthetic voice offered by a TTS backend.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider"`

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool
}
