package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/roster"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// ToolName is the function the model is forced to call with the extracted
// dialogue.
const ToolName = "speak"

const systemPrompt = "Your job is to act as a dialog speaker. You will extract the quoted" +
	"(in quotes) dialog from the provided input and speak it using the provided function." +
	"\nYou must NOT modify the text, only extract the dialog." +
	"\nIf a character does not has an associated voice, ignore it."

const speakPrompt = "Please speak the dialog from the previous message." +
	"\nThe characters you can choose from are:\n"

// Extractor turns narrative text into attributed dialogue lines.
//
// The roster's character names are a strong hint, not a constraint: returned
// lines may name speakers outside it. Extract returns an error wrapping
// [ErrExtractionEmpty] when the text yields no structured result.
type Extractor interface {
	Extract(ctx context.Context, text string, snap *roster.Snapshot) ([]types.DialogLine, error)
}

// ExtractorOption is a functional option for configuring an [LLMExtractor].
type ExtractorOption func(*LLMExtractor)

// WithTemperature sets the sampling temperature. Default: provider default.
func WithTemperature(t float64) ExtractorOption {
	return func(e *LLMExtractor) {
		e.temperature = t
	}
}

// WithMaxTokens caps the completion length. Default: provider default.
func WithMaxTokens(n int) ExtractorOption {
	return func(e *LLMExtractor) {
		e.maxTokens = n
	}
}

// WithProviderName labels metrics and logs. Default: "llm".
func WithProviderName(name string) ExtractorOption {
	return func(e *LLMExtractor) {
		e.providerName = name
	}
}

// WithExtractorMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithExtractorMetrics(m *observe.Metrics) ExtractorOption {
	return func(e *LLMExtractor) {
		e.metrics = m
	}
}

// LLMExtractor extracts dialogue with a language model forced to answer by
// calling the [ToolName] function.
type LLMExtractor struct {
	provider     llm.Provider
	providerName string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor returns an extractor backed by provider.
func NewLLMExtractor(provider llm.Provider, opts ...ExtractorOption) *LLMExtractor {
	e := &LLMExtractor{provider: provider, providerName: "llm"}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Extract asks the model for the quoted dialogue in text.
func (e *LLMExtractor) Extract(ctx context.Context, text string, snap *roster.Snapshot) ([]types.DialogLine, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanExtract)
	defer span.End()

	start := time.Now()
	resp, err := e.provider.Complete(ctx, e.request(text, snap))
	e.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		e.metrics.RecordProviderRequest(ctx, e.providerName, "llm", "error")
		e.metrics.RecordProviderError(ctx, e.providerName, "llm")
		return nil, fmt.Errorf("dialog: extract: %w", err)
	}
	e.metrics.RecordProviderRequest(ctx, e.providerName, "llm", "ok")

	if resp == nil || len(resp.ToolCalls) == 0 {
		return nil, fmt.Errorf("dialog: model returned no tool call: %w", ErrExtractionEmpty)
	}
	lines, err := parseSpeechData(resp.ToolCalls[0])
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("dialog: tool call carried no lines: %w", ErrExtractionEmpty)
	}
	return lines, nil
}

func (e *LLMExtractor) request(text string, snap *roster.Snapshot) llm.CompletionRequest {
	var hint strings.Builder
	hint.WriteString(speakPrompt)
	for _, entry := range snap.Entries() {
		fmt.Fprintf(&hint, "- '%s' (Gender: %s)\n", entry.CharacterName, entry.Gender)
	}

	return llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: text},
			{Role: "user", Content: hint.String()},
		},
		Tools:       []types.ToolDefinition{speakTool(snap.Names())},
		ToolChoice:  ToolName,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	}
}

// speakTool describes the function the model calls; characters restricts the
// speaker names through a JSON Schema enum.
func speakTool(characters []string) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ToolName,
		Description: "Speaks the given prompt as a chosen character.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"speech_data": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"character": map[string]any{
								"type":        "string",
								"enum":        characters,
								"description": "The name of the character speaking the line.",
							},
							"text": map[string]any{
								"type":        "string",
								"description": "The line the character should speak.",
							},
						},
					},
				},
			},
			"required": []string{"speech_data"},
		},
	}
}

type speakArgs struct {
	SpeechData []types.DialogLine `json:"speech_data"`
}

func parseSpeechData(call types.ToolCall) ([]types.DialogLine, error) {
	if call.Name != "" && call.Name != ToolName {
		return nil, fmt.Errorf("dialog: model called %q instead of %q: %w", call.Name, ToolName, ErrExtractionEmpty)
	}
	var args speakArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return nil, fmt.Errorf("dialog: decode %s arguments: %w: %w", ToolName, ErrExtractionEmpty, err)
	}
	return args.SpeechData, nil
}
