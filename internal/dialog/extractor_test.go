package dialog

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/lugia19/GPT-Speaker/internal/roster"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	llmmock "github.com/lugia19/GPT-Speaker/pkg/provider/llm/mock"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

func speakCall(args string) *llm.CompletionResponse {
	return &llm.CompletionResponse{ToolCalls: []types.ToolCall{{ID: "call_1", Name: ToolName, Arguments: args}}}
}

func TestLLMExtractor_BuildsForcedToolRequest(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: speakCall(`{"speech_data":[{"character":"Alice","text":"Hi"}]}`)}
	e := NewLLMExtractor(p, WithTemperature(0.2), WithMaxTokens(512))

	if _, err := e.Extract(context.Background(), `"Hi," said Alice.`, aliceBob()); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	calls := p.CompleteCalls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	req := calls[0].Req

	if req.ToolChoice != ToolName {
		t.Errorf("ToolChoice = %q, want %q", req.ToolChoice, ToolName)
	}
	if !strings.HasPrefix(req.SystemPrompt, "Your job is to act as a dialog speaker.") {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.2 || req.MaxTokens != 512 {
		t.Errorf("sampling = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Content != `"Hi," said Alice.` {
		t.Fatalf("messages = %+v", req.Messages)
	}
	wantHint := "Please speak the dialog from the previous message.\n" +
		"The characters you can choose from are:\n" +
		"- 'Alice' (Gender: female)\n" +
		"- 'Bob' (Gender: male)\n"
	if req.Messages[1].Content != wantHint {
		t.Errorf("hint = %q, want %q", req.Messages[1].Content, wantHint)
	}

	if len(req.Tools) != 1 || req.Tools[0].Name != ToolName {
		t.Fatalf("tools = %+v", req.Tools)
	}
	props := req.Tools[0].Parameters["properties"].(map[string]any)
	items := props["speech_data"].(map[string]any)["items"].(map[string]any)
	character := items["properties"].(map[string]any)["character"].(map[string]any)
	if enum := character["enum"].([]string); !slices.Equal(enum, []string{"Alice", "Bob"}) {
		t.Errorf("enum = %v", enum)
	}
}

func TestLLMExtractor_ParsesLines(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: speakCall(
		`{"speech_data":[{"character":"Alice","text":"Hi"},{"character":"Stranger","text":"Who?"}]}`)}
	e := NewLLMExtractor(p)

	lines, err := e.Extract(context.Background(), "text", aliceBob())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []types.DialogLine{{Character: "Alice", Text: "Hi"}, {Character: "Stranger", Text: "Who?"}}
	if !slices.Equal(lines, want) {
		t.Errorf("lines = %+v, want %+v", lines, want)
	}
}

func TestLLMExtractor_EmptyResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *llm.CompletionResponse
	}{
		{name: "nil response", resp: nil},
		{name: "text only", resp: &llm.CompletionResponse{Content: "There is no dialog."}},
		{name: "empty speech data", resp: speakCall(`{"speech_data":[]}`)},
		{name: "missing speech data", resp: speakCall(`{}`)},
		{name: "malformed arguments", resp: speakCall(`{"speech_data":`)},
		{name: "wrong tool", resp: &llm.CompletionResponse{ToolCalls: []types.ToolCall{{Name: "shout", Arguments: `{}`}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := NewLLMExtractor(&llmmock.Provider{CompleteResponse: tc.resp})
			_, err := e.Extract(context.Background(), "text", aliceBob())
			if !errors.Is(err, ErrExtractionEmpty) {
				t.Errorf("err = %v, want ErrExtractionEmpty", err)
			}
		})
	}
}

func TestLLMExtractor_ProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	e := NewLLMExtractor(&llmmock.Provider{CompleteErr: boom})

	_, err := e.Extract(context.Background(), "text", roster.MustSnapshot(roster.Entry{CharacterName: "A"}))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
	if errors.Is(err, ErrExtractionEmpty) {
		t.Error("backend failure should not be reported as an empty extraction")
	}
}
