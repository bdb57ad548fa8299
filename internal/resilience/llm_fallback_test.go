package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	llmmock "github.com/lugia19/GPT-Speaker/pkg/provider/llm/mock"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("anthropic", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q", resp.Content)
	}
	if n := len(secondary.CompleteCalls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			ToolCalls: []types.ToolCall{{Name: "speak", Arguments: `{"speech_data":[]}`}},
		},
	}

	fb := NewLLMFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("anthropic", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{ToolChoice: "speak"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	calls := secondary.CompleteCalls()
	if len(calls) != 1 || calls[0].Req.ToolChoice != "speak" {
		t.Fatalf("secondary calls = %+v", calls)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("down")}, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", &llmmock.Provider{CompleteErr: errors.New("also down")})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Complete_CancelledDoesNotFailOver(t *testing.T) {
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{}}
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: context.Canceled}, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(secondary.CompleteCalls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: types.ModelCapabilities{SupportsToolCalling: true}}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("anthropic", &llmmock.Provider{})

	if !fb.Capabilities().SupportsToolCalling {
		t.Fatal("Capabilities() should report the primary's capabilities")
	}
}
