package agent

import (
	"context"
	"fmt"

	"github.com/glassbead/atris/internal/llm"
	"github.com/glassbead/atris/internal/trace"
)

const generalSystemPrompt = `You are a helpful, concise assistant. Answer the user's question directly. Use Markdown when it helps readability.`

// Claude is the general-purpose agent. It streams a single model response.
type Claude struct {
	client llm.Client
}

// NewClaude creates a Claude agent backed by client.
func NewClaude(client llm.Client) *Claude {
	return &Claude{client: client}
}

// Invoke emits on_chain_start, one on_chat_model_stream per text delta, and
// on_chain_end carrying the full response.
func (a *Claude) Invoke(ctx context.Context, input string) (trace.Stream, error) {
	return produce(ctx, func(emit func(trace.Event) error) error {
		if err := emit(trace.Start(input)); err != nil {
			return err
		}
		out, err := a.client.Stream(ctx, llm.Request{
			System: generalSystemPrompt,
			Prompt: input,
		}, func(text string) error {
			return emit(trace.Chunk(text))
		})
		if err != nil {
			return fmt.Errorf("agent: claude: %w", err)
		}
		return emit(trace.End(out))
	}), nil
}
