package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/glassbead/atris/internal/llm"
)

const classifySystemPrompt = `You are a query router. Decide which assistant should answer the user's question.

Answer "audius" if the question is about the Audius music platform: its tracks, artists, playlists, play counts, reposts, trending charts or anything else on Audius.
Answer "general" for everything else.

Reply with exactly one word: audius or general.`

// LLMClassifier asks a language model to pick the category.
type LLMClassifier struct {
	client llm.Client
}

// NewLLMClassifier creates an LLMClassifier backed by client.
func NewLLMClassifier(client llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

// Classify returns an error when the model call fails or its reply is not a
// category label.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (Category, error) {
	reply, err := c.client.Complete(ctx, llm.Request{
		System:    classifySystemPrompt,
		Prompt:    query,
		MaxTokens: 8,
	})
	if err != nil {
		return "", fmt.Errorf("router: llm classify: %w", err)
	}
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return "", fmt.Errorf("router: llm classify: empty reply")
	}
	return ParseCategory(strings.Trim(fields[0], `."'*:`))
}
