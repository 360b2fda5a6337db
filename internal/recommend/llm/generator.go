// Package llm generates recommendation narratives with a text-completion
// model. It is the direct scoring path's narrative source; the ranking math
// never depends on it.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"vetline_backend/platform/config"
)

// RankedInput is the scored list the narrative describes. The generator only
// reads it; scores and order are fixed before it runs.
type RankedInput struct {
	Need    string
	Urgency string
	Entries []RankedEntry
}

// RankedEntry is one scored provider, already ranked.
type RankedEntry struct {
	Rank      int
	Name      string
	Score     int
	Reasoning string
}

// Generator produces recommendation summaries via the Gemini API.
type Generator struct {
	client *genai.Client
	model  string
}

// NewGenerator creates the text generator. Returns an error when the API key
// is missing or the client cannot be constructed.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (*Generator, error) {
	if !cfg.IsLLMEnabled() {
		return nil, fmt.Errorf("llm generator: no API key configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm generator: create client: %w", err)
	}
	return &Generator{client: client, model: cfg.GetLLMModel()}, nil
}

// Summarize writes a short plain-language recommendation for the ranked list.
func (g *Generator) Summarize(ctx context.Context, input RankedInput) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildSummaryPrompt(input)), nil)
	if err != nil {
		return "", fmt.Errorf("llm generator: generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("llm generator: empty completion")
	}
	return text, nil
}

func buildSummaryPrompt(input RankedInput) string {
	lines := make([]string, 0, len(input.Entries))
	for _, e := range input.Entries {
		lines = append(lines, fmt.Sprintf("%d. %s (score %d/100) - %s", e.Rank, e.Name, e.Score, e.Reasoning))
	}

	return fmt.Sprintf(`Context:
- Customer need: %s
- Urgency: %s

Ranked providers:
%s

Task:
Write a short recommendation summary for the customer.
Rules:
- 2-4 sentences of plain text, no markdown.
- Recommend the top-ranked provider and say why in the customer's terms.
- Mention an alternative only when there is more than one provider.
- Do not invent facts beyond the ranked list.
- Do not mention scores or internal terminology.
`, strings.TrimSpace(input.Need), strings.TrimSpace(input.Urgency), strings.Join(lines, "\n"))
}
