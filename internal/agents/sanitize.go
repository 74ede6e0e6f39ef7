package agents

import (
	"context"

	"aistudio/internal/llm"
)

const sanitizePrompt = `Rewrite this generation prompt to be 100% safe for
work. Focus on the clothes/product and artistic composition. Remove any
suggestive content. Return only the rewritten prompt paragraph.`

// Sanitize rewrites a prompt that was flagged pre-submission. The orchestrator
// gives the sanitized prompt one more pass through moderation before giving up.
func Sanitize(ctx context.Context, refiner llm.Refiner, prompt string) (string, error) {
	return refiner.Refine(ctx, sanitizePrompt, prompt)
}
