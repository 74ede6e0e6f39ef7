package agents

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"aistudio/internal/llm"
)

const titlePrompt = `You are a creative writer. Generate a short, catchy, 3-5
word title for creative content based on the provided prompt. Return only the
title text.`

const titleMaxWords = 5

// Title derives a short display title for a finished artifact. When the LLM
// fails the title falls back to a deterministic title-cased slice of the
// brief, so a completed job never ships without one.
func Title(ctx context.Context, refiner llm.Refiner, brief string) string {
	if refiner != nil {
		if out, err := refiner.Refine(ctx, titlePrompt, brief); err == nil {
			if cleaned := strings.Trim(strings.TrimSpace(out), `"`); cleaned != "" {
				return cleaned
			}
		}
	}
	return fallbackTitle(brief)
}

func fallbackTitle(brief string) string {
	words := strings.Fields(brief)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	if len(words) == 0 {
		return "Generated Asset"
	}
	c := cases.Title(language.Und)
	return c.String(strings.Join(words, " "))
}
