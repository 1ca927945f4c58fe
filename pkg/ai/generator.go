// Package ai provides the LLM clients behind flashcard generation,
// passage explanations and pre-reading guides. Providers sit behind a
// single TextGenerator interface so the api service stays
// provider-agnostic.
package ai

import "context"

// TextGenerator produces a completion for a system/user prompt pair.
// Implementations exist for OpenAI-compatible endpoints, Gemini, and
// Ollama.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
