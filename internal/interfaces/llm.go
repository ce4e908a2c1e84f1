package interfaces

import (
	"context"
)

// LLMService defines the language-model collaborator used by the
// AI-extractor. The contract is a single-turn completion: one system prompt,
// one user block, one text response. Providers must honor a JSON-producing
// system prompt; parsing the response is the caller's responsibility.
type LLMService interface {
	// Complete generates a completion for the given system and user prompts.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - system: System prompt framing the extraction task
	//   - user: The text block to extract from
	//   - maxTokens: Response token ceiling (provider default when <= 0)
	//
	// Returns:
	//   - string: Raw model response text
	//   - error: Error if the completion fails
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)

	// Model returns the provider model identifier, for logging and job stats.
	Model() string

	// Close releases provider resources.
	Close() error
}
