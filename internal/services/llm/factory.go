package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// NewService creates the configured completion provider. Each completion
// call is bounded by the configured per-block timeout.
func NewService(config *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	timeout := common.DurationOr(config.LLM.BlockTimeout, 10*time.Second)

	switch config.LLM.DefaultProvider {
	case common.LLMProviderGemini:
		return NewGeminiCompleter(&config.Gemini, timeout, logger)
	case common.LLMProviderClaude, "":
		return NewClaudeCompleter(&config.Claude, timeout, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.LLM.DefaultProvider)
	}
}

// classifyProviderError maps an SDK failure onto the HTTP status callers use
// to tell a blocked provider (401/403/429) from a broken one. Both SDKs
// surface quota and auth failures as message text, so classification matches
// on the provider's status vocabulary.
func classifyProviderError(provider string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota"):
		return &interfaces.ProviderError{StatusCode: 429, Err: err}
	case strings.Contains(msg, "403") ||
		strings.Contains(msg, "PERMISSION_DENIED"):
		return &interfaces.ProviderError{StatusCode: 403, Err: err}
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "UNAUTHENTICATED") ||
		strings.Contains(msg, "authentication_error"):
		return &interfaces.ProviderError{StatusCode: 401, Err: err}
	}
	return fmt.Errorf("%s API call failed: %w", provider, err)
}
