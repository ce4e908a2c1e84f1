package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// ClaudeCompleter implements the LLMService interface using the Anthropic
// Claude API. Extraction wants deterministic, low-temperature completions.
type ClaudeCompleter struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewClaudeCompleter creates a Claude-backed completion service. The timeout
// bounds each completion call; extraction prompts are one block each.
func NewClaudeCompleter(config *common.ClaudeConfig, timeout time.Duration, logger arbor.ILogger) (*ClaudeCompleter, error) {
	apiKey, err := common.ResolveAPIKey("claude_api_key", config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY, COLLIGO_CLAUDE_API_KEY, or claude.api_key in config): %w", err)
	}

	model := config.Model
	if model == "" {
		model = "claude-haiku-3-5-20241022"
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Float64("temperature", float64(config.Temperature)).
		Dur("timeout", timeout).
		Msg("Claude completion service initialized")

	return &ClaudeCompleter{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Complete runs one single-turn completion.
func (s *ClaudeCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("user prompt cannot be empty")
	}
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}

	if s.temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.temperature))
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	startTime := time.Now()
	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyProviderError("Claude", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	s.logger.Debug().
		Str("model", s.model).
		Int("response_length", response.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Claude completion finished")

	return response.String(), nil
}

// Model returns the configured model identifier.
func (s *ClaudeCompleter) Model() string {
	return s.model
}

// Close releases provider resources.
func (s *ClaudeCompleter) Close() error {
	return nil
}
