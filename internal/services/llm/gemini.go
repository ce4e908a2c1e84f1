package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"google.golang.org/genai"
)

// GeminiCompleter implements the LLMService interface using the Google
// Gemini API.
type GeminiCompleter struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewGeminiCompleter creates a Gemini-backed completion service. The timeout
// bounds each completion call.
func NewGeminiCompleter(config *common.GeminiConfig, timeout time.Duration, logger arbor.ILogger) (*GeminiCompleter, error) {
	apiKey, err := common.ResolveAPIKey("gemini_api_key", config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY, COLLIGO_GEMINI_API_KEY, or gemini.api_key in config): %w", err)
	}

	model := config.Model
	if model == "" {
		model = "gemini-3-flash-preview"
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Float64("temperature", float64(config.Temperature)).
		Dur("timeout", timeout).
		Msg("Gemini completion service initialized")

	return &GeminiCompleter{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Complete runs one single-turn completion.
func (s *GeminiCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
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

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(s.temperature),
		MaxOutputTokens: int32(maxTokens),
	}

	if system != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}

	startTime := time.Now()
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, genConfig)
	if err != nil {
		return "", classifyProviderError("Gemini", err)
	}

	// Take the first candidate that yields text.
	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini API")
	}

	s.logger.Debug().
		Str("model", s.model).
		Int("response_length", response.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini completion finished")

	return response.String(), nil
}

// Model returns the configured model identifier.
func (s *GeminiCompleter) Model() string {
	return s.model
}

// Close releases provider resources.
func (s *GeminiCompleter) Close() error {
	return nil
}
