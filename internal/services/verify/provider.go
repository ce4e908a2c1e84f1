// Package verify drains the durable mailbox-verification queue against an
// external validation provider and writes verdicts back onto persons.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/time/rate"
)

// retryDelay is the pause before the single retry on a 5xx or transport
// failure. Variable so tests can shorten it.
var retryDelay = 2 * time.Second

// Provider calls an HTTP mailbox-validation API. BaseURL is the full
// verification endpoint; the client appends the email as a query parameter
// and sends the API key in the X-Api-Key header. Requests are spaced by the
// configured per-minute quota.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

var _ interfaces.MailboxVerifier = (*Provider)(nil)

// NewProvider creates the provider client from the verifier configuration.
func NewProvider(config *common.VerifierConfig, logger arbor.ILogger) *Provider {
	timeout := common.DurationOr(config.RequestTimeout, 15*time.Second)
	quota := config.QuotaPerMinute
	if quota <= 0 {
		quota = 60
	}

	logger.Debug().
		Str("base_url", config.BaseURL).
		Int("quota_per_minute", quota).
		Dur("request_timeout", timeout).
		Msg("Mailbox verification provider initialized")

	return &Provider{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(quota)), 1),
		logger:  logger,
	}
}

// Verify checks one mailbox. 5xx and transport failures get a single retry;
// quota and auth refusals surface as ProviderError without retrying so the
// worker can back off instead of burning the quota further.
func (p *Provider) Verify(ctx context.Context, email string) (*interfaces.VerifyResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if p.baseURL == "" {
		return nil, fmt.Errorf("verifier base URL is not configured")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	status, body, err := p.get(ctx, email)
	if (err != nil || status >= 500) && ctx.Err() == nil {
		p.logger.Warn().
			Int("status", status).
			Err(err).
			Str("email", email).
			Msg("Verification attempt failed, retrying once")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		status, body, err = p.get(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}

	switch {
	case status == http.StatusOK:
	case interfaces.IsBlockedStatus(status):
		return nil, &interfaces.ProviderError{StatusCode: status, Err: fmt.Errorf("%s", snippet(body))}
	default:
		return nil, fmt.Errorf("verification provider returned status %d: %s", status, snippet(body))
	}

	var payload struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	verdict := payload.Status
	if verdict == "" {
		verdict = payload.Result
	}

	return &interfaces.VerifyResult{
		Status: normalizeStatus(verdict),
		Raw:    string(body),
	}, nil
}

func (p *Provider) get(ctx context.Context, email string) (int, []byte, error) {
	reqURL := p.baseURL + "?" + url.Values{"email": {email}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// normalizeStatus folds the provider vocabulary onto the canonical statuses.
// Anything unrecognized is unknown, which the store never lets overwrite a
// concrete verdict.
func normalizeStatus(s string) models.VerificationStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	switch s {
	case "ok", "valid", "deliverable":
		return models.VerificationValid
	case "invalid", "undeliverable", "bad":
		return models.VerificationInvalid
	case "catchall", "acceptall":
		return models.VerificationCatchall
	case "risky", "disposable", "roleaccount":
		return models.VerificationRisky
	default:
		return models.VerificationUnknown
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
