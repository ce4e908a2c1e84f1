// Package crm pushes imported contacts to an external CRM over its batch
// API, authenticated with OAuth2 client credentials.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// contact is the wire shape the CRM batch endpoint accepts.
type contact struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Title   string `json:"title,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Source  string `json:"source,omitempty"`
}

type pushRequest struct {
	TenantID string    `json:"tenant_id"`
	Contacts []contact `json:"contacts"`
}

// Client posts contact batches to the CRM. The underlying http.Client
// carries a client-credentials token source that refreshes itself.
type Client struct {
	baseURL   string
	batchSize int
	client    *http.Client
}

var _ interfaces.CRMConnector = (*Client)(nil)

// NewClient builds the CRM client from configuration.
func NewClient(config *common.CRMConfig) *Client {
	batch := config.BatchSize
	if batch <= 0 {
		batch = 100
	}

	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.TokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second})
	httpClient := creds.Client(ctx)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		batchSize: batch,
		client:    httpClient,
	}
}

// PushContacts posts rows to the CRM in batches. A rejected batch is counted
// as failed and the push continues; auth and quota refusals abort with a
// ProviderError so callers can back off instead of burning the quota.
func (c *Client) PushContacts(ctx context.Context, tenantID string, rows []*models.ResultRow) (*interfaces.PushReport, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("CRM base URL is not configured")
	}

	report := &interfaces.PushReport{}
	if len(rows) == 0 {
		return report, nil
	}

	start := time.Now()
	batches := splitIntoBatches(rows, c.batchSize)

	log.Info().
		Str("tenant_id", tenantID).
		Int("contacts", len(rows)).
		Int("batches", len(batches)).
		Msg("Starting CRM push")

	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		if err := c.pushBatch(ctx, tenantID, batch); err != nil {
			var perr *interfaces.ProviderError
			if errors.As(err, &perr) {
				return report, err
			}
			report.Failed += len(batch)
			report.Errors = append(report.Errors, fmt.Sprintf("batch %d: %v", i+1, err))
			log.Error().Err(err).Int("batch", i+1).Msg("CRM batch rejected")
		} else {
			report.Pushed += len(batch)
		}
		report.Batches++

		log.Info().
			Int("batch", i+1).
			Int("of", len(batches)).
			Int("pushed", report.Pushed).
			Int("failed", report.Failed).
			Msg("CRM batch settled")
	}

	log.Info().
		Str("tenant_id", tenantID).
		Int("pushed", report.Pushed).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("CRM push complete")

	return report, nil
}

func (c *Client) pushBatch(ctx context.Context, tenantID string, rows []*models.ResultRow) error {
	contacts := make([]contact, 0, len(rows))
	for _, row := range rows {
		contacts = append(contacts, contact{
			Email:   row.Email,
			Name:    row.Name,
			Company: row.Company,
			Title:   row.Title,
			Phone:   row.Phone,
			Website: row.Website,
			Country: row.Country,
			City:    row.City,
			Source:  row.SourceURL,
		})
	}

	payload, err := json.Marshal(pushRequest{TenantID: tenantID, Contacts: contacts})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/contacts/batch", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// A refused token fetch surfaces through the oauth2 transport.
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return &interfaces.ProviderError{StatusCode: rerr.Response.StatusCode, Err: err}
		}
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case interfaces.IsBlockedStatus(resp.StatusCode):
		return &interfaces.ProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	default:
		return fmt.Errorf("CRM returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func splitIntoBatches(rows []*models.ResultRow, size int) [][]*models.ResultRow {
	if len(rows) == 0 {
		return nil
	}

	batches := make([][]*models.ResultRow, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[i:end])
	}
	return batches
}
