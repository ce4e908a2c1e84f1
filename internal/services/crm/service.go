package crm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service exposes CRM pushes over the result store. Only rows already
// promoted to the canonical store (status imported) are eligible.
type Service struct {
	store     interfaces.StorageManager
	connector interfaces.CRMConnector
	logger    arbor.ILogger
}

// NewService wires the CRM connector over the result store.
func NewService(storageManager interfaces.StorageManager, connector interfaces.CRMConnector, logger arbor.ILogger) *Service {
	return &Service{
		store:     storageManager,
		connector: connector,
		logger:    logger,
	}
}

// SubscribeToAggregationEvents wires a push to run after every aggregation
// pass, so newly imported contacts reach the CRM without operator action.
func (s *Service) SubscribeToAggregationEvents(events interfaces.EventService) error {
	if events == nil {
		return fmt.Errorf("event service is not configured")
	}
	return events.Subscribe(interfaces.EventContactsAggregated, s.onContactsAggregated)
}

func (s *Service) onContactsAggregated(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s event", event.Payload, event.Type)
	}
	jobID, _ := payload["job_id"].(string)
	tenantID, _ := payload["tenant_id"].(string)
	if jobID == "" || tenantID == "" {
		return fmt.Errorf("aggregation event missing job_id or tenant_id")
	}

	// The push must outlive the publisher's context; a blocked provider is
	// reported and retried on the next aggregation for this job.
	_, err := s.PushImported(context.WithoutCancel(ctx), tenantID, jobID)
	return err
}

// PushImported pushes a job's imported rows to the CRM. Rows still under
// review are left alone.
func (s *Service) PushImported(ctx context.Context, tenantID, jobID string) (*interfaces.PushReport, error) {
	rows, err := s.store.ResultStorage().ListResultsByJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	imported := make([]*models.ResultRow, 0, len(rows))
	for _, row := range rows {
		if row.Status == models.ResultStatusImported {
			imported = append(imported, row)
		}
	}
	if len(imported) == 0 {
		s.logger.Debug().
			Str("job_id", jobID).
			Msg("No imported rows to push")
		return &interfaces.PushReport{}, nil
	}

	report, err := s.connector.PushContacts(ctx, tenantID, imported)
	if err != nil {
		return report, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("pushed", report.Pushed).
		Int("failed", report.Failed).
		Msg("Imported contacts pushed to CRM")
	return report, nil
}
