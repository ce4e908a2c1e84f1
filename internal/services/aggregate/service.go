// Package aggregate promotes mined result rows into the canonical person and
// affiliation store.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service is the single write entry point into the canonical store. Each
// pass considers only rows still marked new, so re-aggregating a job leaves
// the store unchanged.
type Service struct {
	store         interfaces.StorageManager
	events        interfaces.EventService
	verifyEnabled bool
	logger        arbor.ILogger
}

// NewService creates the aggregation service. When verifyEnabled is set,
// every person an import touches is routed to the verification queue.
func NewService(
	storageManager interfaces.StorageManager,
	eventService interfaces.EventService,
	verifyEnabled bool,
	logger arbor.ILogger,
) *Service {
	return &Service{
		store:         storageManager,
		events:        eventService,
		verifyEnabled: verifyEnabled,
		logger:        logger,
	}
}

// Report summarizes one aggregation pass over a job's result rows.
type Report struct {
	JobID         string `json:"job_id"`
	Rows          int    `json:"rows"`
	Persons       int    `json:"persons"`
	NewPersons    int    `json:"new_persons"`
	Affiliations  int    `json:"affiliations"`
	Verifications int    `json:"verifications"`
	Skipped       int    `json:"skipped"`
}

// SubscribeToJobEvents wires aggregation to run after every completed job.
func (s *Service) SubscribeToJobEvents() error {
	if s.events == nil {
		return fmt.Errorf("event service is not configured")
	}
	return s.events.Subscribe(interfaces.EventJobCompleted, s.onJobCompleted)
}

func (s *Service) onJobCompleted(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s event", event.Payload, event.Type)
	}
	jobID, _ := payload["job_id"].(string)
	tenantID, _ := payload["tenant_id"].(string)
	if jobID == "" || tenantID == "" {
		return fmt.Errorf("job completion event missing job_id or tenant_id")
	}

	// The import must outlive the publisher's context: rows stay new if it
	// is cut short and nothing re-triggers this job's aggregation.
	_, err := s.AggregateJob(context.WithoutCancel(ctx), tenantID, jobID)
	return err
}

// AggregateJob promotes a job's new result rows into persons and
// affiliations in one storage transaction, then routes the touched persons
// to verification when enabled. Rows already imported are left alone.
func (s *Service) AggregateJob(ctx context.Context, tenantID, jobID string) (*Report, error) {
	rows, err := s.store.ResultStorage().ListResultsByJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for job %s: %w", jobID, err)
	}

	fresh := make([]*models.ResultRow, 0, len(rows))
	for _, row := range rows {
		if row.Status == models.ResultStatusNew {
			fresh = append(fresh, row)
		}
	}

	report := &Report{JobID: jobID}
	if len(fresh) == 0 {
		s.logger.Debug().
			Str("job_id", jobID).
			Str("tenant_id", tenantID).
			Msg("No new result rows to aggregate")
		return report, nil
	}

	stats, err := s.store.ImportResults(ctx, tenantID, fresh, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to import results for job %s: %w", jobID, err)
	}

	report.Rows = stats.Rows
	report.Persons = len(stats.Persons)
	report.NewPersons = stats.NewPersons
	report.Affiliations = stats.Affiliations
	report.Skipped = stats.Skipped

	if s.verifyEnabled {
		for _, person := range stats.Persons {
			if _, err := s.store.VerificationStorage().EnqueueVerification(ctx, tenantID, person.Email, person.ID); err != nil {
				// The canonical rows are already committed; a lost enqueue
				// only delays verification until the email is seen again.
				s.logger.Warn().
					Err(err).
					Str("person_id", person.ID).
					Msg("Failed to enqueue verification")
				continue
			}
			report.Verifications++
		}
	}

	s.publish(ctx, tenantID, jobID, report)

	s.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tenantID).
		Int("rows", report.Rows).
		Int("persons", report.Persons).
		Int("new_persons", report.NewPersons).
		Int("affiliations", report.Affiliations).
		Int("verifications", report.Verifications).
		Msg("Job results aggregated")

	return report, nil
}

func (s *Service) publish(ctx context.Context, tenantID, jobID string, report *Report) {
	if s.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventContactsAggregated,
		Payload: map[string]interface{}{
			"tenant_id":    tenantID,
			"job_id":       jobID,
			"persons":      report.Persons,
			"affiliations": report.Affiliations,
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to publish aggregation event")
	}
}
