package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// PushReport summarizes one CRM push run.
type PushReport struct {
	Pushed  int      `json:"pushed"`
	Failed  int      `json:"failed"`
	Batches int      `json:"batches"`
	Errors  []string `json:"errors,omitempty"`
}

// CRMConnector is the outbound CRM collaborator. Pushes are batched and
// tenant-scoped; a failed batch never aborts the remaining batches.
type CRMConnector interface {
	PushContacts(ctx context.Context, tenantID string, rows []*models.ResultRow) (*PushReport, error)
}
