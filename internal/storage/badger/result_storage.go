package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ResultStorage implements the ResultStorage interface for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ResultStorage) GetResult(ctx context.Context, tenantID, id string) (*models.ResultRow, error) {
	var row models.ResultRow
	if err := s.db.Store().Get(id, &row); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if row.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return &row, nil
}

func (s *ResultStorage) ListResultsByJob(ctx context.Context, tenantID, jobID string) ([]*models.ResultRow, error) {
	var rows []models.ResultRow
	query := badgerhold.Where("JobID").Eq(jobID).And("TenantID").Eq(tenantID).SortBy("Score").Reverse()
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	result := make([]*models.ResultRow, len(rows))
	for i := range rows {
		result[i] = &rows[i]
	}
	return result, nil
}

func (s *ResultStorage) ListResultsByStatus(ctx context.Context, tenantID string, status models.ResultStatus, limit int) ([]*models.ResultRow, error) {
	query := badgerhold.Where("TenantID").Eq(tenantID).And("Status").Eq(status).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.ResultRow
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list results by status: %w", err)
	}

	result := make([]*models.ResultRow, len(rows))
	for i := range rows {
		result[i] = &rows[i]
	}
	return result, nil
}

// UpdateResult persists analyst edits. Lineage fields never move: the row
// keeps its JobID, Raw snapshot and CreatedAt regardless of the payload.
func (s *ResultStorage) UpdateResult(ctx context.Context, row *models.ResultRow) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var current models.ResultRow
		if err := s.db.Store().TxGet(tx, row.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get result: %w", err)
		}
		if current.TenantID != row.TenantID {
			return interfaces.ErrCrossTenant
		}
		if row.JobID != "" && row.JobID != current.JobID {
			return fmt.Errorf("result %s: job ID is immutable", row.ID)
		}

		row.JobID = current.JobID
		row.Raw = current.Raw
		row.CreatedAt = current.CreatedAt
		if err := s.db.Store().TxUpdate(tx, row.ID, row); err != nil {
			return fmt.Errorf("failed to update result: %w", err)
		}
		return nil
	})
}

// MarkImported flips rows to imported in one transaction; a missing or
// cross-tenant ID aborts the whole batch.
func (s *ResultStorage) MarkImported(ctx context.Context, tenantID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		for _, id := range ids {
			var row models.ResultRow
			if err := s.db.Store().TxGet(tx, id, &row); err != nil {
				if err == badgerhold.ErrNotFound {
					return fmt.Errorf("result %s: %w", id, interfaces.ErrNotFound)
				}
				return fmt.Errorf("failed to get result %s: %w", id, err)
			}
			if row.TenantID != tenantID {
				return fmt.Errorf("result %s: %w", id, interfaces.ErrCrossTenant)
			}
			if row.Status == models.ResultStatusImported {
				continue
			}
			row.Status = models.ResultStatusImported
			row.ImportedAt = at
			if err := s.db.Store().TxUpdate(tx, id, &row); err != nil {
				return fmt.Errorf("failed to mark result %s imported: %w", id, err)
			}
		}
		return nil
	})
}
