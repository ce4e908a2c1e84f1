package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// VerificationStorage implements the VerificationStorage interface for Badger
type VerificationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVerificationStorage creates a new VerificationStorage instance
func NewVerificationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VerificationStorage {
	return &VerificationStorage{
		db:     db,
		logger: logger,
	}
}

// EnqueueVerification creates a pending task unless one is already in flight
// for the same (tenant, lower(email)). The lookup and insert share one
// transaction so double submissions cannot slip through.
func (s *VerificationStorage) EnqueueVerification(ctx context.Context, tenantID, email, personID string) (*models.VerificationTask, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" || email == "" {
		return nil, fmt.Errorf("tenant ID and email are required")
	}

	var task *models.VerificationTask
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var inflight []models.VerificationTask
		query := badgerhold.Where("TenantID").Eq(tenantID).And("Email").Eq(email).
			And("Status").In(models.TaskStatusPending, models.TaskStatusProcessing).Limit(1)
		if err := s.db.Store().TxFind(tx, &inflight, query); err != nil {
			return fmt.Errorf("failed to look up in-flight task: %w", err)
		}
		if len(inflight) > 0 {
			task = &inflight[0]
			return nil
		}

		created := models.VerificationTask{
			ID:        common.NewTaskID(),
			TenantID:  tenantID,
			Email:     email,
			PersonID:  personID,
			Status:    models.TaskStatusPending,
			CreatedAt: time.Now(),
		}
		if err := s.db.Store().TxInsert(tx, created.ID, &created); err != nil {
			return fmt.Errorf("failed to enqueue verification: %w", err)
		}
		task = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimVerificationBatch flips up to n pending tasks to processing inside a
// single transaction, oldest first. Concurrent claimers serialize on the
// transaction so no task is handed out twice.
func (s *VerificationStorage) ClaimVerificationBatch(ctx context.Context, n int) ([]*models.VerificationTask, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []*models.VerificationTask
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var pending []models.VerificationTask
		query := badgerhold.Where("Status").Eq(models.TaskStatusPending).SortBy("CreatedAt").Limit(n)
		if err := s.db.Store().TxFind(tx, &pending, query); err != nil {
			return fmt.Errorf("failed to find pending tasks: %w", err)
		}

		now := time.Now()
		for i := range pending {
			task := pending[i]
			task.Status = models.TaskStatusProcessing
			task.ClaimedAt = now
			task.Attempts++
			if err := s.db.Store().TxUpdate(tx, task.ID, &task); err != nil {
				return fmt.Errorf("failed to claim task %s: %w", task.ID, err)
			}
			claimed = append(claimed, &task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteTask records the provider outcome. A task cancelled while the
// worker held it stays cancelled; the late result is dropped.
func (s *VerificationStorage) CompleteTask(ctx context.Context, task *models.VerificationTask) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var current models.VerificationTask
		if err := s.db.Store().TxGet(tx, task.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get task: %w", err)
		}
		if current.Status == models.TaskStatusCancelled {
			s.logger.Debug().Str("task_id", task.ID).Msg("Dropping result for cancelled task")
			return nil
		}

		if task.ProcessedAt.IsZero() {
			task.ProcessedAt = time.Now()
		}
		if err := s.db.Store().TxUpdate(tx, task.ID, task); err != nil {
			return fmt.Errorf("failed to complete task: %w", err)
		}
		return nil
	})
}

func (s *VerificationStorage) CancelTask(ctx context.Context, tenantID, id string) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var task models.VerificationTask
		if err := s.db.Store().TxGet(tx, id, &task); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get task: %w", err)
		}
		if task.TenantID != tenantID {
			return interfaces.ErrCrossTenant
		}
		if !task.Status.InFlight() {
			return fmt.Errorf("task %s is already %s", id, task.Status)
		}

		task.Status = models.TaskStatusCancelled
		task.ProcessedAt = time.Now()
		if err := s.db.Store().TxUpdate(tx, id, &task); err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		return nil
	})
}

func (s *VerificationStorage) GetTask(ctx context.Context, tenantID, id string) (*models.VerificationTask, error) {
	var task models.VerificationTask
	if err := s.db.Store().Get(id, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if task.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return &task, nil
}

func (s *VerificationStorage) ListTasks(ctx context.Context, tenantID string, status models.TaskStatus, limit int) ([]*models.VerificationTask, error) {
	query := badgerhold.Where("TenantID").Eq(tenantID)
	if status != "" {
		query = query.And("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var tasks []models.VerificationTask
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	result := make([]*models.VerificationTask, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

// ResetStaleTasks returns processing tasks claimed longer than age ago back
// to pending. Covers workers that died mid-verification.
func (s *VerificationStorage) ResetStaleTasks(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	count := 0

	query := badgerhold.Where("Status").Eq(models.TaskStatusProcessing).And("ClaimedAt").Lt(cutoff)
	err := s.db.Store().UpdateMatching(&models.VerificationTask{}, query, func(record interface{}) error {
		task, ok := record.(*models.VerificationTask)
		if !ok {
			return fmt.Errorf("unexpected record type %T", record)
		}
		task.Status = models.TaskStatusPending
		task.ClaimedAt = time.Time{}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale tasks: %w", err)
	}
	if count > 0 {
		s.logger.Warn().Int("count", count).Msg("Reset stale verification tasks to pending")
	}
	return count, nil
}
