package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// logSequence disambiguates log keys written within the same nanosecond
var logSequence uint64

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.MiningJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job already exists: %s", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, tenantID, id string) (*models.MiningJob, error) {
	var job models.MiningJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return &job, nil
}

// UpdateJob persists lifecycle changes. Jobs already in a terminal state are
// immutable; updates against them are rejected.
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.MiningJob) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var current models.MiningJob
		if err := s.db.Store().TxGet(tx, job.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if current.TenantID != job.TenantID {
			return interfaces.ErrCrossTenant
		}
		if current.Status.Terminal() {
			return interfaces.ErrJobTerminal
		}
		if err := s.db.Store().TxUpdate(tx, job.ID, job); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		return nil
	})
}

func (s *JobStorage) ListJobs(ctx context.Context, tenantID string, status models.JobStatus, limit int) ([]*models.MiningJob, error) {
	query := badgerhold.Where("TenantID").Eq(tenantID)
	if status != "" {
		query = query.And("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.MiningJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.MiningJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ListJobsByStatus lists jobs across all tenants, oldest first.
func (s *JobStorage) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.MiningJob, error) {
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.MiningJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	result := make([]*models.MiningJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CompleteJobWithResults writes the terminal job update and all result rows
// in one Badger transaction. Either everything lands or nothing does, so a
// completed job can never exist without its rows.
func (s *JobStorage) CompleteJobWithResults(ctx context.Context, job *models.MiningJob, rows []*models.ResultRow) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var current models.MiningJob
		if err := s.db.Store().TxGet(tx, job.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if current.TenantID != job.TenantID {
			return interfaces.ErrCrossTenant
		}
		if current.Status.Terminal() {
			return interfaces.ErrJobTerminal
		}

		if err := s.db.Store().TxUpdate(tx, job.ID, job); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		for _, row := range rows {
			if err := s.db.Store().TxInsert(tx, row.ID, row); err != nil {
				return fmt.Errorf("failed to insert result %s: %w", row.ID, err)
			}
		}
		return nil
	})
}

func (s *JobStorage) AppendJobLog(ctx context.Context, entry *models.JobLogEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	// Timestamp plus an atomic sequence keeps keys unique under concurrent
	// writers inside the same nanosecond.
	seq := atomic.AddUint64(&logSequence, 1)
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%s_%d_%d", entry.JobID, entry.Timestamp.UnixNano(), seq)
	}

	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJobLogs(ctx context.Context, tenantID, jobID string) ([]*models.JobLogEntry, error) {
	var entries []models.JobLogEntry
	query := badgerhold.Where("JobID").Eq(jobID).And("TenantID").Eq(tenantID).SortBy("Timestamp")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}

	result := make([]*models.JobLogEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// FailStaleJobs marks jobs stuck in running longer than threshold as failed.
// Covers crashes between claiming a job and finishing it.
func (s *JobStorage) FailStaleJobs(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	count := 0

	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).And("StartedAt").Lt(cutoff)
	err := s.db.Store().UpdateMatching(&models.MiningJob{}, query, func(record interface{}) error {
		job, ok := record.(*models.MiningJob)
		if !ok {
			return fmt.Errorf("unexpected record type %T", record)
		}
		job.Status = models.JobStatusFailed
		job.Error = fmt.Sprintf("job exceeded running threshold of %s", threshold)
		job.CompletedAt = time.Now()
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	if count > 0 {
		s.logger.Warn().Int("count", count).Msg("Failed stale running jobs")
	}
	return count, nil
}

// DeleteJobsBefore purges terminal jobs older than cutoff together with
// their logs and result rows. Each job is removed in its own transaction to
// stay under Badger's batch limits.
func (s *JobStorage) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.MiningJob
	query := badgerhold.Where("Status").
		In(models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled).
		And("CreatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	deleted := 0
	for i := range jobs {
		job := &jobs[i]
		err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
			if err := s.db.Store().TxDeleteMatching(tx, &models.ResultRow{}, badgerhold.Where("JobID").Eq(job.ID)); err != nil {
				return fmt.Errorf("failed to delete results: %w", err)
			}
			if err := s.db.Store().TxDeleteMatching(tx, &models.JobLogEntry{}, badgerhold.Where("JobID").Eq(job.ID)); err != nil {
				return fmt.Errorf("failed to delete logs: %w", err)
			}
			if err := s.db.Store().TxDelete(tx, job.ID, &models.MiningJob{}); err != nil {
				return fmt.Errorf("failed to delete job: %w", err)
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to purge job %s: %w", job.ID, err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().Int("count", deleted).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Purged expired jobs")
	}
	return deleted, nil
}
