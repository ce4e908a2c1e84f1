package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// logSequence disambiguates log keys written within the same nanosecond
var logSequence uint64

// JobStorage implements the JobStorage interface for Postgres
type JobStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *PostgresDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, tenant_id, type, source_url, file_name, input, miners, status, error, stats, result_count, created_at, started_at, completed_at`

// nullTime maps zero times to SQL NULL
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanJob(row interface{ Scan(...interface{}) error }) (*models.MiningJob, error) {
	j := &models.MiningJob{}
	var minersJSON, statsJSON []byte
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Type, &j.SourceURL, &j.FileName, &j.Input,
		&minersJSON, &j.Status, &j.Error, &statsJSON, &j.ResultCount,
		&j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(minersJSON) > 0 {
		if err := json.Unmarshal(minersJSON, &j.Miners); err != nil {
			return nil, fmt.Errorf("decode miners: %w", err)
		}
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &j.Stats); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
	}
	if startedAt.Valid {
		j.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = completedAt.Time
	}
	return j, nil
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.MiningJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	minersJSON, err := json.Marshal(job.Miners)
	if err != nil {
		return fmt.Errorf("encode miners: %w", err)
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO mining_jobs
			(id, tenant_id, type, source_url, file_name, input, miners,
			 status, error, stats, result_count, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, job.ID, job.TenantID, string(job.Type), job.SourceURL, job.FileName, job.Input,
		minersJSON, string(job.Status), job.Error, statsJSON, job.ResultCount,
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, tenantID, id string) (*models.MiningJob, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM mining_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return job, nil
}

// updateJobTx writes the mutable job fields. Callers hold the row lock.
func (s *JobStorage) updateJobTx(ctx context.Context, tx *sql.Tx, job *models.MiningJob) error {
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE mining_jobs
		SET status = $2, error = $3, stats = $4, result_count = $5,
		    started_at = $6, completed_at = $7
		WHERE id = $1
	`, job.ID, string(job.Status), job.Error, statsJSON, job.ResultCount,
		nullTime(job.StartedAt), nullTime(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// guardJobTx locks the job row and enforces tenant and terminal-state rules.
func (s *JobStorage) guardJobTx(ctx context.Context, tx *sql.Tx, job *models.MiningJob) error {
	var tenantID string
	var status models.JobStatus
	err := tx.QueryRowContext(ctx,
		`SELECT tenant_id, status FROM mining_jobs WHERE id = $1 FOR UPDATE`,
		job.ID).Scan(&tenantID, &status)
	if err == sql.ErrNoRows {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	if tenantID != job.TenantID {
		return interfaces.ErrCrossTenant
	}
	if status.Terminal() {
		return interfaces.ErrJobTerminal
	}
	return nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.MiningJob) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback()

	if err := s.guardJobTx(ctx, tx, job); err != nil {
		return err
	}
	if err := s.updateJobTx(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *JobStorage) ListJobs(ctx context.Context, tenantID string, status models.JobStatus, limit int) ([]*models.MiningJob, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + jobColumns + ` FROM mining_jobs WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.MiningJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ListJobsByStatus lists jobs across all tenants, oldest first.
func (s *JobStorage) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.MiningJob, error) {
	q := `SELECT ` + jobColumns + ` FROM mining_jobs WHERE status = $1 ORDER BY created_at ASC`
	args := []interface{}{string(status)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var out []*models.MiningJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CompleteJobWithResults writes the terminal job update and all result rows
// in one transaction, so a completed job can never exist without its rows.
func (s *JobStorage) CompleteJobWithResults(ctx context.Context, job *models.MiningJob, rows []*models.ResultRow) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete job: %w", err)
	}
	defer tx.Rollback()

	if err := s.guardJobTx(ctx, tx, job); err != nil {
		return err
	}
	if err := s.updateJobTx(ctx, tx, job); err != nil {
		return err
	}

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO results
				(id, job_id, tenant_id, email, name, company, title, phone, website,
				 country, city, address, source_url, sources, score, raw, status,
				 created_at, imported_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`, row.ID, row.JobID, row.TenantID, row.Email, row.Name, row.Company, row.Title,
			row.Phone, row.Website, row.Country, row.City, row.Address, row.SourceURL,
			row.Sources, row.Score, row.Raw, string(row.Status), row.CreatedAt,
			nullTime(row.ImportedAt))
		if err != nil {
			return fmt.Errorf("insert result %s: %w", row.ID, err)
		}
	}

	return tx.Commit()
}

func (s *JobStorage) AppendJobLog(ctx context.Context, entry *models.JobLogEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == "" {
		seq := atomic.AddUint64(&logSequence, 1)
		entry.ID = fmt.Sprintf("%s_%d_%d", entry.JobID, entry.Timestamp.UnixNano(), seq)
	}

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO job_logs (id, job_id, tenant_id, ts, level, stage, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.JobID, entry.TenantID, entry.Timestamp, entry.Level, entry.Stage, entry.Message)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJobLogs(ctx context.Context, tenantID, jobID string) ([]*models.JobLogEntry, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, job_id, tenant_id, ts, level, stage, message
		FROM job_logs
		WHERE job_id = $1 AND tenant_id = $2
		ORDER BY ts
	`, jobID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get job logs: %w", err)
	}
	defer rows.Close()

	var out []*models.JobLogEntry
	for rows.Next() {
		e := &models.JobLogEntry{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.TenantID, &e.Timestamp, &e.Level, &e.Stage, &e.Message); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FailStaleJobs marks jobs stuck in running longer than threshold as failed.
func (s *JobStorage) FailStaleJobs(ctx context.Context, threshold time.Duration) (int, error) {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE mining_jobs
		SET status = 'failed', error = $2, completed_at = NOW()
		WHERE status = 'running' AND started_at < NOW() - ($1 * INTERVAL '1 second')
	`, threshold.Seconds(), fmt.Sprintf("job exceeded running threshold of %s", threshold))
	if err != nil {
		return 0, fmt.Errorf("sweep stale jobs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale jobs: %w", err)
	}
	if affected > 0 {
		s.logger.Warn().Int64("count", affected).Msg("Failed stale running jobs")
	}
	return int(affected), nil
}

// DeleteJobsBefore purges terminal jobs older than cutoff together with
// their logs and result rows.
func (s *JobStorage) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin retention purge: %w", err)
	}
	defer tx.Rollback()

	const expired = `SELECT id FROM mining_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1`

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM results WHERE job_id IN (`+expired+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM job_logs WHERE job_id IN (`+expired+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge job logs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM mining_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit retention purge: %w", err)
	}
	if affected > 0 {
		s.logger.Info().Int64("count", affected).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Purged expired jobs")
	}
	return int(affected), nil
}
