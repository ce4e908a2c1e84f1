package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// VerificationStorage implements the VerificationStorage interface for Postgres
type VerificationStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewVerificationStorage creates a new VerificationStorage instance
func NewVerificationStorage(db *PostgresDB, logger arbor.ILogger) interfaces.VerificationStorage {
	return &VerificationStorage{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `id, tenant_id, email, person_id, status, result, raw, error, attempts, created_at, claimed_at, processed_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.VerificationTask, error) {
	t := &models.VerificationTask{}
	var claimedAt, processedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Email, &t.PersonID, &t.Status, &t.Result,
		&t.Raw, &t.Error, &t.Attempts, &t.CreatedAt, &claimedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t.ClaimedAt = claimedAt.Time
	}
	if processedAt.Valid {
		t.ProcessedAt = processedAt.Time
	}
	return t, nil
}

// EnqueueVerification rides the partial unique in-flight index: the insert
// either lands or collides with the existing pending/processing task, which
// is then returned unchanged.
func (s *VerificationStorage) EnqueueVerification(ctx context.Context, tenantID, email, personID string) (*models.VerificationTask, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" || email == "" {
		return nil, fmt.Errorf("tenant ID and email are required")
	}

	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO verification_tasks (id, tenant_id, email, person_id, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		ON CONFLICT (tenant_id, lower(email)) WHERE status IN ('pending', 'processing') DO NOTHING
		RETURNING `+taskColumns+`
	`, common.NewTaskID(), tenantID, email, personID)

	task, err := scanTask(row)
	if err == nil {
		return task, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("enqueue verification: %w", err)
	}

	// Conflict: hand back the task already in flight.
	row = s.db.DB().QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM verification_tasks
		WHERE tenant_id = $1 AND lower(email) = $2 AND status IN ('pending', 'processing')
	`, tenantID, email)
	task, err = scanTask(row)
	if err == sql.ErrNoRows {
		// The in-flight task finished between the insert and this read.
		return s.EnqueueVerification(ctx, tenantID, email, personID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue verification: %w", err)
	}
	return task, nil
}

// ClaimVerificationBatch flips up to n pending tasks to processing, oldest
// first. FOR UPDATE SKIP LOCKED lets concurrent workers claim disjoint
// batches without blocking each other.
func (s *VerificationStorage) ClaimVerificationBatch(ctx context.Context, n int) ([]*models.VerificationTask, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		UPDATE verification_tasks
		SET status = 'processing', claimed_at = NOW(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM verification_tasks
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns+`
	`, n)
	if err != nil {
		return nil, fmt.Errorf("claim verification batch: %w", err)
	}
	defer rows.Close()

	var claimed []*models.VerificationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		claimed = append(claimed, task)
	}
	return claimed, rows.Err()
}

// CompleteTask records the provider outcome. A cancel that landed while the
// worker held the task wins; the late result is dropped.
func (s *VerificationStorage) CompleteTask(ctx context.Context, task *models.VerificationTask) error {
	if task.ProcessedAt.IsZero() {
		task.ProcessedAt = time.Now()
	}

	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE verification_tasks
		SET status = $2, result = $3, raw = $4, error = $5, processed_at = $6
		WHERE id = $1 AND status <> 'cancelled'
	`, task.ID, string(task.Status), string(task.Result), task.Raw, task.Error, task.ProcessedAt)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if affected == 0 {
		var status string
		err := s.db.DB().QueryRowContext(ctx,
			`SELECT status FROM verification_tasks WHERE id = $1`, task.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return interfaces.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		s.logger.Debug().Str("task_id", task.ID).Msg("Dropping result for cancelled task")
	}
	return nil
}

func (s *VerificationStorage) CancelTask(ctx context.Context, tenantID, id string) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE verification_tasks
		SET status = 'cancelled', processed_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'processing')
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var owner, status string
	err = s.db.DB().QueryRowContext(ctx,
		`SELECT tenant_id, status FROM verification_tasks WHERE id = $1`, id).Scan(&owner, &status)
	if err == sql.ErrNoRows {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if owner != tenantID {
		return interfaces.ErrCrossTenant
	}
	return fmt.Errorf("task %s is already %s", id, status)
}

func (s *VerificationStorage) GetTask(ctx context.Context, tenantID, id string) (*models.VerificationTask, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM verification_tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return task, nil
}

func (s *VerificationStorage) ListTasks(ctx context.Context, tenantID string, status models.TaskStatus, limit int) ([]*models.VerificationTask, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + taskColumns + ` FROM verification_tasks WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.VerificationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ResetStaleTasks returns processing tasks claimed longer than age ago back
// to pending. Covers workers that died mid-verification.
func (s *VerificationStorage) ResetStaleTasks(ctx context.Context, age time.Duration) (int, error) {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE verification_tasks
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < NOW() - ($1 * INTERVAL '1 second')
	`, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reset stale tasks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stale tasks: %w", err)
	}
	if affected > 0 {
		s.logger.Warn().Int64("count", affected).Msg("Reset stale verification tasks to pending")
	}
	return int(affected), nil
}
