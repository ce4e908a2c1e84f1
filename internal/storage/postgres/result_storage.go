package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ResultStorage implements the ResultStorage interface for Postgres
type ResultStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

const resultColumns = `id, job_id, tenant_id, email, name, company, title, phone, website, country, city, address, source_url, sources, score, raw, status, created_at, imported_at`

func scanResult(row interface{ Scan(...interface{}) error }) (*models.ResultRow, error) {
	r := &models.ResultRow{}
	var importedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.JobID, &r.TenantID, &r.Email, &r.Name, &r.Company, &r.Title,
		&r.Phone, &r.Website, &r.Country, &r.City, &r.Address, &r.SourceURL,
		&r.Sources, &r.Score, &r.Raw, &r.Status, &r.CreatedAt, &importedAt,
	)
	if err != nil {
		return nil, err
	}
	if importedAt.Valid {
		r.ImportedAt = importedAt.Time
	}
	return r, nil
}

func (s *ResultStorage) GetResult(ctx context.Context, tenantID, id string) (*models.ResultRow, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE id = $1`, id)

	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if r.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return r, nil
}

func (s *ResultStorage) ListResultsByJob(ctx context.Context, tenantID, jobID string) ([]*models.ResultRow, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM results
		WHERE job_id = $1 AND tenant_id = $2
		ORDER BY score DESC, created_at
	`, jobID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func (s *ResultStorage) ListResultsByStatus(ctx context.Context, tenantID string, status models.ResultStatus, limit int) ([]*models.ResultRow, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM results
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3
	`, tenantID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list results by status: %w", err)
	}
	defer rows.Close()

	return collectResults(rows)
}

func collectResults(rows *sql.Rows) ([]*models.ResultRow, error) {
	var out []*models.ResultRow
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateResult persists analyst edits to the contact fields. Lineage columns
// (job_id, raw, created_at) are deliberately absent from the SET list.
func (s *ResultStorage) UpdateResult(ctx context.Context, row *models.ResultRow) error {
	if row.JobID != "" {
		var currentJob string
		err := s.db.DB().QueryRowContext(ctx,
			`SELECT job_id FROM results WHERE id = $1`, row.ID).Scan(&currentJob)
		if err == sql.ErrNoRows {
			return interfaces.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update result: %w", err)
		}
		if currentJob != row.JobID {
			return fmt.Errorf("result %s: job ID is immutable", row.ID)
		}
	}

	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE results
		SET email = $3, name = $4, company = $5, title = $6, phone = $7,
		    website = $8, country = $9, city = $10, address = $11,
		    source_url = $12, sources = $13, score = $14
		WHERE id = $1 AND tenant_id = $2
	`, row.ID, row.TenantID, row.Email, row.Name, row.Company, row.Title, row.Phone,
		row.Website, row.Country, row.City, row.Address, row.SourceURL, row.Sources, row.Score)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	if affected == 0 {
		var owner string
		err := s.db.DB().QueryRowContext(ctx,
			`SELECT tenant_id FROM results WHERE id = $1`, row.ID).Scan(&owner)
		if err == sql.ErrNoRows {
			return interfaces.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update result: %w", err)
		}
		return interfaces.ErrCrossTenant
	}
	return nil
}

// MarkImported flips rows to imported in one transaction; the batch aborts
// unless every ID resolved within the tenant.
func (s *ResultStorage) MarkImported(ctx context.Context, tenantID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark imported: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE results
		SET status = 'imported', imported_at = $3
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("mark imported: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark imported: %w", err)
	}
	if int(affected) != len(ids) {
		return fmt.Errorf("mark imported: %d of %d rows matched: %w", affected, len(ids), interfaces.ErrNotFound)
	}
	return tx.Commit()
}
