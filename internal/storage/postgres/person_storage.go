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

// PersonStorage implements the PersonStorage interface for Postgres
type PersonStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewPersonStorage creates a new PersonStorage instance
func NewPersonStorage(db *PostgresDB, logger arbor.ILogger) interfaces.PersonStorage {
	return &PersonStorage{
		db:     db,
		logger: logger,
	}
}

const personColumns = `id, tenant_id, email, first_name, last_name, verification_status, verified_at, created_at, updated_at`

func scanPerson(row interface{ Scan(...interface{}) error }) (*models.Person, error) {
	p := &models.Person{}
	var verifiedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Email, &p.FirstName, &p.LastName,
		&p.VerificationStatus, &verifiedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		p.VerifiedAt = verifiedAt.Time
	}
	return p, nil
}

// UpsertPerson relies on the (tenant, lower(email)) unique index: the insert
// either lands or folds into the existing row, with names filled only where
// currently empty. Concurrent upserts serialize on the index.
func (s *PersonStorage) UpsertPerson(ctx context.Context, tenantID, email, firstName, lastName string) (*models.Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO persons (id, tenant_id, email, first_name, last_name, verification_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'unknown', NOW(), NOW())
		ON CONFLICT (tenant_id, lower(email)) DO UPDATE SET
			first_name = CASE WHEN persons.first_name = '' THEN EXCLUDED.first_name ELSE persons.first_name END,
			last_name  = CASE WHEN persons.last_name = ''  THEN EXCLUDED.last_name  ELSE persons.last_name  END,
			updated_at = NOW()
		RETURNING `+personColumns+`
	`, common.NewPersonID(), tenantID, email, firstName, lastName)

	p, err := scanPerson(row)
	if err != nil {
		return nil, fmt.Errorf("upsert person: %w", err)
	}
	return p, nil
}

func (s *PersonStorage) GetPerson(ctx context.Context, tenantID, id string) (*models.Person, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE id = $1
	`, id)

	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	if p.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return p, nil
}

func (s *PersonStorage) GetPersonByEmail(ctx context.Context, tenantID, email string) (*models.Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE tenant_id = $1 AND lower(email) = $2
	`, tenantID, email)

	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person by email: %w", err)
	}
	return p, nil
}

func (s *PersonStorage) ListPersons(ctx context.Context, tenantID string, limit, offset int) ([]*models.Person, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []*models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PersonStorage) CountPersons(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM persons WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return count, nil
}

// UpdateVerification applies a provider result. The WHERE clause carries the
// never-downgrade rule: an unknown result leaves a concrete status alone.
func (s *PersonStorage) UpdateVerification(ctx context.Context, tenantID, personID string, status models.VerificationStatus, at time.Time) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE persons
		SET verification_status = $3, verified_at = $4, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		  AND NOT ($3 = 'unknown' AND verification_status <> 'unknown')
	`, personID, tenantID, string(status), at)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing updated: missing row, wrong tenant, or the downgrade guard.
	var owner string
	err = s.db.DB().QueryRowContext(ctx,
		`SELECT tenant_id FROM persons WHERE id = $1`, personID).Scan(&owner)
	if err == sql.ErrNoRows {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	if owner != tenantID {
		return interfaces.ErrCrossTenant
	}
	return nil
}
