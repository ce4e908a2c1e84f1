package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// AffiliationStorage implements the AffiliationStorage interface for Postgres
type AffiliationStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewAffiliationStorage creates a new AffiliationStorage instance
func NewAffiliationStorage(db *PostgresDB, logger arbor.ILogger) interfaces.AffiliationStorage {
	return &AffiliationStorage{
		db:     db,
		logger: logger,
	}
}

// InsertIfAbsent leans on the (tenant, person, lower(company)) unique index:
// ON CONFLICT DO NOTHING keeps history additive without a read-before-write.
func (s *AffiliationStorage) InsertIfAbsent(ctx context.Context, aff *models.Affiliation) (bool, error) {
	if aff.TenantID == "" || aff.PersonID == "" {
		return false, fmt.Errorf("tenant ID and person ID are required")
	}
	company := strings.TrimSpace(aff.CompanyName)
	if company == "" {
		return false, fmt.Errorf("company name is required")
	}
	if strings.ContainsAny(company, "@|") {
		return false, interfaces.ErrCompanyNameGuard
	}
	aff.CompanyName = company

	if aff.ID == "" {
		aff.ID = common.NewAffiliationID()
	}
	if aff.CreatedAt.IsZero() {
		aff.CreatedAt = time.Now()
	}

	res, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO affiliations
			(id, tenant_id, person_id, company_name, title, phone, website,
			 country, city, address, source_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, person_id, lower(company_name)) DO NOTHING
	`, aff.ID, aff.TenantID, aff.PersonID, aff.CompanyName, aff.Title, aff.Phone,
		aff.Website, aff.Country, aff.City, aff.Address, aff.SourceURL, aff.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert affiliation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert affiliation: %w", err)
	}
	return affected > 0, nil
}

func (s *AffiliationStorage) ListByPerson(ctx context.Context, tenantID, personID string) ([]*models.Affiliation, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, tenant_id, person_id, company_name, title, phone, website,
		       country, city, address, source_url, created_at
		FROM affiliations
		WHERE tenant_id = $1 AND person_id = $2
		ORDER BY created_at
	`, tenantID, personID)
	if err != nil {
		return nil, fmt.Errorf("list affiliations: %w", err)
	}
	defer rows.Close()

	var out []*models.Affiliation
	for rows.Next() {
		a := &models.Affiliation{}
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.PersonID, &a.CompanyName, &a.Title, &a.Phone,
			&a.Website, &a.Country, &a.City, &a.Address, &a.SourceURL, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan affiliation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AffiliationStorage) CountAffiliations(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM affiliations WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count affiliations: %w", err)
	}
	return count, nil
}
