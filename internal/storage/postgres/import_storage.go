package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ImportResults promotes result rows into the canonical store inside a single
// database transaction: person upserts, affiliation inserts and the imported
// flip of every row commit together or not at all, so a crash mid-import
// leaves the rows new for a clean re-run.
func (m *Manager) ImportResults(ctx context.Context, tenantID string, rows []*models.ResultRow, at time.Time) (*models.ImportStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	stats := &models.ImportStats{}
	if len(rows) == 0 {
		return stats, nil
	}

	tx, err := m.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]*models.Person)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.TenantID != tenantID {
			return nil, fmt.Errorf("result %s: %w", row.ID, interfaces.ErrCrossTenant)
		}
		ids = append(ids, row.ID)

		email := strings.ToLower(strings.TrimSpace(row.Email))
		if email == "" {
			// Nothing to promote; the row is still flipped below so the next
			// pass does not rescan it.
			stats.Skipped++
			stats.Rows++
			continue
		}

		person := seen[email]
		if person == nil {
			first, last := models.SplitName(row.Name)
			p, created, err := upsertPersonTx(ctx, tx, tenantID, email, first, last, at)
			if err != nil {
				return nil, err
			}
			if created {
				stats.NewPersons++
			}
			seen[email] = p
			stats.Persons = append(stats.Persons, p)
			person = p
		}

		company := strings.TrimSpace(row.Company)
		switch {
		case company == "":
			// No company mined for this contact.
		case strings.ContainsAny(company, "@|"):
			stats.Skipped++
		default:
			res, err := tx.ExecContext(ctx, `
				INSERT INTO affiliations
					(id, tenant_id, person_id, company_name, title, phone, website,
					 country, city, address, source_url, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (tenant_id, person_id, lower(company_name)) DO NOTHING
			`, common.NewAffiliationID(), tenantID, person.ID, company, row.Title, row.Phone,
				row.Website, row.Country, row.City, row.Address, row.SourceURL, at)
			if err != nil {
				return nil, fmt.Errorf("insert affiliation: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, fmt.Errorf("insert affiliation: %w", err)
			}
			if affected > 0 {
				stats.Affiliations++
			}
		}
		stats.Rows++
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE results
		SET status = 'imported', imported_at = $3
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, pq.Array(ids), at)
	if err != nil {
		return nil, fmt.Errorf("mark imported: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark imported: %w", err)
	}
	if int(affected) != len(ids) {
		return nil, fmt.Errorf("mark imported: %d of %d rows matched: %w", affected, len(ids), interfaces.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}

	m.logger.Debug().
		Str("tenant_id", tenantID).
		Int("rows", stats.Rows).
		Int("new_persons", stats.NewPersons).
		Int("affiliations", stats.Affiliations).
		Int("skipped", stats.Skipped).
		Msg("Result rows imported into canonical store")

	return stats, nil
}

// upsertPersonTx mirrors PersonStorage.UpsertPerson within a transaction.
// xmax = 0 distinguishes a fresh insert from a conflict fold.
func upsertPersonTx(ctx context.Context, tx *sql.Tx, tenantID, email, firstName, lastName string, at time.Time) (*models.Person, bool, error) {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO persons (id, tenant_id, email, first_name, last_name, verification_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'unknown', $6, $6)
		ON CONFLICT (tenant_id, lower(email)) DO UPDATE SET
			first_name = CASE WHEN persons.first_name = '' THEN EXCLUDED.first_name ELSE persons.first_name END,
			last_name  = CASE WHEN persons.last_name = ''  THEN EXCLUDED.last_name  ELSE persons.last_name  END,
			updated_at = $6
		RETURNING `+personColumns+`, (xmax = 0)
	`, common.NewPersonID(), tenantID, email, firstName, lastName, at)

	p := &models.Person{}
	var verifiedAt sql.NullTime
	var created bool
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Email, &p.FirstName, &p.LastName,
		&p.VerificationStatus, &verifiedAt, &p.CreatedAt, &p.UpdatedAt,
		&created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert person: %w", err)
	}
	if verifiedAt.Valid {
		p.VerifiedAt = verifiedAt.Time
	}
	return p, created, nil
}
