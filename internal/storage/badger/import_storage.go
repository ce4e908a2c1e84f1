package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ImportResults promotes result rows into the canonical store inside a single
// Badger transaction: person upserts, affiliation inserts and the imported
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

	store := m.db.Store()
	err := store.Badger().Update(func(tx *badgerdb.Txn) error {
		seen := make(map[string]*models.Person)
		for _, row := range rows {
			if row.TenantID != tenantID {
				return fmt.Errorf("result %s: %w", row.ID, interfaces.ErrCrossTenant)
			}

			email := strings.ToLower(strings.TrimSpace(row.Email))
			if email == "" {
				// Nothing to promote; the row is still settled below so the
				// next pass does not rescan it.
				stats.Skipped++
			} else {
				person := seen[email]
				if person == nil {
					first, last := models.SplitName(row.Name)
					p, created, err := upsertPersonTx(store, tx, tenantID, email, first, last, at)
					if err != nil {
						return err
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
					inserted, err := insertAffiliationTx(store, tx, &models.Affiliation{
						ID:          common.NewAffiliationID(),
						TenantID:    tenantID,
						PersonID:    person.ID,
						CompanyName: company,
						Title:       row.Title,
						Phone:       row.Phone,
						Website:     row.Website,
						Country:     row.Country,
						City:        row.City,
						Address:     row.Address,
						SourceURL:   row.SourceURL,
						CreatedAt:   at,
					})
					if err != nil {
						return err
					}
					if inserted {
						stats.Affiliations++
					}
				}
			}

			var current models.ResultRow
			if err := store.TxGet(tx, row.ID, &current); err != nil {
				if err == badgerhold.ErrNotFound {
					return fmt.Errorf("result %s: %w", row.ID, interfaces.ErrNotFound)
				}
				return fmt.Errorf("failed to get result %s: %w", row.ID, err)
			}
			if current.Status != models.ResultStatusImported {
				current.Status = models.ResultStatusImported
				current.ImportedAt = at
				if err := store.TxUpdate(tx, current.ID, &current); err != nil {
					return fmt.Errorf("failed to mark result %s imported: %w", current.ID, err)
				}
			}
			stats.Rows++
		}
		return nil
	})
	if err != nil {
		return nil, err
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
