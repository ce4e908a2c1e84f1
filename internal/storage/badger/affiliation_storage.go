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

// AffiliationStorage implements the AffiliationStorage interface for Badger
type AffiliationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAffiliationStorage creates a new AffiliationStorage instance
func NewAffiliationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AffiliationStorage {
	return &AffiliationStorage{
		db:     db,
		logger: logger,
	}
}

// InsertIfAbsent writes the affiliation unless one already exists for the
// same (tenant, person, lower(company)). Existing rows are never touched;
// history stays additive.
func (s *AffiliationStorage) InsertIfAbsent(ctx context.Context, aff *models.Affiliation) (bool, error) {
	if aff.TenantID == "" || aff.PersonID == "" {
		return false, fmt.Errorf("tenant ID and person ID are required")
	}
	company := strings.TrimSpace(aff.CompanyName)
	if company == "" {
		return false, fmt.Errorf("company name is required")
	}
	// The write guard keeps email fragments and pipe-joined artifacts out of
	// the canonical store no matter what upstream produced.
	if strings.ContainsAny(company, "@|") {
		return false, interfaces.ErrCompanyNameGuard
	}
	aff.CompanyName = company

	inserted := false
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		ok, err := insertAffiliationTx(s.db.Store(), tx, aff)
		if err != nil {
			return err
		}
		inserted = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// insertAffiliationTx is the transaction-scoped insert-or-ignore core, shared
// with the aggregation import path. Callers enforce the company-name guards.
func insertAffiliationTx(store *badgerhold.Store, tx *badgerdb.Txn, aff *models.Affiliation) (bool, error) {
	var existing []models.Affiliation
	query := badgerhold.Where("TenantID").Eq(aff.TenantID).And("PersonID").Eq(aff.PersonID)
	if err := store.TxFind(tx, &existing, query); err != nil {
		return false, fmt.Errorf("failed to look up affiliations: %w", err)
	}
	for i := range existing {
		if strings.EqualFold(existing[i].CompanyName, aff.CompanyName) {
			return false, nil
		}
	}

	if aff.ID == "" {
		aff.ID = common.NewAffiliationID()
	}
	if aff.CreatedAt.IsZero() {
		aff.CreatedAt = time.Now()
	}
	if err := store.TxInsert(tx, aff.ID, aff); err != nil {
		return false, fmt.Errorf("failed to insert affiliation: %w", err)
	}
	return true, nil
}

func (s *AffiliationStorage) ListByPerson(ctx context.Context, tenantID, personID string) ([]*models.Affiliation, error) {
	var affs []models.Affiliation
	query := badgerhold.Where("TenantID").Eq(tenantID).And("PersonID").Eq(personID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&affs, query); err != nil {
		return nil, fmt.Errorf("failed to list affiliations: %w", err)
	}

	result := make([]*models.Affiliation, len(affs))
	for i := range affs {
		result[i] = &affs[i]
	}
	return result, nil
}

func (s *AffiliationStorage) CountAffiliations(ctx context.Context, tenantID string) (int, error) {
	count, err := s.db.Store().Count(&models.Affiliation{}, badgerhold.Where("TenantID").Eq(tenantID))
	if err != nil {
		return 0, fmt.Errorf("failed to count affiliations: %w", err)
	}
	return int(count), nil
}
