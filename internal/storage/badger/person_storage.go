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

// PersonStorage implements the PersonStorage interface for Badger
type PersonStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPersonStorage creates a new PersonStorage instance
func NewPersonStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PersonStorage {
	return &PersonStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertPerson inserts a person or enriches an existing one. The lookup and
// the write share one transaction so concurrent upserts of the same email
// cannot race into duplicate rows.
func (s *PersonStorage) UpsertPerson(ctx context.Context, tenantID, email, firstName, lastName string) (*models.Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	var stored *models.Person
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		person, _, err := upsertPersonTx(s.db.Store(), tx, tenantID, email, firstName, lastName, time.Now())
		if err != nil {
			return err
		}
		stored = person
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// upsertPersonTx is the transaction-scoped upsert core, shared with the
// aggregation import path. The email must already be lowercased and trimmed.
// Reports whether a new person was created.
func upsertPersonTx(store *badgerhold.Store, tx *badgerdb.Txn, tenantID, email, firstName, lastName string, now time.Time) (*models.Person, bool, error) {
	var existing []models.Person
	query := badgerhold.Where("TenantID").Eq(tenantID).And("Email").Eq(email).Limit(1)
	if err := store.TxFind(tx, &existing, query); err != nil {
		return nil, false, fmt.Errorf("failed to look up person: %w", err)
	}

	if len(existing) > 0 {
		person := existing[0]
		changed := false
		// Names are enrich-only: set when currently empty, never replaced.
		if person.FirstName == "" && firstName != "" {
			person.FirstName = firstName
			changed = true
		}
		if person.LastName == "" && lastName != "" {
			person.LastName = lastName
			changed = true
		}
		if changed {
			person.UpdatedAt = now
			if err := store.TxUpdate(tx, person.ID, &person); err != nil {
				return nil, false, fmt.Errorf("failed to enrich person: %w", err)
			}
		}
		return &person, false, nil
	}

	person := models.Person{
		ID:                 common.NewPersonID(),
		TenantID:           tenantID,
		Email:              email,
		FirstName:          firstName,
		LastName:           lastName,
		VerificationStatus: models.VerificationUnknown,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := store.TxInsert(tx, person.ID, &person); err != nil {
		return nil, false, fmt.Errorf("failed to insert person: %w", err)
	}
	return &person, true, nil
}

func (s *PersonStorage) GetPerson(ctx context.Context, tenantID, id string) (*models.Person, error) {
	var person models.Person
	if err := s.db.Store().Get(id, &person); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	if person.TenantID != tenantID {
		return nil, interfaces.ErrCrossTenant
	}
	return &person, nil
}

func (s *PersonStorage) GetPersonByEmail(ctx context.Context, tenantID, email string) (*models.Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var persons []models.Person
	query := badgerhold.Where("TenantID").Eq(tenantID).And("Email").Eq(email).Limit(1)
	if err := s.db.Store().Find(&persons, query); err != nil {
		return nil, fmt.Errorf("failed to get person by email: %w", err)
	}
	if len(persons) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &persons[0], nil
}

func (s *PersonStorage) ListPersons(ctx context.Context, tenantID string, limit, offset int) ([]*models.Person, error) {
	query := badgerhold.Where("TenantID").Eq(tenantID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var persons []models.Person
	if err := s.db.Store().Find(&persons, query); err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}

	result := make([]*models.Person, len(persons))
	for i := range persons {
		result[i] = &persons[i]
	}
	return result, nil
}

func (s *PersonStorage) CountPersons(ctx context.Context, tenantID string) (int, error) {
	count, err := s.db.Store().Count(&models.Person{}, badgerhold.Where("TenantID").Eq(tenantID))
	if err != nil {
		return 0, fmt.Errorf("failed to count persons: %w", err)
	}
	return int(count), nil
}

// UpdateVerification writes a provider result onto the person. An unknown
// status never overwrites a concrete one; concrete statuses replace each
// other so the newest provider knowledge wins.
func (s *PersonStorage) UpdateVerification(ctx context.Context, tenantID, personID string, status models.VerificationStatus, at time.Time) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var person models.Person
		if err := s.db.Store().TxGet(tx, personID, &person); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get person: %w", err)
		}
		if person.TenantID != tenantID {
			return interfaces.ErrCrossTenant
		}

		if status.Rank() == 0 && person.VerificationStatus.Rank() > 0 {
			// Nothing learned; keep the concrete status we already have.
			return nil
		}

		person.VerificationStatus = status
		person.VerifiedAt = at
		person.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpdate(tx, person.ID, &person); err != nil {
			return fmt.Errorf("failed to update verification: %w", err)
		}
		return nil
	})
}
