package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	person       interfaces.PersonStorage
	affiliation  interfaces.AffiliationStorage
	job          interfaces.JobStorage
	result       interfaces.ResultStorage
	verification interfaces.VerificationStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		person:       NewPersonStorage(db, logger),
		affiliation:  NewAffiliationStorage(db, logger),
		job:          NewJobStorage(db, logger),
		result:       NewResultStorage(db, logger),
		verification: NewVerificationStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// PersonStorage returns the Person storage interface
func (m *Manager) PersonStorage() interfaces.PersonStorage {
	return m.person
}

// AffiliationStorage returns the Affiliation storage interface
func (m *Manager) AffiliationStorage() interfaces.AffiliationStorage {
	return m.affiliation
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ResultStorage returns the Result storage interface
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.result
}

// VerificationStorage returns the Verification storage interface
func (m *Manager) VerificationStorage() interfaces.VerificationStorage {
	return m.verification
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
