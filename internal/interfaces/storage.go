package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// PersonStorage - canonical person records, unique per (tenant, lower(email))
type PersonStorage interface {
	// UpsertPerson inserts a person or enriches an existing one. The email is
	// write-once; first/last name are set only when currently empty; the
	// verification status is never touched on conflict. Returns the stored row.
	UpsertPerson(ctx context.Context, tenantID, email, firstName, lastName string) (*models.Person, error)

	GetPerson(ctx context.Context, tenantID, id string) (*models.Person, error)
	GetPersonByEmail(ctx context.Context, tenantID, email string) (*models.Person, error)
	ListPersons(ctx context.Context, tenantID string, limit, offset int) ([]*models.Person, error)
	CountPersons(ctx context.Context, tenantID string) (int, error)

	// UpdateVerification writes a fresh provider result. An unknown status
	// never overwrites a concrete one; concrete statuses overwrite each other
	// (newest provider knowledge wins).
	UpdateVerification(ctx context.Context, tenantID, personID string, status models.VerificationStatus, at time.Time) error
}

// AffiliationStorage - additive person/company history, unique per
// (tenant, person, lower(company_name))
type AffiliationStorage interface {
	// InsertIfAbsent writes the affiliation unless one already exists for the
	// same (tenant, person, lower(company)). Existing rows are never modified.
	// Returns true when a row was inserted. Enforces the company-name write
	// guard (no '@' or '|').
	InsertIfAbsent(ctx context.Context, aff *models.Affiliation) (bool, error)

	ListByPerson(ctx context.Context, tenantID, personID string) ([]*models.Affiliation, error)
	CountAffiliations(ctx context.Context, tenantID string) (int, error)
}

// JobStorage - mining job lifecycle and the append-only job log
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.MiningJob) error
	GetJob(ctx context.Context, tenantID, id string) (*models.MiningJob, error)
	UpdateJob(ctx context.Context, job *models.MiningJob) error
	ListJobs(ctx context.Context, tenantID string, status models.JobStatus, limit int) ([]*models.MiningJob, error)

	// ListJobsByStatus lists jobs across all tenants, oldest first. Used by
	// the startup sweep to re-enqueue pending jobs that never reached the
	// dispatch queue.
	ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.MiningJob, error)

	// CompleteJobWithResults atomically writes the job's result rows and the
	// terminal job update in one storage transaction. Any failure rolls the
	// whole batch back.
	CompleteJobWithResults(ctx context.Context, job *models.MiningJob, rows []*models.ResultRow) error

	AppendJobLog(ctx context.Context, entry *models.JobLogEntry) error
	GetJobLogs(ctx context.Context, tenantID, jobID string) ([]*models.JobLogEntry, error)

	// FailStaleJobs marks jobs stuck in running longer than threshold as
	// failed. Returns the number of jobs failed.
	FailStaleJobs(ctx context.Context, threshold time.Duration) (int, error)

	// DeleteJobsBefore purges terminal jobs (and their logs and result rows)
	// older than cutoff. Returns the number of jobs removed.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ResultStorage - persisted merged contacts per job
type ResultStorage interface {
	GetResult(ctx context.Context, tenantID, id string) (*models.ResultRow, error)
	ListResultsByJob(ctx context.Context, tenantID, jobID string) ([]*models.ResultRow, error)
	ListResultsByStatus(ctx context.Context, tenantID string, status models.ResultStatus, limit int) ([]*models.ResultRow, error)

	// UpdateResult persists edits to a row. The row's JobID is immutable;
	// updates carrying a different JobID are rejected.
	UpdateResult(ctx context.Context, row *models.ResultRow) error

	// MarkImported flips rows to imported and stamps ImportedAt.
	MarkImported(ctx context.Context, tenantID string, ids []string, at time.Time) error
}

// VerificationStorage - durable mailbox-verification task queue
type VerificationStorage interface {
	// EnqueueVerification creates a pending task unless one is already
	// in flight (pending or processing) for the same (tenant, lower(email)).
	// Idempotent: when a task is in flight it is returned unchanged.
	EnqueueVerification(ctx context.Context, tenantID, email, personID string) (*models.VerificationTask, error)

	// ClaimVerificationBatch atomically flips up to n pending tasks to
	// processing and returns them. Tasks already claimed by another consumer
	// are never returned twice.
	ClaimVerificationBatch(ctx context.Context, n int) ([]*models.VerificationTask, error)

	// CompleteTask records the provider outcome (completed or failed) and
	// stamps ProcessedAt.
	CompleteTask(ctx context.Context, task *models.VerificationTask) error

	// CancelTask marks a pending or processing task cancelled. Honored by the
	// worker at the next poll boundary.
	CancelTask(ctx context.Context, tenantID, id string) error

	GetTask(ctx context.Context, tenantID, id string) (*models.VerificationTask, error)
	ListTasks(ctx context.Context, tenantID string, status models.TaskStatus, limit int) ([]*models.VerificationTask, error)

	// ResetStaleTasks returns processing tasks with no ProcessedAt older than
	// age back to pending. Called at worker startup and by the scheduler.
	ResetStaleTasks(ctx context.Context, age time.Duration) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	PersonStorage() PersonStorage
	AffiliationStorage() AffiliationStorage
	JobStorage() JobStorage
	ResultStorage() ResultStorage
	VerificationStorage() VerificationStorage

	// ImportResults promotes result rows into persons and affiliations and
	// flips the rows to imported, all in one storage transaction. Persons are
	// enriched, never overwritten; affiliations are insert-or-ignore; a
	// company tripping the write guard skips the affiliation but still
	// imports the person. Any failure rolls the whole batch back.
	ImportResults(ctx context.Context, tenantID string, rows []*models.ResultRow, at time.Time) (*models.ImportStats, error)

	DB() interface{}
	Close() error
}
