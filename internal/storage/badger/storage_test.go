package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	testTenant  = "11111111-1111-1111-1111-111111111111"
	otherTenant = "22222222-2222-2222-2222-222222222222"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()
	mgr, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestUpsertPersonEnrichesWithoutOverwriting(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.PersonStorage()
	ctx := context.Background()

	p1, err := store.UpsertPerson(ctx, testTenant, "Jane.Doe@Acme.COM", "", "")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@acme.com", p1.Email, "emails are stored lowercased")
	assert.Equal(t, models.VerificationUnknown, p1.VerificationStatus)

	// Second sighting carries names: empty fields fill in.
	p2, err := store.UpsertPerson(ctx, testTenant, "jane.doe@acme.com", "Jane", "Doe")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID, "same (tenant, email) must resolve to one person")
	assert.Equal(t, "Jane", p2.FirstName)
	assert.Equal(t, "Doe", p2.LastName)

	// Third sighting with a different spelling must not replace names.
	p3, err := store.UpsertPerson(ctx, testTenant, "JANE.DOE@acme.com", "J.", "D.")
	require.NoError(t, err)
	assert.Equal(t, "Jane", p3.FirstName)
	assert.Equal(t, "Doe", p3.LastName)

	count, err := store.CountPersons(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPersonsAreTenantIsolated(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.PersonStorage()
	ctx := context.Background()

	a, err := store.UpsertPerson(ctx, testTenant, "shared@acme.com", "A", "")
	require.NoError(t, err)
	b, err := store.UpsertPerson(ctx, otherTenant, "shared@acme.com", "B", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID, "same email under two tenants yields two persons")

	_, err = store.GetPerson(ctx, otherTenant, a.ID)
	assert.ErrorIs(t, err, interfaces.ErrCrossTenant)

	_, err = store.GetPersonByEmail(ctx, "33333333-3333-3333-3333-333333333333", "shared@acme.com")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestUpdateVerificationNeverDowngradesToUnknown(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.PersonStorage()
	ctx := context.Background()

	p, err := store.UpsertPerson(ctx, testTenant, "v@acme.com", "", "")
	require.NoError(t, err)

	at := time.Now()
	require.NoError(t, store.UpdateVerification(ctx, testTenant, p.ID, models.VerificationValid, at))

	got, err := store.GetPerson(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationValid, got.VerificationStatus)

	// An unknown result carries no information; valid must survive.
	require.NoError(t, store.UpdateVerification(ctx, testTenant, p.ID, models.VerificationUnknown, time.Now()))
	got, err = store.GetPerson(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationValid, got.VerificationStatus)

	// Fresh concrete knowledge replaces older concrete knowledge.
	require.NoError(t, store.UpdateVerification(ctx, testTenant, p.ID, models.VerificationCatchall, time.Now()))
	got, err = store.GetPerson(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationCatchall, got.VerificationStatus)
}

func TestAffiliationInsertIfAbsent(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	p, err := mgr.PersonStorage().UpsertPerson(ctx, testTenant, "jane@acme.com", "Jane", "Doe")
	require.NoError(t, err)

	store := mgr.AffiliationStorage()
	ins, err := store.InsertIfAbsent(ctx, &models.Affiliation{
		TenantID:    testTenant,
		PersonID:    p.ID,
		CompanyName: "Acme Ltd",
		Title:       "CTO",
	})
	require.NoError(t, err)
	assert.True(t, ins)

	// Case-folded duplicate is ignored and must not overwrite the title.
	ins, err = store.InsertIfAbsent(ctx, &models.Affiliation{
		TenantID:    testTenant,
		PersonID:    p.ID,
		CompanyName: "ACME LTD",
		Title:       "Intern",
	})
	require.NoError(t, err)
	assert.False(t, ins)

	// A different company is a new history row.
	ins, err = store.InsertIfAbsent(ctx, &models.Affiliation{
		TenantID:    testTenant,
		PersonID:    p.ID,
		CompanyName: "Globex GmbH",
	})
	require.NoError(t, err)
	assert.True(t, ins)

	affs, err := store.ListByPerson(ctx, testTenant, p.ID)
	require.NoError(t, err)
	require.Len(t, affs, 2)
	assert.Equal(t, "CTO", affs[0].Title)
}

func TestAffiliationCompanyNameGuard(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.AffiliationStorage()
	ctx := context.Background()

	for _, bad := range []string{"jane@acme.com", "Acme | Globex"} {
		_, err := store.InsertIfAbsent(ctx, &models.Affiliation{
			TenantID:    testTenant,
			PersonID:    "per_x",
			CompanyName: bad,
		})
		assert.ErrorIs(t, err, interfaces.ErrCompanyNameGuard, bad)
	}
}

func newJob(id, tenant string, status models.JobStatus) *models.MiningJob {
	return &models.MiningJob{
		ID:        id,
		TenantID:  tenant,
		Type:      models.JobTypeText,
		Input:     []byte("Email: a@b.com"),
		Miners:    models.MinerFlags{Unstructured: true},
		Status:    status,
		CreatedAt: time.Now(),
	}
}

func TestJobLifecycle(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.JobStorage()
	ctx := context.Background()

	job := newJob("job_1", testTenant, models.JobStatusPending)
	require.NoError(t, store.CreateJob(ctx, job))
	assert.Error(t, store.CreateJob(ctx, job), "duplicate job IDs must be rejected")

	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()
	require.NoError(t, store.UpdateJob(ctx, job))

	rows := []*models.ResultRow{
		{ID: "res_1", JobID: job.ID, TenantID: testTenant, Email: "a@b.com", Status: models.ResultStatusNew, CreatedAt: time.Now()},
		{ID: "res_2", JobID: job.ID, TenantID: testTenant, Email: "c@d.com", Status: models.ResultStatusNew, CreatedAt: time.Now()},
	}
	job.Status = models.JobStatusCompleted
	job.CompletedAt = time.Now()
	job.ResultCount = len(rows)
	require.NoError(t, store.CompleteJobWithResults(ctx, job, rows))

	got, err := store.GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	listed, err := mgr.ResultStorage().ListResultsByJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	// Terminal jobs are immutable.
	got.Status = models.JobStatusRunning
	assert.ErrorIs(t, store.UpdateJob(ctx, got), interfaces.ErrJobTerminal)
}

func TestJobLogsOrderedByTimestamp(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.JobStorage()
	ctx := context.Background()

	base := time.Now()
	for i, stage := range []string{"miner_started", "miner_finished", "merged", "persisted"} {
		require.NoError(t, store.AppendJobLog(ctx, &models.JobLogEntry{
			JobID:     "job_logs",
			TenantID:  testTenant,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Level:     "info",
			Stage:     stage,
			Message:   stage,
		}))
	}

	logs, err := store.GetJobLogs(ctx, testTenant, "job_logs")
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, "miner_started", logs[0].Stage)
	assert.Equal(t, "persisted", logs[3].Stage)
}

func TestFailStaleJobs(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.JobStorage()
	ctx := context.Background()

	stale := newJob("job_stale", testTenant, models.JobStatusPending)
	require.NoError(t, store.CreateJob(ctx, stale))
	stale.Status = models.JobStatusRunning
	stale.StartedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.UpdateJob(ctx, stale))

	fresh := newJob("job_fresh", testTenant, models.JobStatusPending)
	require.NoError(t, store.CreateJob(ctx, fresh))
	fresh.Status = models.JobStatusRunning
	fresh.StartedAt = time.Now()
	require.NoError(t, store.UpdateJob(ctx, fresh))

	n, err := store.FailStaleJobs(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob(ctx, testTenant, "job_stale")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	got, err = store.GetJob(ctx, testTenant, "job_fresh")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestDeleteJobsBeforePurgesChildren(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.JobStorage()
	ctx := context.Background()

	old := newJob("job_old", testTenant, models.JobStatusPending)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateJob(ctx, old))
	old.Status = models.JobStatusCompleted
	old.CompletedAt = time.Now().Add(-47 * time.Hour)
	require.NoError(t, store.CompleteJobWithResults(ctx, old, []*models.ResultRow{
		{ID: "res_old", JobID: old.ID, TenantID: testTenant, Email: "x@y.com", Status: models.ResultStatusNew, CreatedAt: old.CreatedAt},
	}))
	require.NoError(t, store.AppendJobLog(ctx, &models.JobLogEntry{JobID: old.ID, TenantID: testTenant, Level: "info", Stage: "persisted", Message: "done"}))

	// Still running: retention must not touch it regardless of age.
	running := newJob("job_running", testTenant, models.JobStatusPending)
	running.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateJob(ctx, running))
	running.Status = models.JobStatusRunning
	running.StartedAt = time.Now()
	require.NoError(t, store.UpdateJob(ctx, running))

	n, err := store.DeleteJobsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetJob(ctx, testTenant, "job_old")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	rows, err := mgr.ResultStorage().ListResultsByJob(ctx, testTenant, "job_old")
	require.NoError(t, err)
	assert.Empty(t, rows)
	logs, err := store.GetJobLogs(ctx, testTenant, "job_old")
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = store.GetJob(ctx, testTenant, "job_running")
	assert.NoError(t, err)
}

func seedResult(t *testing.T, mgr interfaces.StorageManager, id string) *models.ResultRow {
	t.Helper()
	job := newJob("job_for_"+id, testTenant, models.JobStatusPending)
	require.NoError(t, mgr.JobStorage().CreateJob(context.Background(), job))
	job.Status = models.JobStatusCompleted
	job.CompletedAt = time.Now()
	row := &models.ResultRow{
		ID: id, JobID: job.ID, TenantID: testTenant,
		Email: id + "@acme.com", Company: "Acme", Raw: `{"email":"` + id + `@acme.com"}`,
		Status: models.ResultStatusNew, CreatedAt: time.Now(),
	}
	require.NoError(t, mgr.JobStorage().CompleteJobWithResults(context.Background(), job, []*models.ResultRow{row}))
	return row
}

func TestUpdateResultKeepsLineage(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	row := seedResult(t, mgr, "res_edit")

	edited := *row
	edited.Name = "Jane Doe"
	edited.Raw = "tampered"
	require.NoError(t, mgr.ResultStorage().UpdateResult(ctx, &edited))

	got, err := mgr.ResultStorage().GetResult(ctx, testTenant, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got.Name)
	assert.Equal(t, row.Raw, got.Raw, "the raw snapshot is immutable")

	moved := *row
	moved.JobID = "job_other"
	err = mgr.ResultStorage().UpdateResult(ctx, &moved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")
}

func TestMarkImported(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	a := seedResult(t, mgr, "res_a")
	b := seedResult(t, mgr, "res_b")

	at := time.Now()
	require.NoError(t, mgr.ResultStorage().MarkImported(ctx, testTenant, []string{a.ID, b.ID}, at))

	imported, err := mgr.ResultStorage().ListResultsByStatus(ctx, testTenant, models.ResultStatusImported, 0)
	require.NoError(t, err)
	assert.Len(t, imported, 2)
	assert.False(t, imported[0].ImportedAt.IsZero())

	// Unknown ID aborts the whole batch.
	err = mgr.ResultStorage().MarkImported(ctx, testTenant, []string{"res_missing"}, at)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestEnqueueVerificationIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.VerificationStorage()
	ctx := context.Background()

	t1, err := store.EnqueueVerification(ctx, testTenant, "Check@Acme.com", "per_1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, t1.Status)
	assert.Equal(t, "check@acme.com", t1.Email)

	t2, err := store.EnqueueVerification(ctx, testTenant, "check@acme.com", "per_1")
	require.NoError(t, err)
	assert.Equal(t, t1.ID, t2.ID, "an in-flight task absorbs re-enqueues")

	// Once the task completes, a new enqueue creates a fresh task.
	claimed, err := store.ClaimVerificationBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	claimed[0].Status = models.TaskStatusCompleted
	claimed[0].Result = models.VerificationValid
	require.NoError(t, store.CompleteTask(ctx, claimed[0]))

	t3, err := store.EnqueueVerification(ctx, testTenant, "check@acme.com", "per_1")
	require.NoError(t, err)
	assert.NotEqual(t, t1.ID, t3.ID)
}

func TestClaimVerificationBatch(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.VerificationStorage()
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		_, err := store.EnqueueVerification(ctx, testTenant, email, "")
		require.NoError(t, err)
	}

	first, err := store.ClaimVerificationBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, task := range first {
		assert.Equal(t, models.TaskStatusProcessing, task.Status)
		assert.Equal(t, 1, task.Attempts)
		assert.False(t, task.ClaimedAt.IsZero())
	}

	second, err := store.ClaimVerificationBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 1, "claimed tasks are never handed out twice")

	third, err := store.ClaimVerificationBatch(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestCancelTaskWinsOverLateResult(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.VerificationStorage()
	ctx := context.Background()

	task, err := store.EnqueueVerification(ctx, testTenant, "late@x.com", "")
	require.NoError(t, err)
	claimed, err := store.ClaimVerificationBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.CancelTask(ctx, testTenant, task.ID))

	// The worker finishes after the cancel: its result is dropped.
	claimed[0].Status = models.TaskStatusCompleted
	claimed[0].Result = models.VerificationValid
	require.NoError(t, store.CompleteTask(ctx, claimed[0]))

	got, err := store.GetTask(ctx, testTenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)

	// Cancelling a terminal task is an error.
	assert.Error(t, store.CancelTask(ctx, testTenant, task.ID))
}

func TestResetStaleTasks(t *testing.T) {
	mgr := newTestManager(t)
	store := mgr.VerificationStorage()
	ctx := context.Background()

	_, err := store.EnqueueVerification(ctx, testTenant, "stuck@x.com", "")
	require.NoError(t, err)
	claimed, err := store.ClaimVerificationBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Too young to reset.
	n, err := store.ResetStaleTasks(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.ResetStaleTasks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.ListTasks(ctx, testTenant, models.TaskStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].ClaimedAt.IsZero())
	assert.Equal(t, 1, pending[0].Attempts, "attempts survive a reset")
}

func TestImportResultsPromotesRowsInOnePass(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	job := newJob("job_import", testTenant, models.JobStatusPending)
	require.NoError(t, mgr.JobStorage().CreateJob(ctx, job))
	job.Status = models.JobStatusCompleted
	job.CompletedAt = time.Now()
	rows := []*models.ResultRow{
		{ID: "res_i1", JobID: job.ID, TenantID: testTenant, Email: "Jane.Doe@Acme.com",
			Name: "Jane van Doe", Company: "Acme GmbH", Title: "CTO",
			Status: models.ResultStatusNew, CreatedAt: time.Now()},
		{ID: "res_i2", JobID: job.ID, TenantID: testTenant, Email: "jane.doe@acme.com",
			Name: "Jane", Company: "acme gmbh",
			Status: models.ResultStatusNew, CreatedAt: time.Now()},
		{ID: "res_i3", JobID: job.ID, TenantID: testTenant, Email: "bob@acme.com",
			Company: "bob@acme|fragment",
			Status: models.ResultStatusNew, CreatedAt: time.Now()},
	}
	require.NoError(t, mgr.JobStorage().CompleteJobWithResults(ctx, job, rows))

	stats, err := mgr.ImportResults(ctx, testTenant, rows, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 2, stats.NewPersons)
	assert.Len(t, stats.Persons, 2, "duplicate emails collapse to one person")
	assert.Equal(t, 1, stats.Affiliations, "case-folded duplicate company collapses")
	assert.Equal(t, 1, stats.Skipped, "guarded company skips the affiliation only")

	jane, err := mgr.PersonStorage().GetPersonByEmail(ctx, testTenant, "jane.doe@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane van", jane.FirstName)
	assert.Equal(t, "Doe", jane.LastName)

	bob, err := mgr.PersonStorage().GetPersonByEmail(ctx, testTenant, "bob@acme.com")
	require.NoError(t, err)
	affs, err := mgr.AffiliationStorage().ListByPerson(ctx, testTenant, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, affs, "guarded company never reaches the store")

	imported, err := mgr.ResultStorage().ListResultsByStatus(ctx, testTenant, models.ResultStatusImported, 0)
	require.NoError(t, err)
	assert.Len(t, imported, 3, "every row in the batch is settled")
}

func TestImportResultsRollsBackOnError(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	good := seedResult(t, mgr, "res_roll")
	alien := &models.ResultRow{ID: "res_alien", JobID: "job_x", TenantID: otherTenant,
		Email: "alien@x.com", Status: models.ResultStatusNew}

	_, err := mgr.ImportResults(ctx, testTenant, []*models.ResultRow{good, alien}, time.Now())
	assert.ErrorIs(t, err, interfaces.ErrCrossTenant)

	_, err = mgr.PersonStorage().GetPersonByEmail(ctx, testTenant, good.Email)
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "the person upsert must roll back with the batch")
	got, err := mgr.ResultStorage().GetResult(ctx, testTenant, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusNew, got.Status)
}
