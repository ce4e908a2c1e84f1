package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/storage/badger"
)

const testTenant = "11111111-1111-1111-1111-111111111111"

type stubVerifier struct {
	mu      sync.Mutex
	results map[string]*interfaces.VerifyResult
	errs    map[string]error
	calls   int
}

func (v *stubVerifier) Verify(ctx context.Context, email string) (*interfaces.VerifyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if err, ok := v.errs[email]; ok {
		return nil, err
	}
	if result, ok := v.results[email]; ok {
		return result, nil
	}
	return &interfaces.VerifyResult{Status: models.VerificationUnknown, Raw: "{}"}, nil
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func newTestStore(t *testing.T) interfaces.StorageManager {
	t.Helper()

	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func newTestWorker(t *testing.T, store interfaces.StorageManager, verifier interfaces.MailboxVerifier, cache *Cache) *Worker {
	t.Helper()

	eventService := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { eventService.Close() })

	config := &common.VerifierConfig{PollInterval: "10ms", BatchSize: 2}
	return NewWorker(config, store, verifier, cache, eventService, arbor.NewLogger())
}

func enqueue(t *testing.T, store interfaces.StorageManager, email, personID string) *models.VerificationTask {
	t.Helper()

	task, err := store.VerificationStorage().EnqueueVerification(context.Background(), testTenant, email, personID)
	require.NoError(t, err)
	return task
}

func TestDrainCompletesClaimedTasks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	person, err := store.PersonStorage().UpsertPerson(ctx, testTenant, "jane@acme.com", "Jane", "Doe")
	require.NoError(t, err)

	enqueue(t, store, "jane@acme.com", person.ID)
	enqueue(t, store, "ops@acme.com", "")

	stub := &stubVerifier{results: map[string]*interfaces.VerifyResult{
		"jane@acme.com": {Status: models.VerificationValid, Raw: `{"status":"valid"}`},
		"ops@acme.com":  {Status: models.VerificationRisky, Raw: `{"status":"risky"}`},
	}}
	w := newTestWorker(t, store, stub, nil)

	refused, err := w.drain(ctx)
	require.NoError(t, err)
	assert.False(t, refused)
	assert.Equal(t, 2, stub.callCount())

	done, err := store.VerificationStorage().ListTasks(ctx, testTenant, models.TaskStatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, done, 2)
	for _, task := range done {
		assert.NotEmpty(t, task.Raw)
		assert.False(t, task.ProcessedAt.IsZero())
	}

	// The linked person carries the verdict.
	updated, err := store.PersonStorage().GetPerson(ctx, testTenant, person.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationValid, updated.VerificationStatus)
	require.NotNil(t, updated.VerifiedAt)
}

func TestDrainRecordsDefinitiveFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	person, err := store.PersonStorage().UpsertPerson(ctx, testTenant, "bob@acme.com", "Bob", "")
	require.NoError(t, err)
	task := enqueue(t, store, "bob@acme.com", person.ID)

	stub := &stubVerifier{errs: map[string]error{
		"bob@acme.com": errors.New("malformed address"),
	}}
	w := newTestWorker(t, store, stub, nil)

	refused, err := w.drain(ctx)
	require.NoError(t, err)
	assert.False(t, refused)

	failed, err := store.VerificationStorage().GetTask(ctx, testTenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "malformed address")

	// A failed verification leaves the person untouched.
	updated, err := store.PersonStorage().GetPerson(ctx, testTenant, person.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationUnknown, updated.VerificationStatus)
}

func TestDrainReleasesBatchWhenProviderBlocks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	enqueue(t, store, "jane@acme.com", "")
	enqueue(t, store, "bob@acme.com", "")

	blocked := &interfaces.ProviderError{StatusCode: 429, Err: errors.New("quota exceeded")}
	stub := &stubVerifier{errs: map[string]error{
		"jane@acme.com": blocked,
		"bob@acme.com":  blocked,
	}}
	w := newTestWorker(t, store, stub, nil)

	refused, err := w.drain(ctx)
	require.NoError(t, err)
	assert.True(t, refused)

	// One refusal releases the whole claimed batch back to pending.
	assert.Equal(t, 1, stub.callCount())
	pending, err := store.VerificationStorage().ListTasks(ctx, testTenant, models.TaskStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, task := range pending {
		assert.Equal(t, 1, task.Attempts)
		assert.True(t, task.ClaimedAt.IsZero())
	}
}

func TestDrainServesVerdictFromCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := NewCache(&common.CacheConfig{Enabled: true, Addr: mr.Addr(), TTL: "1h"}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	cache.Set(ctx, "jane@acme.com", &interfaces.VerifyResult{Status: models.VerificationValid, Raw: `{"status":"valid"}`})

	person, err := store.PersonStorage().UpsertPerson(ctx, testTenant, "jane@acme.com", "Jane", "Doe")
	require.NoError(t, err)
	task := enqueue(t, store, "jane@acme.com", person.ID)

	stub := &stubVerifier{}
	w := newTestWorker(t, store, stub, cache)

	refused, err := w.drain(ctx)
	require.NoError(t, err)
	assert.False(t, refused)

	// The cached verdict settles the task without touching the provider.
	assert.Equal(t, 0, stub.callCount())
	done, err := store.VerificationStorage().GetTask(ctx, testTenant, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.Equal(t, models.VerificationValid, done.Result)

	updated, err := store.PersonStorage().GetPerson(ctx, testTenant, person.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationValid, updated.VerificationStatus)
}

func TestWorkerRecoversStrandedTasks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task := enqueue(t, store, "jane@acme.com", "")

	// Simulate a crash: the task was claimed but never settled.
	claimed, err := store.VerificationStorage().ClaimVerificationBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	stub := &stubVerifier{results: map[string]*interfaces.VerifyResult{
		"jane@acme.com": {Status: models.VerificationValid, Raw: `{"status":"valid"}`},
	}}
	w := newTestWorker(t, store, stub, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.Eventually(t, func() bool {
		current, err := store.VerificationStorage().GetTask(ctx, testTenant, task.ID)
		return err == nil && current.Status == models.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerStartTwice(t *testing.T) {
	store := newTestStore(t)

	w := newTestWorker(t, store, &stubVerifier{}, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Error(t, w.Start())
}

func TestProviderBackoff(t *testing.T) {
	base := 15 * time.Second

	assert.Equal(t, 15*time.Second, providerBackoff(base, 1))
	assert.Equal(t, 30*time.Second, providerBackoff(base, 2))
	assert.Equal(t, 2*time.Minute, providerBackoff(base, 4))
	assert.Equal(t, maxProviderBackoff, providerBackoff(base, 10))
}
