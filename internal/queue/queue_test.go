package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const testTenant = "9f2d1c6e-4a0b-4d7e-9c3a-2f8b5e1d0a47"

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *DispatchQueue {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewDispatchQueue(db, "jobs", visibility, maxReceive)
	require.NoError(t, err)
	return q
}

func TestEnqueueReceiveDelete(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	err := q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant})
	require.NoError(t, err)

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_a", msg.JobID)
	assert.Equal(t, testTenant, msg.TenantID)

	require.NoError(t, deleteFn())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	// Deleting twice is harmless.
	assert.NoError(t, deleteFn())
}

func TestEnqueueDeduplicatesOnJobID(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	_, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, deleteFn())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestClaimedMessageStaysHidden(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestRedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := newTestQueue(t, 100*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_a", msg.JobID)
	require.NoError(t, deleteFn())
}

func TestPoisonPillDroppedAfterMaxReceive(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	for i := 0; i < 2; i++ {
		_, _, err := q.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(80 * time.Millisecond)
	}

	// Third delivery attempt drops the message instead of claiming it.
	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	// The dedup slot is released with the message, so a deliberate
	// re-enqueue of the same job works.
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))
	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_a", msg.JobID)
	require.NoError(t, deleteFn())
}

func TestExtendKeepsMessageHidden(t *testing.T) {
	q := newTestQueue(t, 100*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	_, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Extend(ctx, "job_a", time.Hour))

	time.Sleep(150 * time.Millisecond)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, deleteFn())
}

func TestExtendUnknownJob(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)

	err := q.Extend(context.Background(), "job_missing", time.Hour)
	assert.Error(t, err)
}

func TestOldestMessageDeliveredFirst(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_first", TenantID: testTenant}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_second", TenantID: testTenant}))

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_first", msg.JobID)
	require.NoError(t, deleteFn())

	msg, deleteFn, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_second", msg.JobID)
	require.NoError(t, deleteFn())
}

type stubRunner struct {
	mu     sync.Mutex
	ran    []string
	failed []string
	err    error
	panics bool
}

func (r *stubRunner) RunJob(ctx context.Context, tenantID, jobID string) error {
	r.mu.Lock()
	r.ran = append(r.ran, jobID)
	r.mu.Unlock()
	if r.panics {
		panic("miner exploded")
	}
	return r.err
}

func (r *stubRunner) FailJob(ctx context.Context, tenantID, jobID, reason string) error {
	r.mu.Lock()
	r.failed = append(r.failed, jobID)
	r.mu.Unlock()
	return nil
}

func (r *stubRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func (r *stubRunner) failCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed)
}

func TestProcessorRunsClaimedJobs(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_b", TenantID: testTenant}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_c", TenantID: testTenant}))

	runner := &stubRunner{}
	p := NewProcessor(q, runner, 2, arbor.NewLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return runner.runCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Settled messages are gone from the queue.
	require.Eventually(t, func() bool {
		_, _, err := q.Receive(ctx)
		return errors.Is(err, ErrNoMessage)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessorStartTwice(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)

	p := NewProcessor(q, &stubRunner{}, 1, arbor.NewLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	assert.Error(t, p.Start())
}

func TestProcessorSettlesFailedJobs(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	runner := &stubRunner{err: errors.New("all miners failed")}
	p := NewProcessor(q, runner, 1, arbor.NewLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return runner.runCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A failed run still settles the message; the job record carries the
	// failure, the queue does not retry it.
	require.Eventually(t, func() bool {
		_, _, err := q.Receive(ctx)
		return errors.Is(err, ErrNoMessage)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessorRecoversFromRunnerPanic(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job_a", TenantID: testTenant}))

	runner := &stubRunner{panics: true}
	p := NewProcessor(q, runner, 1, arbor.NewLogger())
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return runner.failCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, _, err := q.Receive(ctx)
		return errors.Is(err, ErrNoMessage)
	}, 2*time.Second, 10*time.Millisecond)
}
