package verify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// maxProviderBackoff caps the poll delay while the provider keeps refusing.
const maxProviderBackoff = 5 * time.Minute

// Worker drains the verification task queue: claim a batch, verify each
// email, write the verdict onto the task and the linked person. Single
// consumer by default; the storage layer's unique in-flight constraint keeps
// multi-consumer setups from double-verifying.
//
// Provider refusals (quota, auth) release the claimed batch back to pending
// and back the poll off exponentially. Shutdown is cooperative: tasks caught
// mid-claim stay processing and the startup sweep returns them to pending.
type Worker struct {
	store    interfaces.StorageManager
	verifier interfaces.MailboxVerifier
	cache    *Cache
	events   interfaces.EventService
	logger   arbor.ILogger

	pollInterval time.Duration
	batchSize    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorker creates the verification worker. The cache may be nil.
func NewWorker(
	config *common.VerifierConfig,
	storageManager interfaces.StorageManager,
	verifier interfaces.MailboxVerifier,
	cache *Cache,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) *Worker {
	batch := config.BatchSize
	if batch <= 0 {
		batch = 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:        storageManager,
		verifier:     verifier,
		cache:        cache,
		events:       eventService,
		logger:       logger,
		pollInterval: common.DurationOr(config.PollInterval, 15*time.Second),
		batchSize:    batch,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start resets tasks stranded in processing by an earlier crash, then
// launches the poll loop.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("verification worker already running")
	}
	w.running = true

	if _, err := w.store.VerificationStorage().ResetStaleTasks(w.ctx, 0); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to reset stranded verification tasks")
	}

	w.logger.Info().
		Dur("poll_interval", w.pollInterval).
		Int("batch_size", w.batchSize).
		Msg("Starting verification worker")

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop cancels the poll loop and waits for the in-flight batch to settle.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info().Msg("Stopping verification worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info().Msg("Verification worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	refusals := 0
	for {
		refused, err := w.drain(w.ctx)
		if err != nil {
			w.logger.Debug().Msg("Verification worker stopping")
			return
		}

		wait := w.pollInterval
		if refused {
			refusals++
			wait = providerBackoff(w.pollInterval, refusals)
			w.logger.Warn().
				Int("consecutive_refusals", refusals).
				Dur("backoff", wait).
				Msg("Verification provider refusing requests, backing off")
		} else {
			refusals = 0
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain claims and processes batches until the queue is empty. Returns
// refused=true when the provider started rejecting on quota or auth, in
// which case the rest of the batch has been released back to pending.
func (w *Worker) drain(ctx context.Context) (bool, error) {
	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		tasks, err := w.store.VerificationStorage().ClaimVerificationBatch(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to claim verification batch")
			return false, nil
		}
		if len(tasks) == 0 {
			return false, nil
		}

		for _, task := range tasks {
			if err := w.processTask(ctx, task); err != nil {
				if interfaces.BlockedError(err) {
					w.releaseClaimed()
					return true, nil
				}
				// Shutdown mid-batch: unfinished claims stay processing
				// until the startup sweep returns them.
				return false, err
			}
		}

		if len(tasks) < w.batchSize {
			return false, nil
		}
	}
}

// processTask verifies one email. Definitive provider failures complete the
// task as failed; only blocked-provider and context errors propagate.
func (w *Worker) processTask(ctx context.Context, task *models.VerificationTask) error {
	if w.cache != nil {
		if result, ok := w.cache.Get(ctx, task.Email); ok {
			w.logger.Debug().
				Str("task_id", task.ID).
				Str("email", task.Email).
				Msg("Verification served from cache")
			return w.finishTask(ctx, task, result)
		}
	}

	result, err := w.verifier.Verify(ctx, task.Email)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if interfaces.BlockedError(err) {
			return err
		}

		task.Status = models.TaskStatusFailed
		task.Error = err.Error()
		if cerr := w.store.VerificationStorage().CompleteTask(ctx, task); cerr != nil {
			w.logger.Error().Err(cerr).Str("task_id", task.ID).Msg("Failed to record verification failure")
		}
		w.logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("email", task.Email).
			Msg("Verification failed")
		return nil
	}

	if w.cache != nil {
		w.cache.Set(ctx, task.Email, result)
	}
	return w.finishTask(ctx, task, result)
}

func (w *Worker) finishTask(ctx context.Context, task *models.VerificationTask, result *interfaces.VerifyResult) error {
	task.Status = models.TaskStatusCompleted
	task.Result = result.Status
	task.Raw = result.Raw
	task.Error = ""
	if err := w.store.VerificationStorage().CompleteTask(ctx, task); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to complete verification task")
		return nil
	}

	if task.PersonID != "" {
		if err := w.store.PersonStorage().UpdateVerification(ctx, task.TenantID, task.PersonID, result.Status, time.Now()); err != nil {
			w.logger.Warn().
				Err(err).
				Str("person_id", task.PersonID).
				Msg("Failed to update person verification status")
		}
	}

	w.publish(ctx, task)
	w.logger.Info().
		Str("task_id", task.ID).
		Str("email", task.Email).
		Str("status", string(result.Status)).
		Msg("Email verified")
	return nil
}

// releaseClaimed returns every processing task to pending. With the default
// single consumer the processing set is exactly this worker's claimed batch.
func (w *Worker) releaseClaimed() {
	if _, err := w.store.VerificationStorage().ResetStaleTasks(context.Background(), 0); err != nil {
		w.logger.Error().Err(err).Msg("Failed to release claimed verification tasks")
	}
}

func (w *Worker) publish(ctx context.Context, task *models.VerificationTask) {
	if w.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventVerificationDone,
		Payload: map[string]interface{}{
			"tenant_id": task.TenantID,
			"email":     task.Email,
			"person_id": task.PersonID,
			"status":    string(task.Result),
		},
	}
	if err := w.events.Publish(ctx, event); err != nil {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to publish verification event")
	}
}

func providerBackoff(base time.Duration, refusals int) time.Duration {
	d := base
	for i := 1; i < refusals; i++ {
		d *= 2
		if d >= maxProviderBackoff {
			return maxProviderBackoff
		}
	}
	if d > maxProviderBackoff {
		d = maxProviderBackoff
	}
	return d
}
