package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// JobRunner executes mining jobs claimed from the dispatch queue. The engine
// implements it; FailJob exists so the processor can settle a job whose run
// panicked before the engine could record the failure itself.
type JobRunner interface {
	RunJob(ctx context.Context, tenantID, jobID string) error
	FailJob(ctx context.Context, tenantID, jobID, reason string) error
}

// Backoff bounds for idle polling.
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Processor drains the dispatch queue with a pool of worker goroutines and
// hands each claimed job to the runner. Jobs are settled (deleted from the
// queue) whether the run succeeds or fails; job state carries the outcome,
// redelivery only covers worker crashes.
type Processor struct {
	queue  *DispatchQueue
	runner JobRunner
	logger arbor.ILogger

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	concurrency int
}

// NewProcessor creates a processor with the given worker count.
func NewProcessor(queue *DispatchQueue, runner JobRunner, concurrency int, logger arbor.ILogger) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		queue:       queue,
		runner:      runner,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		concurrency: concurrency,
	}
}

// Start launches the worker pool.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("processor already running")
	}
	p.running = true

	p.logger.Info().
		Int("concurrency", p.concurrency).
		Msg("Starting job processor")

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.work(i)
	}

	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping job processor...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Job processor stopped")
}

// work is the polling loop for one worker goroutine. Idle polls back off
// exponentially so an empty queue does not burn CPU.
func (p *Processor) work(workerID int) {
	defer p.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Int("worker_id", workerID).
				Msg("Job worker terminated by panic")
		}
	}()

	p.logger.Debug().
		Int("worker_id", workerID).
		Msg("Job worker started")

	currentBackoff := minBackoff

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Msg("Job worker stopping")
			return
		default:
			if p.processNext(workerID) {
				currentBackoff = minBackoff
				continue
			}

			select {
			case <-p.ctx.Done():
				return
			case <-time.After(currentBackoff):
			}

			currentBackoff *= 2
			if currentBackoff > maxBackoff {
				currentBackoff = maxBackoff
			}
		}
	}
}

// processNext claims and runs one job. Returns true when a message was
// claimed, false when the queue was empty.
func (p *Processor) processNext(workerID int) bool {
	ctx, cancel := context.WithTimeout(p.ctx, time.Second)
	defer cancel()

	msg, deleteFn, err := p.queue.Receive(ctx)
	if err != nil {
		return false
	}

	start := time.Now()

	// A panic inside the runner must not take the worker down or leave the
	// message looping: mark the job failed and settle the message.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Str("job_id", msg.JobID).
				Int("worker_id", workerID).
				Msg("Recovered from panic while running job")

			if err := p.runner.FailJob(p.ctx, msg.TenantID, msg.JobID, fmt.Sprintf("job panicked: %v", r)); err != nil {
				p.logger.Error().
					Err(err).
					Str("job_id", msg.JobID).
					Msg("Failed to mark panicked job as failed")
			}
			if err := deleteFn(); err != nil {
				p.logger.Error().
					Err(err).
					Str("job_id", msg.JobID).
					Msg("Failed to delete message after panic")
			}
		}
	}()

	p.logger.Info().
		Str("job_id", msg.JobID).
		Str("tenant_id", msg.TenantID).
		Int("worker_id", workerID).
		Msg("Job claimed")

	if err := p.runner.RunJob(p.ctx, msg.TenantID, msg.JobID); err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Int("worker_id", workerID).
			Dur("duration", time.Since(start)).
			Msg("Job failed")
	} else {
		p.logger.Info().
			Str("job_id", msg.JobID).
			Int("worker_id", workerID).
			Dur("duration", time.Since(start)).
			Msg("Job finished")
	}

	if err := deleteFn(); err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to delete message from queue")
	}

	return true
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
