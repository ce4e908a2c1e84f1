// Package scheduler runs recurring maintenance on the store: stale-claim
// recovery and terminal-job retention.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// jobEntry tracks one registered maintenance job.
type jobEntry struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// JobStatus is the reportable state of a registered job.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	IsRunning bool       `json:"is_running"`
	LastError string     `json:"last_error,omitempty"`
}

// Service owns the cron runner and the maintenance handlers.
type Service struct {
	store  interfaces.StorageManager
	cron   *cron.Cron
	logger arbor.ILogger

	staleResetCron string
	retentionCron  string
	staleTaskAge   time.Duration
	staleJobAge    time.Duration
	retention      time.Duration

	jobMu    sync.Mutex // Protects jobs map
	globalMu sync.Mutex // Serializes job execution
	jobs     map[string]*jobEntry
	running  bool
}

// NewService creates the maintenance scheduler. Cron expressions were
// validated at config load; empty ones fall back to the defaults here.
func NewService(schedulerConfig *common.SchedulerConfig, engineConfig *common.EngineConfig, storageManager interfaces.StorageManager, logger arbor.ILogger) *Service {
	staleResetCron := schedulerConfig.StaleResetCron
	if staleResetCron == "" {
		staleResetCron = "*/5 * * * *"
	}
	retentionCron := schedulerConfig.RetentionCron
	if retentionCron == "" {
		retentionCron = "0 3 * * *"
	}
	retentionDays := engineConfig.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &Service{
		store:          storageManager,
		cron:           cron.New(),
		logger:         logger,
		staleResetCron: staleResetCron,
		retentionCron:  retentionCron,
		staleTaskAge:   common.DurationOr(schedulerConfig.StaleTaskAge, 10*time.Minute),
		staleJobAge:    common.DurationOr(engineConfig.StaleJobThreshold, 30*time.Minute),
		retention:      time.Duration(retentionDays) * 24 * time.Hour,
		jobs:           make(map[string]*jobEntry),
	}
}

// Start registers the maintenance jobs and begins the cron runner.
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.RegisterJob("stale-sweep", s.staleResetCron, s.runStaleSweep); err != nil {
		return err
	}
	if err := s.RegisterJob("job-retention", s.retentionCron, s.runRetention); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("stale_sweep", s.staleResetCron).
		Str("retention", s.retentionCron).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron runner and waits for an in-flight job to finish.
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
	return nil
}

// IsRunning returns true while the scheduler is active.
func (s *Service) IsRunning() bool {
	return s.running
}

// RegisterJob adds a named job to the cron runner.
func (s *Service) RegisterJob(name string, schedule string, handler func(ctx context.Context) error) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:     name,
		schedule: schedule,
		handler:  handler,
	}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}
	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Maintenance job registered")
	return nil
}

// TriggerJob runs a registered job immediately in the background.
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s is already running", name)
	}
	s.jobMu.Unlock()

	s.logger.Info().
		Str("job_name", name).
		Msg("Manually triggering maintenance job")
	go s.executeJob(name)
	return nil
}

// JobStatuses reports every registered job with its next scheduled run.
func (s *Service) JobStatuses() map[string]*JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	statuses := make(map[string]*JobStatus, len(s.jobs))
	for name, entry := range s.jobs {
		status := &JobStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			LastRun:   entry.lastRun,
			IsRunning: entry.isRunning,
			LastError: entry.lastError,
		}
		for _, cronEntry := range s.cron.Entries() {
			if cronEntry.ID == entry.cronID {
				next := cronEntry.Next
				status.NextRun = &next
				break
			}
		}
		statuses[name] = status
	}
	return statuses
}

// executeJob wraps a handler with panic recovery, serialization and status
// tracking. Maintenance jobs never run concurrently with each other.
func (s *Service) executeJob(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in maintenance job")
			s.jobMu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.jobMu.Unlock()
		}
	}()

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Maintenance job not found")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	err := handler(context.Background())

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Maintenance job failed")
		return
	}
	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", time.Since(started)).
		Msg("Maintenance job completed")
}

// runStaleSweep returns abandoned verification claims to pending and fails
// jobs stuck in running.
func (s *Service) runStaleSweep(ctx context.Context) error {
	reset, err := s.store.VerificationStorage().ResetStaleTasks(ctx, s.staleTaskAge)
	if err != nil {
		return fmt.Errorf("failed to reset stale verification tasks: %w", err)
	}
	failed, err := s.store.JobStorage().FailStaleJobs(ctx, s.staleJobAge)
	if err != nil {
		return fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	if reset > 0 || failed > 0 {
		s.logger.Warn().
			Int("tasks_reset", reset).
			Int("jobs_failed", failed).
			Msg("Stale sweep recovered abandoned work")
	}
	return nil
}

// runRetention purges terminal jobs older than the retention window.
func (s *Service) runRetention(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	purged, err := s.store.JobStorage().DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge expired jobs: %w", err)
	}
	if purged > 0 {
		s.logger.Info().
			Int("jobs_purged", purged).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Retention purge complete")
	}
	return nil
}
