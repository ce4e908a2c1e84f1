// Package engine runs mining jobs end to end: it accepts submissions,
// prepares miner input from the raw job payload, executes the selected
// miners, pushes their candidates through validation, deduplication and the
// cross-miner merge, scores the batch, and persists the merged contacts in
// one storage transaction per job.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/ingest"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/miners"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/queue"
)

// The processor pool drives the engine through the JobRunner contract.
var _ queue.JobRunner = (*Engine)(nil)

// Engine is the job runner. One instance serves every tenant; tenant
// isolation lives in the storage layer.
type Engine struct {
	config    *common.Config
	store     interfaces.StorageManager
	dispatch  *queue.DispatchQueue
	events    interfaces.EventService
	renderer  interfaces.PageRenderer
	registry  *miners.Registry
	ingest    *ingest.Service
	validator *pipeline.Validator
	deduper   *pipeline.Deduper
	merger    *pipeline.Merger
	validate  *validator.Validate
	defaults  models.MinerFlags
	logger    arbor.ILogger
}

// NewEngine creates the mining engine. The registry's declaration order is
// the dedup and merge tie-break priority; renderer may be nil when url jobs
// are not configured.
func NewEngine(
	config *common.Config,
	storageManager interfaces.StorageManager,
	dispatch *queue.DispatchQueue,
	eventService interfaces.EventService,
	renderer interfaces.PageRenderer,
	registry *miners.Registry,
	ingestService *ingest.Service,
	lex *lexicon.Lexicon,
	logger arbor.ILogger,
) *Engine {
	order := registry.Order()
	return &Engine{
		config:    config,
		store:     storageManager,
		dispatch:  dispatch,
		events:    eventService,
		renderer:  renderer,
		registry:  registry,
		ingest:    ingestService,
		validator: pipeline.NewValidator(lex),
		deduper:   pipeline.NewDeduper(order),
		merger:    pipeline.NewMerger(order),
		validate:  validator.New(),
		defaults:  minerDefaults(config.Miners),
		logger:    logger,
	}
}

// SubmitJob validates a request, persists the job as pending, and enqueues
// it for the processor pool. The returned job carries the assigned ID.
func (e *Engine) SubmitJob(ctx context.Context, req *models.JobRequest) (*models.MiningJob, error) {
	if req == nil {
		return nil, fmt.Errorf("job request is required")
	}
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}

	req.ApplyDefaults(e.defaults)

	switch req.Type {
	case models.JobTypeURL:
		if e.renderer == nil {
			return nil, fmt.Errorf("url jobs need a configured page renderer")
		}
		if !e.config.AllowTestURLs() && isTestURL(req.SourceURL) {
			return nil, fmt.Errorf("test urls are rejected in production: %s", req.SourceURL)
		}
	case models.JobTypeFile, models.JobTypeText:
		if len(req.Input) == 0 {
			return nil, fmt.Errorf("%s jobs need input bytes", req.Type)
		}
	}
	if !req.Miners.Any() {
		return nil, fmt.Errorf("no miners selected")
	}

	job := &models.MiningJob{
		ID:        common.NewJobID(),
		TenantID:  req.TenantID,
		Type:      req.Type,
		SourceURL: req.SourceURL,
		FileName:  req.FileName,
		Input:     req.Input,
		Miners:    req.Miners,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}

	if err := e.store.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// A pending job that never reaches the queue is picked up again by the
	// startup re-enqueue sweep; the queue dedups on job ID.
	if err := e.dispatch.Enqueue(ctx, queue.Message{JobID: job.ID, TenantID: job.TenantID}); err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	e.publish(ctx, interfaces.EventJobCreated, job)

	e.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("type", string(job.Type)).
		Msg("Job submitted")

	return job, nil
}

// RunJob executes one claimed job through the full pipeline. It satisfies
// the processor's JobRunner contract: terminal job state is managed here and
// the returned error is diagnostic. Context cancellation leaves the job
// running so a queue redelivery (or the stale-job sweep) picks it up.
func (e *Engine) RunJob(ctx context.Context, tenantID, jobID string) error {
	job, err := e.store.JobStorage().GetJob(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if job.Status.Terminal() {
		// Stale delivery of a job that already settled.
		e.logger.Debug().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Skipping terminal job")
		return nil
	}

	runStart := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = runStart
	if err := e.store.JobStorage().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", jobID, err)
	}
	e.publish(ctx, interfaces.EventJobStarted, job)

	input, err := e.prepareInput(ctx, job)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return e.failJob(ctx, job, err.Error())
	}

	selected := e.registry.Select(job.Miners)
	if len(selected) == 0 {
		return e.failJob(ctx, job, "no miners eligible for this input")
	}

	results := e.runMiners(ctx, job, selected, input)
	if err := ctx.Err(); err != nil {
		return err
	}

	// Per-miner candidates pass validation and per-miner dedup before the
	// cross-miner merge sees them.
	var rawCandidates, validContacts int
	metas := make([]models.MinerMeta, 0, len(results))
	for _, result := range results {
		vr := e.validator.Validate(result.Contacts)
		rawCandidates += vr.Stats.Processed
		validContacts += vr.Stats.Accepted
		result.Contacts = e.deduper.Dedupe(vr.Valid)
		metas = append(metas, result.Meta)
	}

	merged := e.merger.Merge(results)
	quality := pipeline.ScoreBatch(merged.Contacts)
	e.logMilestone(ctx, job, "merged", fmt.Sprintf(
		"merged %d contacts from %d miners (%d emails seen)",
		len(merged.Contacts), merged.MinersRun, len(merged.Emails)))

	// Individual miner failures never abort a job. Only a full wipeout with
	// nothing mined fails it; a blocked provider alone does not.
	if merged.MinersFailed == merged.MinersRun && len(merged.Emails) == 0 {
		return e.failJob(ctx, job, "all miners failed: "+minerFailures(results))
	}

	now := time.Now()
	rows := make([]*models.ResultRow, 0, len(merged.Contacts))
	for _, c := range merged.Contacts {
		raw, err := c.ToJSON()
		if err != nil {
			raw = ""
		}
		rows = append(rows, &models.ResultRow{
			ID:        common.NewResultID(),
			JobID:     job.ID,
			TenantID:  job.TenantID,
			Email:     c.Email,
			Name:      c.Name,
			Company:   c.Company,
			Title:     c.Title,
			Phone:     c.Phone,
			Website:   c.Website,
			Country:   c.Country,
			City:      c.City,
			Address:   c.Address,
			SourceURL: job.SourceURL,
			Sources:   strings.Join(c.Sources, ","),
			Score:     pipeline.ScoreContact(c),
			Raw:       raw,
			Status:    models.ResultStatusNew,
			CreatedAt: now,
		})
	}

	job.Status = models.JobStatusCompleted
	job.CompletedAt = now
	job.ResultCount = len(rows)
	job.Stats = models.JobStats{
		MinersRun:      merged.MinersRun,
		MinersFailed:   merged.MinersFailed,
		RawCandidates:  rawCandidates,
		ValidContacts:  validContacts,
		MergedContacts: len(merged.Contacts),
		EmailsSeen:     len(merged.Emails),
		EnrichmentRate: merged.EnrichmentRate,
		QualityScore:   quality.Score,
		Decision:       string(quality.Decision),
		WasBlocked:     merged.WasBlocked,
		Miners:         metas,
	}

	if err := e.store.JobStorage().CompleteJobWithResults(ctx, job, rows); err != nil {
		if errors.Is(err, interfaces.ErrJobTerminal) {
			// Cancelled while mining; the cancel wins and the rows are dropped.
			e.logger.Info().
				Str("job_id", job.ID).
				Msg("Job reached a terminal state while mining, results discarded")
			return nil
		}
		return e.failJob(ctx, job, fmt.Sprintf("failed to persist results: %v", err))
	}
	e.logMilestone(ctx, job, "persisted", fmt.Sprintf("%d result rows persisted", len(rows)))

	e.publish(ctx, interfaces.EventJobCompleted, job)

	e.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Int("contacts", len(rows)).
		Int("emails", len(merged.Emails)).
		Float64("quality_score", quality.Score).
		Str("decision", string(quality.Decision)).
		Dur("duration", time.Since(runStart)).
		Msg("Job completed")

	return nil
}

// FailJob marks a job failed without running it. The processor uses this to
// settle jobs whose run panicked.
func (e *Engine) FailJob(ctx context.Context, tenantID, jobID, reason string) error {
	job, err := e.store.JobStorage().GetJob(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return nil
	}
	if err := e.markFailed(ctx, job, reason); err != nil {
		return err
	}
	return nil
}

// CancelJob marks a pending or running job cancelled. A run already in
// flight finishes its mining pass; the terminal guard in storage discards
// its results.
func (e *Engine) CancelJob(ctx context.Context, tenantID, jobID string) error {
	job, err := e.store.JobStorage().GetJob(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return interfaces.ErrJobTerminal
	}

	job.Status = models.JobStatusCancelled
	job.CompletedAt = time.Now()
	if err := e.store.JobStorage().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	e.logEntry(ctx, job, "info", "cancelled", "job cancelled")

	e.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tenantID).
		Msg("Job cancelled")
	return nil
}

// prepareInput builds the shared miner input. URL jobs render exactly once;
// the reduced text, raw HTML, and pre-segmented blocks feed every selected
// miner from that single render.
func (e *Engine) prepareInput(ctx context.Context, job *models.MiningJob) (*miners.Input, error) {
	if job.Type != models.JobTypeURL {
		return e.ingest.Prepare(ctx, job)
	}

	if e.renderer == nil {
		return nil, fmt.Errorf("page rendering is not configured")
	}

	result, err := e.renderer.Render(ctx, job.SourceURL, interfaces.RenderOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := result.Page.Close(); err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to close rendered page")
		}
	}()

	html, err := result.Page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}

	blocks, method := miners.ExtractBlocks(html, e.config.Miners.MaxBlocks)
	input := &miners.Input{
		Text:        e.ingest.ReduceHTML(html, job.SourceURL),
		URL:         job.SourceURL,
		HTML:        html,
		HTTPStatus:  result.HTTPStatus,
		Blocks:      blocks,
		BlockMethod: method,
	}

	e.logger.Debug().
		Str("job_id", job.ID).
		Int("http_status", result.HTTPStatus).
		Int("blocks", len(blocks)).
		Str("block_method", method).
		Msg("Page rendered")

	if e.config.Miners.SecondPass && !interfaces.IsBlockedStatus(result.HTTPStatus) {
		e.harvestProfiles(ctx, job, html, input)
	}

	return input, nil
}

// harvestProfiles follows profile links found on the rendered page and
// appends their text blocks, so person detail pages feed the same mining
// pass as the listing that linked them.
func (e *Engine) harvestProfiles(ctx context.Context, job *models.MiningJob, html string, input *miners.Input) {
	links := miners.ExtractProfileLinks(html, job.SourceURL, e.config.Miners.MaxProfiles)
	if len(links) == 0 {
		return
	}
	e.logger.Debug().
		Str("job_id", job.ID).
		Int("profiles", len(links)).
		Msg("Following profile links")

	for _, link := range links {
		if ctx.Err() != nil {
			return
		}
		if len(input.Blocks) >= e.config.Miners.MaxBlocks {
			return
		}
		result, err := e.renderer.Render(ctx, link, interfaces.RenderOptions{})
		if err != nil {
			e.logger.Debug().Err(err).Str("url", link).Msg("Profile render failed, skipping")
			continue
		}
		pageHTML, err := result.Page.HTML(ctx)
		result.Page.Close()
		if err != nil || interfaces.IsBlockedStatus(result.HTTPStatus) {
			continue
		}
		blocks, _ := miners.ExtractBlocks(pageHTML, e.config.Miners.MaxBlocks-len(input.Blocks))
		input.Blocks = append(input.Blocks, blocks...)
		input.Text += "\n\n" + e.ingest.ReduceHTML(pageHTML, link)
	}
}

// runMiners executes the selected miners concurrently and returns their
// bundles in declaration order so downstream merging stays deterministic.
// A miner that panics or errors contributes an error bundle instead of
// taking the job down.
func (e *Engine) runMiners(ctx context.Context, job *models.MiningJob, selected []miners.Miner, input *miners.Input) []*models.MinerResult {
	results := make([]*models.MinerResult, len(selected))
	var wg sync.WaitGroup

	for i, m := range selected {
		wg.Add(1)
		go func(slot int, m miners.Miner) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error().
						Str("job_id", job.ID).
						Str("miner", string(m.Type())).
						Msgf("Miner panicked: %v", r)
					results[slot] = &models.MinerResult{
						Status: models.MineStatusError,
						Meta: models.MinerMeta{
							Source: string(m.Type()),
							Error:  fmt.Sprintf("miner panicked: %v", r),
						},
					}
				}
			}()

			e.logMilestone(ctx, job, "miner_started", fmt.Sprintf("%s miner started", m.Type()))
			start := time.Now()

			result, err := m.Mine(ctx, input)
			if result == nil {
				result = &models.MinerResult{
					Status: models.MineStatusError,
					Meta:   models.MinerMeta{Source: string(m.Type())},
				}
			}
			if err != nil && result.Meta.Error == "" {
				result.Meta.Error = err.Error()
			}
			if err != nil && result.Status != models.MineStatusBlocked {
				result.Status = models.MineStatusError
			}
			results[slot] = result

			level := "info"
			switch result.Status {
			case models.MineStatusBlocked:
				level = "warn"
			case models.MineStatusError:
				level = "error"
			}
			e.logEntry(ctx, job, level, "miner_finished", fmt.Sprintf(
				"%s miner finished: %s (%d contacts, %d emails)",
				m.Type(), result.Status, len(result.Contacts), len(result.Emails)))

			e.logger.Debug().
				Str("job_id", job.ID).
				Str("miner", string(m.Type())).
				Str("status", string(result.Status)).
				Int("contacts", len(result.Contacts)).
				Dur("duration", time.Since(start)).
				Msg("Miner finished")
		}(i, m)
	}

	wg.Wait()
	return results
}

// failJob moves a loaded job to failed and reports the reason back to the
// processor as an error.
func (e *Engine) failJob(ctx context.Context, job *models.MiningJob, reason string) error {
	if err := e.markFailed(ctx, job, reason); err != nil {
		return err
	}
	return fmt.Errorf("job %s failed: %s", job.ID, reason)
}

func (e *Engine) markFailed(ctx context.Context, job *models.MiningJob, reason string) error {
	job.Status = models.JobStatusFailed
	job.Error = reason
	job.CompletedAt = time.Now()
	if err := e.store.JobStorage().UpdateJob(ctx, job); err != nil {
		if errors.Is(err, interfaces.ErrJobTerminal) {
			return nil
		}
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		return fmt.Errorf("job %s failed (%s) and the failure could not be stored: %w", job.ID, reason, err)
	}

	e.logEntry(ctx, job, "error", "failed", reason)
	e.publish(ctx, interfaces.EventJobFailed, job)

	e.logger.Warn().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("reason", reason).
		Msg("Job failed")
	return nil
}

// logMilestone appends an info-level entry to the job's log stream.
func (e *Engine) logMilestone(ctx context.Context, job *models.MiningJob, stage, message string) {
	e.logEntry(ctx, job, "info", stage, message)
}

// logEntry appends to the job log. Log writes are best effort; a failing
// log entry never fails the job.
func (e *Engine) logEntry(ctx context.Context, job *models.MiningJob, level, stage, message string) {
	entry := &models.JobLogEntry{
		JobID:     job.ID,
		TenantID:  job.TenantID,
		Timestamp: time.Now(),
		Level:     level,
		Stage:     stage,
		Message:   message,
	}
	if err := e.store.JobStorage().AppendJobLog(ctx, entry); err != nil {
		e.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("stage", stage).
			Msg("Failed to append job log")
	}
}

func (e *Engine) publish(ctx context.Context, eventType interfaces.EventType, job *models.MiningJob) {
	if e.events == nil {
		return
	}
	event := interfaces.Event{
		Type: eventType,
		Payload: map[string]interface{}{
			"job_id":    job.ID,
			"tenant_id": job.TenantID,
			"status":    string(job.Status),
		},
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}

// minerFailures joins per-miner failure reasons for the job error text.
func minerFailures(results []*models.MinerResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Meta.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Meta.Source, r.Meta.Error))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Meta.Source, r.Status))
		}
	}
	return strings.Join(parts, "; ")
}

func minerDefaults(cfg common.MinersConfig) models.MinerFlags {
	return models.MinerFlags{
		Structured:   cfg.Structured,
		Tabular:      cfg.Tabular,
		Unstructured: cfg.Unstructured,
		DOM:          cfg.DOM,
		AI:           cfg.AI,
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isTestURL reports whether the target is a loopback or link-local address.
func isTestURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
	}
	return false
}
