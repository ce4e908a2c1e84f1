// Package app wires configuration, storage, the mining engine and the
// background collaborators into one startable unit.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/engine"
	"github.com/ternarybob/colligo/internal/ingest"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/miners"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/aggregate"
	"github.com/ternarybob/colligo/internal/services/crm"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/export"
	"github.com/ternarybob/colligo/internal/services/llm"
	"github.com/ternarybob/colligo/internal/services/mailroom"
	"github.com/ternarybob/colligo/internal/services/render"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/services/verify"
	"github.com/ternarybob/colligo/internal/storage"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/time/rate"
)

// App holds every component and owns their lifecycles. Optional
// collaborators (renderer, LLM, verifier, CRM, mailroom, scheduler) are nil
// when not configured.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService

	// Extraction collaborators
	Renderer   interfaces.PageRenderer
	LLMService interfaces.LLMService

	// Mining pipeline
	Engine        *engine.Engine
	DispatchQueue *queue.DispatchQueue
	JobProcessor  *queue.Processor

	// Post-mining services
	AggregateService *aggregate.Service
	VerifyCache      *verify.Cache
	VerifyWorker     *verify.Worker
	CRMService       *crm.Service
	ExportService    *export.Service
	SchedulerService *scheduler.Service
	MailroomService  *mailroom.Service

	// queueDB is owned by the app only when the primary store is
	// relational; with the Badger backend the dispatch queue shares the
	// store's DB.
	queueDB *badgerdb.DB
}

// New wires all components, runs the startup sweeps and starts the
// background loops. The returned app is serving until Close.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager
	logger.Debug().
		Str("backend", cfg.Storage.Type).
		Msg("Storage layer initialized")

	app.EventService = events.NewService(logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	if err := app.initEngine(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.startBackground(); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Msg("Application initialization complete")
	return app, nil
}

// initEngine builds the extraction stack: renderer, LLM, lexicon, miners,
// dispatch queue and the engine itself.
func (a *App) initEngine() error {
	// URL jobs need headless Chrome. A failed launch degrades to rejecting
	// url jobs rather than blocking text and file mining.
	if a.Config.Renderer.PoolSize > 0 {
		renderer, err := render.NewService(&a.Config.Renderer, a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to start page renderer, url jobs will be rejected")
		} else {
			a.Renderer = renderer
			a.Logger.Debug().
				Int("pool_size", a.Config.Renderer.PoolSize).
				Msg("Page renderer started")
		}
	}

	lex, err := lexicon.New()
	if err != nil {
		return fmt.Errorf("failed to load lexicon: %w", err)
	}

	a.initLLM()

	registry, err := a.buildRegistry(lex)
	if err != nil {
		return err
	}

	if err := a.initDispatchQueue(); err != nil {
		return err
	}

	a.Engine = engine.NewEngine(
		a.Config,
		a.StorageManager,
		a.DispatchQueue,
		a.EventService,
		a.Renderer,
		registry,
		ingest.NewService(lex),
		lex,
		a.Logger,
	)
	a.JobProcessor = queue.NewProcessor(a.DispatchQueue, a.Engine, a.Config.Queue.Concurrency, a.Logger)

	a.Logger.Debug().
		Int("miners", len(registry.All())).
		Int("concurrency", a.Config.Queue.Concurrency).
		Msg("Mining engine initialized")
	return nil
}

// initLLM creates the completion provider when the miner order includes the
// AI miner. A missing key degrades to mining without it.
func (a *App) initLLM() {
	if !minerOrdered(a.Config.Engine.MinerOrder, models.MinerAI) {
		return
	}
	completer, err := llm.NewService(a.Config, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("LLM provider unavailable, AI miner disabled")
		return
	}
	a.LLMService = completer
	a.Logger.Debug().
		Str("provider", string(a.Config.LLM.DefaultProvider)).
		Msg("LLM provider initialized")
}

// buildRegistry instantiates miners in the configured order. The order is
// the dedup and merge tie-break priority, highest first.
func (a *App) buildRegistry(lex *lexicon.Lexicon) (*miners.Registry, error) {
	order := a.Config.Engine.MinerOrder
	if len(order) == 0 {
		order = []string{"structured", "tabular", "unstructured", "dom", "ai"}
	}

	var selected []miners.Miner
	for _, name := range order {
		switch models.MinerType(name) {
		case models.MinerStructured:
			selected = append(selected, miners.NewStructuredMiner(lex))
		case models.MinerTabular:
			selected = append(selected, miners.NewTabularMiner(lex))
		case models.MinerUnstructured:
			selected = append(selected, miners.NewUnstructuredMiner(lex))
		case models.MinerDOM:
			selected = append(selected, miners.NewDOMMiner(lex, a.Config.Miners.MaxBlocks))
		case models.MinerAI:
			if a.LLMService == nil {
				continue
			}
			interval := common.DurationOr(a.Config.LLM.RateLimit, time.Second)
			limiter := rate.NewLimiter(rate.Every(interval), 1)
			selected = append(selected, miners.NewAIMiner(a.LLMService, limiter, a.Config.Miners.MaxAIBlocks, a.maxCompletionTokens()))
		default:
			return nil, fmt.Errorf("unknown miner %q in engine.miner_order", name)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("engine.miner_order selects no miners")
	}
	return miners.NewRegistry(selected...), nil
}

func (a *App) maxCompletionTokens() int {
	if a.Config.LLM.DefaultProvider == common.LLMProviderGemini {
		return a.Config.Gemini.MaxTokens
	}
	return a.Config.Claude.MaxTokens
}

// initDispatchQueue places the queue on the store's Badger DB, or on a
// dedicated embedded DB when the primary store is relational.
func (a *App) initDispatchQueue() error {
	var db *badgerdb.DB
	if store, ok := a.StorageManager.DB().(*badgerhold.Store); ok {
		db = store.Badger()
	} else {
		opts := badgerdb.DefaultOptions(filepath.Join(a.Config.Storage.Badger.Path, "queue"))
		if a.Config.Storage.Badger.InMemory {
			opts = badgerdb.DefaultOptions("").WithInMemory(true)
		}
		opts.Logger = nil
		owned, err := badgerdb.Open(opts)
		if err != nil {
			return fmt.Errorf("failed to open queue database: %w", err)
		}
		a.queueDB = owned
		db = owned
		a.Logger.Debug().
			Str("path", opts.Dir).
			Msg("Dispatch queue on dedicated embedded DB")
	}

	name := a.Config.Queue.QueueName
	if name == "" {
		name = "colligo_jobs"
	}
	dispatch, err := queue.NewDispatchQueue(
		db,
		name,
		common.DurationOr(a.Config.Queue.VisibilityTimeout, 5*time.Minute),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch queue: %w", err)
	}
	a.DispatchQueue = dispatch
	return nil
}

// initServices wires the post-mining services around the engine.
func (a *App) initServices() error {
	a.AggregateService = aggregate.NewService(
		a.StorageManager,
		a.EventService,
		a.Config.Verifier.Enabled,
		a.Logger,
	)
	if err := a.AggregateService.SubscribeToJobEvents(); err != nil {
		return fmt.Errorf("failed to subscribe aggregation: %w", err)
	}

	if a.Config.Verifier.Enabled {
		cache, err := verify.NewCache(&a.Config.Verifier.Cache, a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Verification cache unavailable, every task will hit the provider")
		} else {
			a.VerifyCache = cache
		}
		a.VerifyWorker = verify.NewWorker(
			&a.Config.Verifier,
			a.StorageManager,
			verify.NewProvider(&a.Config.Verifier, a.Logger),
			a.VerifyCache,
			a.EventService,
			a.Logger,
		)
	}

	if a.Config.CRM.Enabled {
		a.CRMService = crm.NewService(a.StorageManager, crm.NewClient(&a.Config.CRM), a.Logger)
		if err := a.CRMService.SubscribeToAggregationEvents(a.EventService); err != nil {
			return fmt.Errorf("failed to subscribe CRM push: %w", err)
		}
	}

	a.ExportService = export.NewService(a.StorageManager, a.Logger)

	if a.Config.Scheduler.Enabled {
		a.SchedulerService = scheduler.NewService(&a.Config.Scheduler, &a.Config.Engine, a.StorageManager, a.Logger)
	}

	if a.Config.Mailroom.Enabled {
		a.MailroomService = mailroom.NewService(&a.Config.Mailroom, a.Engine, a.Logger)
	}
	return nil
}

// startBackground runs the startup sweeps and starts the long-running
// loops. The sweeps run first so recovered jobs are queued before the
// processor begins draining.
func (a *App) startBackground() error {
	ctx := context.Background()

	threshold := common.DurationOr(a.Config.Engine.StaleJobThreshold, 30*time.Minute)
	if failed, err := a.StorageManager.JobStorage().FailStaleJobs(ctx, threshold); err != nil {
		a.Logger.Warn().Err(err).Msg("Stale job sweep failed at startup")
	} else if failed > 0 {
		a.Logger.Warn().
			Int("count", failed).
			Msg("Failed jobs stuck in running from a previous run")
	}
	a.requeuePendingJobs(ctx)

	if err := a.JobProcessor.Start(); err != nil {
		return fmt.Errorf("failed to start job processor: %w", err)
	}
	if a.VerifyWorker != nil {
		if err := a.VerifyWorker.Start(); err != nil {
			return fmt.Errorf("failed to start verification worker: %w", err)
		}
	}
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	if a.MailroomService != nil {
		if err := a.MailroomService.Start(); err != nil {
			return fmt.Errorf("failed to start mailroom: %w", err)
		}
	}
	return nil
}

// requeuePendingJobs returns pending jobs to the dispatch queue. A job that
// was submitted but never queued (crash between the two writes) is picked up
// here; the queue dedups on job ID so already-queued jobs are no-ops.
func (a *App) requeuePendingJobs(ctx context.Context) {
	pending, err := a.StorageManager.JobStorage().ListJobsByStatus(ctx, models.JobStatusPending, 0)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Pending job sweep failed at startup")
		return
	}

	requeued := 0
	for _, job := range pending {
		if err := a.DispatchQueue.Enqueue(ctx, queue.Message{JobID: job.ID, TenantID: job.TenantID}); err != nil {
			a.Logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to re-enqueue pending job")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		a.Logger.Info().
			Int("count", requeued).
			Msg("Re-enqueued pending jobs")
	}
}

// Close stops the background loops and releases resources in reverse
// start order.
func (a *App) Close() error {
	if a.MailroomService != nil {
		a.MailroomService.Stop()
	}
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}
	if a.VerifyWorker != nil {
		a.VerifyWorker.Stop()
	}
	if a.JobProcessor != nil {
		a.JobProcessor.Stop()
	}

	if a.VerifyCache != nil {
		if err := a.VerifyCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close verification cache")
		}
	}
	if a.Renderer != nil {
		if err := a.Renderer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close page renderer")
		}
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.queueDB != nil {
		if err := a.queueDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue database")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}

func minerOrdered(order []string, t models.MinerType) bool {
	if len(order) == 0 {
		return true
	}
	for _, name := range order {
		if models.MinerType(name) == t {
			return true
		}
	}
	return false
}
