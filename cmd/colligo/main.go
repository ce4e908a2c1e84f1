package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/app"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/export"
	"github.com/ternarybob/colligo/internal/storage"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths // Multiple -config flags supported
	logLevel     = flag.String("log-level", "", "Log level (overrides config)")
	dataDir      = flag.String("data-dir", "", "Badger data directory (overrides config)")
	quiet        = flag.Bool("quiet", false, "Suppress console log output")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: colligo [flags] <command>

Commands:
  serve    Run the mining engine with its background workers (default)
  mine     Submit a one-shot mining job and wait for the result
  report   Render the PDF lead report for a completed job
  version  Print version information

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Colligo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}
	if command == "version" {
		fmt.Printf("Colligo version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		} else if _, err := os.Stat("deployments/local/colligo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/colligo.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		}
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *logLevel, *dataDir)
	if *quiet {
		config.Logging.Output = dropConsoleOutput(config.Logging.Output)
	}

	logger := common.InitLogger(config)
	if !*quiet {
		common.PrintBanner(common.GetVersion())
	}

	logger.Info().
		Strs("config_files", configFiles).
		Str("storage", config.Storage.Type).
		Str("command", command).
		Msg("Configuration loaded")

	switch command {
	case "serve":
		runServe(config, logger)
	case "mine":
		runMine(config, logger, flag.Args()[1:])
	case "report":
		runReport(config, logger, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		os.Exit(2)
	}
}

// runServe starts the full application and blocks until interrupted.
func runServe(config *common.Config, logger arbor.ILogger) {
	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	logger.Info().Msg("Colligo ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
}

// runMine submits a single job, waits for the pipeline to finish it and
// prints the outcome. Mailbox intake and scheduled maintenance stay off for
// one-shot runs.
func runMine(config *common.Config, logger arbor.ILogger, args []string) {
	flags := flag.NewFlagSet("mine", flag.ExitOnError)
	tenantID := flags.String("tenant", "", "Tenant the job belongs to (required)")
	sourceURL := flags.String("url", "", "Page URL to mine")
	filePath := flags.String("file", "", "File to mine (PDF, markdown, CSV or plain text)")
	text := flags.String("text", "", "Literal text to mine")
	timeout := flags.Duration("timeout", 10*time.Minute, "How long to wait for the job to finish")
	if err := flags.Parse(args); err != nil {
		os.Exit(2)
	}

	req, err := buildJobRequest(*tenantID, *sourceURL, *filePath, *text)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid mine arguments")
	}

	config.Mailroom.Enabled = false
	config.Scheduler.Enabled = false

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	job, err := application.Engine.SubmitJob(ctx, req)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to submit job")
	}
	logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Msg("Job submitted, waiting for completion")

	final, err := waitForJob(ctx, application, job.TenantID, job.ID)
	if err != nil {
		logger.Fatal().Err(err).Str("job_id", job.ID).Msg("Job did not finish in time")
	}

	if final.Status == models.JobStatusFailed {
		logger.Error().
			Str("job_id", final.ID).
			Str("error", final.Error).
			Msg("Job failed")
		os.Exit(1)
	}

	fmt.Printf("Job %s %s\n", final.ID, final.Status)
	fmt.Printf("  contacts: %d\n", final.ResultCount)
	fmt.Printf("  quality:  %s (score %.1f)\n", final.Stats.Decision, final.Stats.QualityScore)
	fmt.Printf("  miners:   %d run, %d failed\n", final.Stats.MinersRun, final.Stats.MinersFailed)
}

// runReport renders a stored job's lead report to a PDF file. Only the
// store is opened; no background workers run.
func runReport(config *common.Config, logger arbor.ILogger, args []string) {
	flags := flag.NewFlagSet("report", flag.ExitOnError)
	tenantID := flags.String("tenant", "", "Tenant the job belongs to (required)")
	jobID := flags.String("job", "", "Job to report on (required)")
	outPath := flags.String("out", "", "Output file (default: <export.output_dir>/<job>.pdf)")
	if err := flags.Parse(args); err != nil {
		os.Exit(2)
	}
	if *tenantID == "" || *jobID == "" {
		logger.Fatal().Msg("Both -tenant and -job are required")
	}

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storageManager.Close()

	exporter := export.NewService(storageManager, logger)
	pdf, err := exporter.ExportJobPDF(context.Background(), *tenantID, *jobID)
	if err != nil {
		logger.Fatal().Err(err).Str("job_id", *jobID).Msg("Failed to export report")
	}

	target := *outPath
	if target == "" {
		dir := config.Export.OutputDir
		if dir == "" {
			dir = "./reports"
		}
		target = filepath.Join(dir, *jobID+".pdf")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create report directory")
	}
	if err := os.WriteFile(target, pdf, 0644); err != nil {
		logger.Fatal().Err(err).Msg("Failed to write report")
	}

	fmt.Printf("Report written to %s (%d bytes)\n", target, len(pdf))
}

// buildJobRequest maps mine flags onto a job request. Exactly one input
// source must be given.
func buildJobRequest(tenantID, sourceURL, filePath, text string) (*models.JobRequest, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("-tenant is required")
	}

	sources := 0
	for _, s := range []string{sourceURL, filePath, text} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one of -url, -file or -text is required")
	}

	req := &models.JobRequest{TenantID: tenantID}
	switch {
	case sourceURL != "":
		req.Type = models.JobTypeURL
		req.SourceURL = sourceURL
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		req.Type = models.JobTypeFile
		req.FileName = filepath.Base(filePath)
		req.Input = data
	default:
		req.Type = models.JobTypeText
		req.Input = []byte(text)
	}
	return req, nil
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(ctx context.Context, application *app.App, tenantID, jobID string) (*models.MiningJob, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := application.StorageManager.JobStorage().GetJob(ctx, tenantID, jobID)
			if err != nil {
				return nil, err
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}
	}
}

func dropConsoleOutput(outputs []string) []string {
	kept := make([]string, 0, len(outputs))
	for _, o := range outputs {
		if o == "stdout" || o == "console" {
			continue
		}
		kept = append(kept, o)
	}
	return kept
}
