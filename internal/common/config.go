package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - controls test URL validation
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Engine      EngineConfig    `toml:"engine"`
	Miners      MinersConfig    `toml:"miners"`
	Renderer    RendererConfig  `toml:"renderer"`
	LLM         LLMConfig       `toml:"llm"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	Verifier    VerifierConfig  `toml:"verifier"`
	CRM         CRMConfig       `toml:"crm"`
	Mailroom    MailroomConfig  `toml:"mailroom"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Export      ExportConfig    `toml:"export"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

type StorageConfig struct {
	Type     string         `toml:"type"` // "badger" (embedded, default) or "postgres"
	Badger   BadgerConfig   `toml:"badger"`
	Postgres PostgresConfig `toml:"postgres"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // Run fully in memory (tests)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PostgresConfig represents the relational backend configuration
type PostgresConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`       // disable, require, verify-full
	MaxOpenConns int    `toml:"max_open_conns"` // Connection pool ceiling
	MaxIdleConns int    `toml:"max_idle_conns"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent mining jobs
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before dead-letter
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

// EngineConfig controls job execution behavior
type EngineConfig struct {
	MinerOrder        []string `toml:"miner_order"`         // Dedup tie-break priority, highest first
	StaleJobThreshold string   `toml:"stale_job_threshold"` // Jobs running longer than this are failed at startup sweep
	RetentionDays     int      `toml:"retention_days"`      // Completed jobs older than this are purged by the scheduler
}

// MinersConfig holds per-miner defaults; job flags override these
type MinersConfig struct {
	Structured   bool `toml:"structured"`
	Tabular      bool `toml:"tabular"`
	Unstructured bool `toml:"unstructured"`
	DOM          bool `toml:"dom"`
	AI           bool `toml:"ai"`
	MaxBlocks    int  `toml:"max_blocks"`    // DOM block cap per page
	MaxAIBlocks  int  `toml:"max_ai_blocks"` // Blocks forwarded to the LLM per job
	SecondPass   bool `toml:"second_pass"`   // Crawl harvested profile links
	MaxProfiles  int  `toml:"max_profiles"`  // Profile links followed on second pass
}

// RendererConfig contains headless browser configuration
type RendererConfig struct {
	PoolSize    int    `toml:"pool_size"`    // Number of browser instances
	PageTimeout string `toml:"page_timeout"` // Per-page load deadline (default: "30s")
	WaitUntil   string `toml:"wait_until"`   // "domcontentloaded" or "networkidle"
	UserAgent   string `toml:"user_agent"`
	ViewportW   int    `toml:"viewport_width"`
	ViewportH   int    `toml:"viewport_height"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude" (default: "claude")
	BlockTimeout    string      `toml:"block_timeout"`    // Per-block completion deadline (default: "10s")
	RateLimit       string      `toml:"rate_limit"`       // Minimum interval between block completions
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for extraction (default: "gemini-3-flash-preview")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 1024)
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.1)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key (ANTHROPIC_API_KEY or config)
	Model       string  `toml:"model"`       // Model for extraction (default: "claude-haiku-3-5-20241022")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 1024)
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.1)
}

// VerifierConfig contains mailbox verification provider configuration
type VerifierConfig struct {
	Enabled        bool        `toml:"enabled"`
	BaseURL        string      `toml:"base_url"`         // Provider endpoint
	APIKey         string      `toml:"api_key"`          // Provider API key
	PollInterval   string      `toml:"poll_interval"`    // Worker poll cadence (default: "15s")
	BatchSize      int         `toml:"batch_size"`       // Tasks claimed per poll
	RequestTimeout string      `toml:"request_timeout"`  // Per-email verification deadline (default: "15s")
	QuotaPerMinute int         `toml:"quota_per_minute"` // Provider rate cap
	Cache          CacheConfig `toml:"cache"`
}

// CacheConfig contains the optional Redis verification cache
type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"` // host:port
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TTL      string `toml:"ttl"` // Verified-result reuse window (default: "720h")
}

// CRMConfig contains the outbound CRM push configuration
type CRMConfig struct {
	Enabled      bool   `toml:"enabled"`
	BaseURL      string `toml:"base_url"`  // CRM API endpoint
	TokenURL     string `toml:"token_url"` // OAuth2 client-credentials token endpoint
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	BatchSize    int    `toml:"batch_size"` // Contacts per push request (default: 100)
}

// MailroomConfig contains IMAP intake configuration
type MailroomConfig struct {
	Enabled       bool   `toml:"enabled"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	UseTLS        bool   `toml:"use_tls"`
	Folder        string `toml:"folder"`         // Mailbox to watch (default: "INBOX")
	SubjectFilter string `toml:"subject_filter"` // Only messages whose subject contains this
	PollInterval  string `toml:"poll_interval"`  // Intake cadence (default: "2m")
	TenantID      string `toml:"tenant_id"`      // Tenant the intake jobs belong to
}

// SchedulerConfig contains cron maintenance schedules
type SchedulerConfig struct {
	Enabled        bool   `toml:"enabled"`
	StaleResetCron string `toml:"stale_reset_cron"` // Verification stale-task sweep (default: "*/5 * * * *")
	RetentionCron  string `toml:"retention_cron"`   // Completed-job purge (default: "0 3 * * *")
	StaleTaskAge   string `toml:"stale_task_age"`   // Processing tasks older than this reset to pending
}

// ExportConfig contains lead-report export configuration
type ExportConfig struct {
	OutputDir string `toml:"output_dir"` // Directory for generated PDF reports
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				Database:     "colligo",
				User:         "colligo",
				SSLMode:      "disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4, // Concurrent mining jobs; miners inside a job add their own goroutines
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "colligo_jobs",
		},
		Engine: EngineConfig{
			MinerOrder:        []string{"structured", "tabular", "unstructured", "dom", "ai"},
			StaleJobThreshold: "30m",
			RetentionDays:     30,
		},
		Miners: MinersConfig{
			Structured:   true,
			Tabular:      true,
			Unstructured: true,
			DOM:          true,
			AI:           false, // Off unless an LLM key is configured
			MaxBlocks:    50,
			MaxAIBlocks:  10,
			SecondPass:   false,
			MaxProfiles:  10,
		},
		Renderer: RendererConfig{
			PoolSize:    2,
			PageTimeout: "30s",
			WaitUntil:   "domcontentloaded",
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportW:   1280,
			ViewportH:   900,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
			BlockTimeout:    "10s",
			RateLimit:       "1s",
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key (no fallback)
			Model:       "gemini-3-flash-preview",
			MaxTokens:   1024,
			Temperature: 0.1, // Extraction wants determinism, not creativity
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   1024,
			Temperature: 0.1,
		},
		Verifier: VerifierConfig{
			Enabled:        false,
			PollInterval:   "15s",
			BatchSize:      20,
			RequestTimeout: "15s",
			QuotaPerMinute: 60,
			Cache: CacheConfig{
				Enabled: false,
				Addr:    "localhost:6379",
				TTL:     "720h", // 30 days
			},
		},
		CRM: CRMConfig{
			Enabled:   false,
			BatchSize: 100,
		},
		Mailroom: MailroomConfig{
			Enabled:      false,
			Port:         993, // IMAP SSL default
			UseTLS:       true,
			Folder:       "INBOX",
			PollInterval: "2m",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			StaleResetCron: "*/5 * * * *",
			RetentionCron:  "0 3 * * *",
			StaleTaskAge:   "10m",
		},
		Export: ExportConfig{
			OutputDir: "./reports",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
// Example: LoadFromFiles("base.toml", "override.toml") - override.toml settings take precedence over base.toml
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: COLLIGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("COLLIGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if storageType := os.Getenv("COLLIGO_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("COLLIGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if pgHost := os.Getenv("COLLIGO_POSTGRES_HOST"); pgHost != "" {
		config.Storage.Postgres.Host = pgHost
	}
	if pgPort := os.Getenv("COLLIGO_POSTGRES_PORT"); pgPort != "" {
		if p, err := strconv.Atoi(pgPort); err == nil {
			config.Storage.Postgres.Port = p
		}
	}
	if pgDB := os.Getenv("COLLIGO_POSTGRES_DATABASE"); pgDB != "" {
		config.Storage.Postgres.Database = pgDB
	}
	if pgUser := os.Getenv("COLLIGO_POSTGRES_USER"); pgUser != "" {
		config.Storage.Postgres.User = pgUser
	}
	if pgPassword := os.Getenv("COLLIGO_POSTGRES_PASSWORD"); pgPassword != "" {
		config.Storage.Postgres.Password = pgPassword
	}
	if pgSSL := os.Getenv("COLLIGO_POSTGRES_SSL_MODE"); pgSSL != "" {
		config.Storage.Postgres.SSLMode = pgSSL
	}

	// Queue configuration
	if pollInterval := os.Getenv("COLLIGO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("COLLIGO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("COLLIGO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("COLLIGO_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("COLLIGO_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	// Renderer configuration
	if poolSize := os.Getenv("COLLIGO_RENDERER_POOL_SIZE"); poolSize != "" {
		if ps, err := strconv.Atoi(poolSize); err == nil {
			config.Renderer.PoolSize = ps
		}
	}
	if pageTimeout := os.Getenv("COLLIGO_RENDERER_PAGE_TIMEOUT"); pageTimeout != "" {
		if _, err := time.ParseDuration(pageTimeout); err == nil {
			config.Renderer.PageTimeout = pageTimeout
		}
	}
	if userAgent := os.Getenv("COLLIGO_RENDERER_USER_AGENT"); userAgent != "" {
		config.Renderer.UserAgent = userAgent
	}

	// LLM provider configuration
	if provider := os.Getenv("COLLIGO_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if rateLimit := os.Getenv("COLLIGO_LLM_RATE_LIMIT"); rateLimit != "" {
		config.LLM.RateLimit = rateLimit
	}

	// Gemini configuration
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("COLLIGO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey // COLLIGO_ prefix takes priority
	}
	if model := os.Getenv("COLLIGO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("COLLIGO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // COLLIGO_ prefix takes priority
	}
	if model := os.Getenv("COLLIGO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Verifier configuration
	if enabled := os.Getenv("COLLIGO_VERIFIER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Verifier.Enabled = e
		}
	}
	if baseURL := os.Getenv("COLLIGO_VERIFIER_BASE_URL"); baseURL != "" {
		config.Verifier.BaseURL = baseURL
	}
	if apiKey := os.Getenv("COLLIGO_VERIFIER_API_KEY"); apiKey != "" {
		config.Verifier.APIKey = apiKey
	}
	if pollInterval := os.Getenv("COLLIGO_VERIFIER_POLL_INTERVAL"); pollInterval != "" {
		if _, err := time.ParseDuration(pollInterval); err == nil {
			config.Verifier.PollInterval = pollInterval
		}
	}
	if batchSize := os.Getenv("COLLIGO_VERIFIER_BATCH_SIZE"); batchSize != "" {
		if bs, err := strconv.Atoi(batchSize); err == nil {
			config.Verifier.BatchSize = bs
		}
	}
	if cacheAddr := os.Getenv("COLLIGO_VERIFIER_CACHE_ADDR"); cacheAddr != "" {
		config.Verifier.Cache.Addr = cacheAddr
		config.Verifier.Cache.Enabled = true
	}

	// CRM configuration
	if enabled := os.Getenv("COLLIGO_CRM_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.CRM.Enabled = e
		}
	}
	if baseURL := os.Getenv("COLLIGO_CRM_BASE_URL"); baseURL != "" {
		config.CRM.BaseURL = baseURL
	}
	if tokenURL := os.Getenv("COLLIGO_CRM_TOKEN_URL"); tokenURL != "" {
		config.CRM.TokenURL = tokenURL
	}
	if clientID := os.Getenv("COLLIGO_CRM_CLIENT_ID"); clientID != "" {
		config.CRM.ClientID = clientID
	}
	if clientSecret := os.Getenv("COLLIGO_CRM_CLIENT_SECRET"); clientSecret != "" {
		config.CRM.ClientSecret = clientSecret
	}

	// Mailroom configuration
	if host := os.Getenv("COLLIGO_MAILROOM_HOST"); host != "" {
		config.Mailroom.Host = host
	}
	if username := os.Getenv("COLLIGO_MAILROOM_USERNAME"); username != "" {
		config.Mailroom.Username = username
	}
	if password := os.Getenv("COLLIGO_MAILROOM_PASSWORD"); password != "" {
		config.Mailroom.Password = password
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, logLevel string, dataDir string) {
	// Command-line flags have highest priority
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	if dataDir != "" {
		config.Storage.Badger.Path = dataDir
	}
}

// Validate checks cross-field constraints that TOML decoding cannot express
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "", "badger", "postgres":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected badger or postgres)", c.Storage.Type)
	}

	switch c.LLM.DefaultProvider {
	case "", LLMProviderGemini, LLMProviderClaude:
	default:
		return fmt.Errorf("unsupported llm provider: %s (expected gemini or claude)", c.LLM.DefaultProvider)
	}

	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.StaleResetCron); err != nil {
			return fmt.Errorf("scheduler.stale_reset_cron: %w", err)
		}
		if err := ValidateSchedule(c.Scheduler.RetentionCron); err != nil {
			return fmt.Errorf("scheduler.retention_cron: %w", err)
		}
	}

	if c.Verifier.Enabled && c.Verifier.BaseURL == "" {
		return fmt.Errorf("verifier.base_url is required when the verifier is enabled")
	}
	if c.CRM.Enabled && (c.CRM.BaseURL == "" || c.CRM.TokenURL == "") {
		return fmt.Errorf("crm.base_url and crm.token_url are required when CRM push is enabled")
	}
	if c.Mailroom.Enabled {
		if c.Mailroom.Host == "" || c.Mailroom.Username == "" {
			return fmt.Errorf("mailroom.host and mailroom.username are required when the mailroom is enabled")
		}
		if c.Mailroom.TenantID == "" {
			return fmt.Errorf("mailroom.tenant_id is required when the mailroom is enabled")
		}
	}

	return nil
}

// ResolveAPIKey resolves an API key by name with environment variable priority
// Resolution order: environment variables → config fallback → error
// This ensures COLLIGO_* environment variables always take precedence
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key":   {"COLLIGO_GEMINI_API_KEY", "GEMINI_API_KEY"},
		"claude_api_key":   {"COLLIGO_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
		"verifier_api_key": {"COLLIGO_VERIFIER_API_KEY"},
	}

	// Check environment variables (highest priority, try prefixed names first)
	if envVarNames, hasMappedEnv := keyToEnvMapping[name]; hasMappedEnv {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	// Fallback to config value (lowest priority)
	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// ValidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Check for patterns that violate 5-minute minimum
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// DurationOr parses a duration string, falling back to a default on empty or invalid input
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed
// Test URLs are only allowed in development mode
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}

// ConnectionString builds the lib/pq DSN from the postgres block
func (p *PostgresConfig) ConnectionString() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("dbname=%s", p.Database),
		fmt.Sprintf("user=%s", p.User),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	return strings.Join(parts, " ")
}
