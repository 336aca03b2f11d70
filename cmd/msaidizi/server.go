package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"

	"github.com/jkaninda/msaidizi/internal/actionstore"
	"github.com/jkaninda/msaidizi/internal/callback"
	"github.com/jkaninda/msaidizi/internal/config"
	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/engine"
	"github.com/jkaninda/msaidizi/internal/evaluator"
	"github.com/jkaninda/msaidizi/internal/gateway/httpapi"
	"github.com/jkaninda/msaidizi/internal/handoff"
	"github.com/jkaninda/msaidizi/internal/integrations"
	"github.com/jkaninda/msaidizi/internal/invoker"
	"github.com/jkaninda/msaidizi/internal/llm"
	"github.com/jkaninda/msaidizi/internal/llm/openai"
	"github.com/jkaninda/msaidizi/internal/observability"
	"github.com/jkaninda/msaidizi/internal/prompt"
	"github.com/jkaninda/msaidizi/internal/ratelimit"
	"github.com/jkaninda/msaidizi/internal/resolver"
	"github.com/jkaninda/msaidizi/internal/sandbox"
	"github.com/jkaninda/msaidizi/internal/scheduler"
	"github.com/jkaninda/msaidizi/internal/secrets"
	"github.com/jkaninda/msaidizi/internal/storage"
	pgstore "github.com/jkaninda/msaidizi/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/msaidizi/internal/storage/sqlite"
)

var (
	serverConfigPath string
	serverAddr       string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the action execution server",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `msaidizi --config path` and `msaidizi server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer wires the stores, sub-engines, and gateway, then serves until
// SIGINT/SIGTERM.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverAddr != "" {
		cfg.Server.Addr = serverAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("starting server", slog.String("config", serverConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (nil-safe throughout).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	// Storage backend.
	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if pool != nil {
		defer pool.Close()
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating storage: %w", err)
	}
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	// Secret vault.
	cipher, err := secrets.NewCipher(cfg.Crypto.MasterKey)
	if err != nil {
		return fmt.Errorf("initializing secret cipher: %w", err)
	}
	vault := secrets.NewVault(store.Secrets(), cipher)

	// Action store with cache invalidation. Postgres deployments share
	// invalidations across replicas over LISTEN/NOTIFY.
	var bus actionstore.Bus
	if pool != nil {
		bus = actionstore.NewPgBus(pool, logger)
	} else {
		bus = actionstore.NewMemoryBus()
	}
	actions := actionstore.New(store.Actions(), bus, time.Minute, logger)
	cancelBus := actions.Start(ctx)
	defer cancelBus()

	// Core sub-engines.
	inv := invoker.New(logger)
	res := resolver.New(vault, logger)
	eval := evaluator.New()

	var sb sandbox.Sandbox = sandbox.NewProcessSandbox(sandbox.ProcessConfig{
		Interpreter:    cfg.Sandbox.Interpreter,
		DefaultTimeout: time.Duration(cfg.Sandbox.DefaultTimeoutS) * time.Second,
		DefaultLimits: sandbox.ResourceLimits{
			MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
			MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
		},
	}, logger)
	if obs != nil {
		sb = observability.NewInstrumentedSandbox(sb, "process", obs.Metrics, obs.Tracer, obs.Anomaly)
	}

	// LLM provider, semantic retriever, and prompt runner (optional).
	var (
		provider  llm.Provider
		retriever prompt.Retriever
		prompts   engine.PromptRunner
		vectorDB  *chromem.DB
		embedding chromem.EmbeddingFunc
	)
	if cfg.LLM != nil {
		provider = buildProvider(*cfg.LLM, logger)
		if len(cfg.LLM.Fallbacks) > 0 {
			chain := []llm.Provider{provider}
			for _, fb := range cfg.LLM.Fallbacks {
				chain = append(chain, buildProvider(fb, logger))
			}
			provider = llm.NewFallbackProvider(chain, logger)
		}
		retryMax := cfg.LLM.RetryMax
		if retryMax == 0 {
			retryMax = 2
		}
		provider = llm.NewRetryProvider(provider, retryMax, logger)
		if obs != nil {
			provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.Tracer, obs.Anomaly)
		}

		vectorDB, err = chromem.NewPersistentDB(filepath.Join("data", "vectors"), false)
		if err != nil {
			return fmt.Errorf("opening vector store: %w", err)
		}
		embedding = chromem.NewEmbeddingFuncOpenAI(cfg.LLM.APIKey, chromem.EmbeddingModelOpenAI3Small)
		retriever = prompt.NewChromemRetriever(vectorDB, embedding)
		prompts = prompt.NewRunner(provider, retriever, eval, sb, logger)
	}

	// Vendor adapters. The knowledge-base adapter needs the vector store.
	adapterList := []integrations.Adapter{
		integrations.NewEmailAdapter(vault, logger),
		integrations.NewJiraAdapter(inv, logger),
		integrations.NewZendeskAdapter(inv, logger),
		integrations.NewPipedriveAdapter(inv, logger),
		integrations.NewHubspotFormsAdapter(inv, logger),
		integrations.NewRazorpayAdapter(inv, logger),
		integrations.NewGoogleSearchAdapter(inv, logger),
	}
	if cfg.WebSearch != nil {
		adapterList = append(adapterList, integrations.NewWebSearchAdapter(inv, cfg.WebSearch.Endpoint, logger))
	}
	if vectorDB != nil {
		adapterList = append(adapterList, integrations.NewDatabaseAdapter(vectorDB, embedding, logger))
	}
	adapters := integrations.NewRegistry(adapterList...)

	// Live-agent handoff (optional).
	var handoffCtrl *handoff.Controller
	if cfg.Handoff != nil && cfg.Handoff.Chatwoot != nil {
		chatwoot := handoff.NewChatwootClient(handoff.ChatwootConfig{
			BaseURL:      cfg.Handoff.Chatwoot.BaseURL,
			AccountID:    cfg.Handoff.Chatwoot.AccountID,
			InboxID:      cfg.Handoff.Chatwoot.InboxID,
			APIToken:     cfg.Handoff.Chatwoot.APIToken,
			WebsocketURL: cfg.Handoff.Chatwoot.WebsocketURL,
		}, inv, logger)

		handoffCtrl = handoff.NewController(
			store.Handoffs(),
			[]handoff.AgentClient{chatwoot},
			&logNotifier{logger: logger},
			handoffConfig(cfg.Handoff),
			logger,
		)
		cancelReaper := handoffCtrl.Start(ctx)
		defer cancelReaper()
	}

	// Callback service.
	callbacks := callback.NewService(store.Callbacks(), sb, callbackSigningKey(cfg), logger)
	cancelGC := callbacks.StartGC(ctx, time.Minute)
	defer cancelGC()

	// Scheduler and engine reference each other: the engine enqueues
	// schedule entries, the scheduler fires them back into the engine.
	exec := &deferredExecutor{}
	var schedMetrics *scheduler.Metrics
	reg := obs.Registry()
	if reg != nil {
		schedMetrics = scheduler.NewMetrics(reg)
	}
	sched := scheduler.New(store.Schedules(), exec, schedMetrics, logger, scheduler.Config{
		PollInterval:  time.Duration(cfg.Scheduler.PollIntervalS) * time.Second,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Lease:         time.Duration(cfg.Scheduler.LeaseS) * time.Second,
	})

	deps := engine.Deps{
		Actions:       actions,
		Resolver:      res,
		Evaluator:     eval,
		Invoker:       inv,
		Adapters:      adapters,
		Sandbox:       sb,
		Enqueuer:      sched,
		Callbacks:     callbacks,
		CallbackStore: store.Callbacks(),
		Retriever:     retriever,
		Metrics:       engine.NewMetrics(reg),
		Logger:        logger,
	}
	if prompts != nil {
		deps.Prompts = prompts
	}
	if handoffCtrl != nil {
		deps.Handoff = handoffCtrl
	}
	eng := engine.New(deps, engine.Config{
		TurnDeadline:    cfg.Engine.TurnDeadline(),
		CallbackBaseURL: cfg.Server.CallbackBaseURL,
	})
	exec.engine = eng

	cancelScheduler := sched.Start(ctx)
	defer cancelScheduler()

	// HTTP gateway.
	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RateLimitPerMinute,
			BurstSize:         cfg.Server.RateLimitBurst,
		})
	}

	gwCfg := httpapi.Config{
		ListenAddr:      cfg.Server.ListenAddr(),
		EnableDocs:      cfg.Server.EnableDocs,
		APIKeys:         cfg.Server.APIKeys,
		MetricsRegistry: reg,
	}
	if obs != nil {
		gwCfg.HealthChecker = obs.Health
		gwCfg.Metrics = obs.Metrics
		if obs.Tracer != nil {
			gwCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	gw := httpapi.NewGateway(gwCfg, eng, limiter, logger).WithCallbacks(callbacks)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// buildProvider creates one OpenAI-compatible client from config.
func buildProvider(c config.LLMConfig, logger *slog.Logger) llm.Provider {
	opts := []openai.Option{}
	if c.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(c.BaseURL))
	}
	if c.Provider != "" && c.Provider != "openai" {
		opts = append(opts, openai.WithName(c.Provider))
	}
	return openai.NewClient(c.APIKey, c.Model, logger, opts...)
}

// loadConfig reads the config file, falling back to built-in defaults when
// the default path does not exist.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(serverConfigPath); err != nil {
		if os.IsNotExist(err) && serverConfigPath == config.DefaultConfigPath() {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.Load(serverConfigPath)
}

// openStore opens the configured storage backend. The pgx pool is returned
// separately for the LISTEN/NOTIFY invalidation bus; it is nil for SQLite.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, *pgxpool.Pool, error) {
	if cfg.Storage.StorageDriver() == storage.DriverPostgres {
		pg := cfg.Storage.Postgres
		db, err := pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		pool, err := pgxpool.New(ctx, pg.DSN)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("opening pgx pool: %w", err)
		}
		return pgstore.NewStore(db), pool, nil
	}

	var sq config.SQLiteStorageConfig
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		sq = *cfg.Storage.SQLite
	}
	st, err := sqlitestore.Open(sqlitestore.Config{
		Path:        sq.DatabasePath(),
		JournalMode: sq.JournalMode,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite: %w", err)
	}
	return st, nil, nil
}

func handoffConfig(h *config.HandoffConfig) handoff.Config {
	c := handoff.Config{
		IdleTimeout: time.Duration(h.IdleTimeoutS) * time.Second,
	}
	if wh := h.WorkingHours; wh != nil {
		loc := time.Local
		if wh.Timezone != "" {
			// Validated at startup.
			loc, _ = time.LoadLocation(wh.Timezone)
		}
		c.WorkingHours = handoff.WorkingHours{
			Enabled:  true,
			Start:    wh.Start,
			End:      wh.End,
			Location: loc,
		}
	}
	return c
}

// callbackSigningKey returns the configured signing key, or one derived from
// the master key so a single secret suffices for small deployments.
func callbackSigningKey(cfg *config.Config) []byte {
	if cfg.Crypto.CallbackSigningKey != "" {
		return []byte(cfg.Crypto.CallbackSigningKey)
	}
	sum := sha256.Sum256([]byte("callback:" + cfg.Crypto.MasterKey))
	return []byte(hex.EncodeToString(sum[:]))
}

// deferredExecutor breaks the engine↔scheduler construction cycle.
type deferredExecutor struct {
	engine scheduler.Executor
}

func (d *deferredExecutor) ExecuteScheduled(ctx context.Context, entry *domain.ScheduleEntry) error {
	if d.engine == nil {
		return domain.E(domain.KindInternal, "engine not initialized")
	}
	return d.engine.ExecuteScheduled(ctx, entry)
}

// logNotifier records agent replies for channels that poll the conversation
// state. Deployments with a push channel substitute their own notifier.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) DeliverToUser(_ context.Context, bot, sender, text string) error {
	n.logger.Info("agent reply",
		slog.String("bot", bot),
		slog.String("sender_id", sender),
		slog.String("text", text),
	)
	return nil
}
