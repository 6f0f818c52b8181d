package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mira-ai/mira/internal/config"
	"github.com/mira-ai/mira/internal/eventbus"
	"github.com/mira-ai/mira/internal/kv"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/llm/providers"
	"github.com/mira-ai/mira/internal/memory"
	"github.com/mira-ai/mira/internal/memory/embeddings"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/observability"
	"github.com/mira-ai/mira/internal/orchestrator"
	"github.com/mira-ai/mira/internal/segment"
	"github.com/mira-ai/mira/internal/streamevents"
	"github.com/mira-ai/mira/internal/tools"
	"github.com/mira-ai/mira/internal/trinket"
	"github.com/mira-ai/mira/internal/uow"
)

// chatLockTTL bounds how long a single turn may hold a user's chat_lock
// (§5: at most one in-flight turn per user) before a crashed turn's lock
// is reclaimed by the next request.
const chatLockTTL = 2 * time.Minute

// turnRequestLine is one line of stdin: a single turn request.
type turnRequestLine struct {
	UserID      string `json:"user_id"`
	ContinuumID string `json:"continuum_id,omitempty"`
	Text        string `json:"text"`
	BasePrompt  string `json:"base_prompt,omitempty"`
}

// turnResponseLine is one line of stdout: the result of processing a
// turnRequestLine, or an error.
type turnResponseLine struct {
	ContinuumID        string   `json:"continuum_id,omitempty"`
	Assistant          string   `json:"assistant,omitempty"`
	ToolsUsed          []string `json:"tools_used,omitempty"`
	ReferencedMemories []string `json:"referenced_memories,omitempty"`
	SurfacedMemories   []string `json:"surfaced_memories,omitempty"`
	ProcessingTimeMS   int64    `json:"processing_time_ms,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// server bundles every live collaborator runServe builds, so shutdown can
// close them in one place.
type server struct {
	cfg          *config.Config
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	tracerStop   func(context.Context) error
	bus          *eventbus.Bus
	kvStore      *kv.Store
	pool         *uow.Pool
	repo         *uow.ContinuumRepository
	memManager   *memory.Manager
	segments     *segment.Service
	trinkets     *trinket.Core
	orch         *orchestrator.Orchestrator
	segmentCfg   config.SegmentsConfig
	continuums   map[uuid.UUID]*models.Continuum
	metricsHTTP  *http.Server
}

// runServe wires the full orchestrator dependency graph from cfg and runs
// the stdin/stdout turn loop until a shutdown signal arrives or stdin
// closes.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	srv, err := buildServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer srv.Close()

	srv.logger.Info(ctx, "mira starting",
		"version", version, "commit", commit, "config", configPath, "debug", debug)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.MetricsPort > 0 {
		srv.startMetricsServer(cfg.Server.Host, cfg.Server.MetricsPort)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.runTurnLoop(ctx, os.Stdin, os.Stdout) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	srv.logger.Info(ctx, "shutdown signal received, initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if srv.metricsHTTP != nil {
		_ = srv.metricsHTTP.Shutdown(shutdownCtx)
	}

	srv.logger.Info(ctx, "mira stopped gracefully")
	return nil
}

// buildServer wires every collaborator in orchestrator.Deps from cfg.
func buildServer(ctx context.Context, cfg *config.Config) (*server, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})
	metrics := observability.NewMetrics()
	tracer, tracerStop := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "mira",
		ServiceVersion: version,
	})

	bus := eventbus.New(func(topic string, category eventbus.FailureCategory, recovered any) {
		logger.Error(ctx, "event bus handler failed", "topic", topic, "category", category, "recovered", fmt.Sprintf("%v", recovered))
	})

	kvStore, err := kv.New(kv.Config{
		Addr:     cfg.KV.Addr,
		Password: cfg.KV.Password,
		DB:       cfg.KV.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}

	pool, err := uow.NewPool(ctx, uow.Config{DSN: cfg.SQL.DSN, MaxConnections: cfg.SQL.MaxConnections})
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("uow: %w", err)
	}
	repo := uow.NewContinuumRepository()

	memManager, err := memory.NewManager(&cfg.Memory)
	if err != nil {
		pool.Close()
		kvStore.Close()
		return nil, fmt.Errorf("memory: %w", err)
	}

	var relevance *memory.RelevanceService
	if memManager != nil {
		cache := memory.NewEmbeddingCache(kvStore)
		relevance = memory.NewRelevanceService(memManager.Backend(), memManager.Embedder(), cache)
	}
	embedder := segmentEmbedder(memManager)

	failover := llm.NewFailover(llm.FailoverConfig{
		EmergencyEndpointURL: cfg.LLM.Failover.EmergencyEndpointURL,
		EmergencyModel:       cfg.LLM.Failover.EmergencyModel,
		RecoveryTimeout:      cfg.LLM.Failover.RecoveryTimeout,
	})

	native, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.Native.APIKey,
		BaseURL:      cfg.LLM.Native.BaseURL,
		DefaultModel: cfg.LLM.Native.DefaultModel,
		Failover:     failover,
	})
	if err != nil {
		pool.Close()
		kvStore.Close()
		return nil, fmt.Errorf("llm: native provider: %w", err)
	}

	var provider llm.Provider = native
	if cfg.LLM.Generic.APIKey != "" {
		emergency, err := providers.NewGenericProvider(providers.GenericConfig{
			APIKey:       cfg.LLM.Generic.APIKey,
			BaseURL:      cfg.LLM.Generic.BaseURL,
			DefaultModel: cfg.LLM.Generic.DefaultModel,
			Failover:     failover,
		})
		if err != nil {
			pool.Close()
			kvStore.Close()
			return nil, fmt.Errorf("llm: generic provider: %w", err)
		}
		provider = llm.NewFailoverProvider(native, emergency, failover)
	}

	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, tools.DefaultExecutorConfig(), metrics)

	trinkets := trinket.NewCore(bus)
	trinkets.Register(trinket.NewProactiveMemoryTrinket())
	trinkets.Register(trinket.NewManifestTrinket())
	trinkets.Register(trinket.NewDatetimeTrinket())

	fingerprint := orchestrator.NewLLMFingerprintGenerator(provider, cfg.LLM.Native.DefaultModel)

	segments := segment.New(provider, embedder, cfg.LLM.Native.DefaultModel, time.Duration(cfg.Segments.TimeoutMinutes)*time.Minute)

	orchCfg := orchestrator.Config{
		ContextWindow:        cfg.LLM.ContextWindow,
		ReservedOutputTokens: cfg.LLM.ReservedOutputTokens,
		ThinkingBudget:       cfg.LLM.ThinkingBudget,
		DriftThresholdPct:    cfg.Segments.DriftThresholdPct,
		FallbackPruneCount:   cfg.Segments.FallbackPruneCount,
		SegmentTimeoutMinutes: cfg.Segments.TimeoutMinutes,
	}

	var containerCache memory.QueryCache = kvStore
	orch, err := orchestrator.New(orchestrator.Deps{
		Provider:       provider,
		Registry:       registry,
		Executor:       executor,
		Trinkets:       trinkets,
		Relevance:      relevance,
		Embedder:       embedder,
		ContainerCache: containerCache,
		Pool:           pool,
		ContinuumRepo:  repo,
		Fingerprint:    fingerprint,
		Bus:            bus,
		Logger:         logger,
		Metrics:        metrics,
	}, orchCfg)
	if err != nil {
		pool.Close()
		kvStore.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	return &server{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		tracerStop: tracerStop,
		bus:        bus,
		kvStore:    kvStore,
		pool:       pool,
		repo:       repo,
		memManager: memManager,
		segments:   segments,
		trinkets:   trinkets,
		orch:       orch,
		segmentCfg: cfg.Segments,
		continuums: make(map[uuid.UUID]*models.Continuum),
	}, nil
}

// noopEmbedder is substituted when no memory backend is configured; the
// segment summarizer's embedding step is best-effort and skips cleanly
// when Embed always errors.
type noopEmbedder struct{}

func (noopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embeddings: memory backend is disabled")
}
func (noopEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embeddings: memory backend is disabled")
}
func (noopEmbedder) Name() string      { return "noop" }
func (noopEmbedder) Dimension() int    { return 0 }
func (noopEmbedder) MaxBatchSize() int { return 0 }

func segmentEmbedder(m *memory.Manager) embeddings.Provider {
	if m == nil {
		return noopEmbedder{}
	}
	return m.Embedder()
}

func (s *server) startMetricsServer(host string, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", host, port)
	s.metricsHTTP = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := s.metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), "metrics listener failed", "error", err)
		}
	}()
}

// Close releases every collaborator's underlying connection.
func (s *server) Close() {
	if s.tracerStop != nil {
		_ = s.tracerStop(context.Background())
	}
	if s.memManager != nil {
		_ = s.memManager.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.kvStore != nil {
		_ = s.kvStore.Close()
	}
}

// runTurnLoop reads one turnRequestLine per line of in, processes it
// through the orchestrator, and writes one turnResponseLine per line of
// out. It returns when ctx is cancelled or in reaches EOF.
func (s *server) runTurnLoop(ctx context.Context, in *os.File, out *os.File) error {
	lines := make(chan string)
	scanErrCh := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErrCh <- scanner.Err()
	}()

	enc := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErrCh
			}
			if len(line) == 0 {
				continue
			}
			resp := s.processLine(ctx, line)
			if err := enc.Encode(resp); err != nil {
				s.logger.Error(ctx, "failed to write turn response", "error", err)
			}
		}
	}
}

// processLine decodes one request line, runs it through the orchestrator
// under the §5 per-user chat lock, and builds the response line. Errors at
// any stage are reported in the response rather than aborting the loop.
func (s *server) processLine(ctx context.Context, line string) turnResponseLine {
	var req turnRequestLine
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return turnResponseLine{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	if req.UserID == "" || req.Text == "" {
		return turnResponseLine{Error: "user_id and text are required"}
	}

	release, err := s.kvStore.AcquireChatLock(ctx, req.UserID, chatLockTTL)
	if err != nil {
		return turnResponseLine{Error: err.Error()}
	}
	defer release(ctx)

	continuum, isNew, err := s.loadOrCreateContinuum(ctx, req)
	if err != nil {
		return turnResponseLine{Error: err.Error()}
	}

	now := time.Now().UTC()
	sentinelIndex, sentinel := continuum.ActiveSentinel()
	if sentinel == nil {
		segment.StartSegment(continuum, now)
		sentinelIndex, sentinel = continuum.ActiveSentinel()
	} else if s.segments.ShouldCollapse(*sentinel, now, s.segmentCfg.TimeoutMinutes) {
		if err := s.segments.Collapse(ctx, continuum, sentinelIndex, now); err != nil {
			s.logger.Warn(ctx, "segment collapse failed", "error", err)
		} else {
			sentinelIndex, sentinel = continuum.ActiveSentinel()
		}
	}
	if sentinel != nil {
		segment.TouchVirtualTime(sentinel, now)
	}

	s.trinkets.PublishManifestUpdate(segment.Manifest(continuum, now))

	result, err := s.orch.ProcessMessage(ctx, &orchestrator.TurnRequest{
		Continuum:   continuum,
		UserMessage: models.NewUserMessage(req.Text),
		BasePrompt:  req.BasePrompt,
		Identity:    req.UserID,
	}, func(streamevents.Event) {})
	if err != nil {
		return turnResponseLine{ContinuumID: continuum.ID.String(), Error: err.Error()}
	}

	if isNew {
		s.continuums[continuum.ID] = continuum
	}

	return turnResponseLine{
		ContinuumID:        continuum.ID.String(),
		Assistant:          result.Assistant.Text(),
		ToolsUsed:          result.ToolsUsed,
		ReferencedMemories: uuidStrings(result.ReferencedMemories),
		SurfacedMemories:   uuidStrings(result.SurfacedMemories),
		ProcessingTimeMS:   result.ProcessingTime.Milliseconds(),
	}
}

// loadOrCreateContinuum resolves req's continuum, preferring the in-memory
// cache populated by earlier lines in this process, then the SQL store,
// and finally starting a fresh continuum. Grounded on the orchestrator's
// own §5 Unit-of-Work identity propagation: the load itself runs inside a
// UnitOfWork scoped to req.UserID so row-level security applies to the
// read, not just the eventual write.
func (s *server) loadOrCreateContinuum(ctx context.Context, req turnRequestLine) (*models.Continuum, bool, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid user_id: %w", err)
	}

	if req.ContinuumID != "" {
		continuumID, err := uuid.Parse(req.ContinuumID)
		if err != nil {
			return nil, false, fmt.Errorf("invalid continuum_id: %w", err)
		}
		if c, ok := s.continuums[continuumID]; ok {
			return c, false, nil
		}

		u, err := s.pool.Begin(ctx, req.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("begin: %w", err)
		}
		defer u.Rollback(ctx)
		c, err := s.repo.LoadContinuum(ctx, u, continuumID)
		if err == nil {
			if err := u.Commit(ctx); err != nil {
				return nil, false, err
			}
			s.continuums[continuumID] = c
			return c, false, nil
		}
		if !errors.Is(err, uow.ErrNotFound) {
			return nil, false, err
		}
		c = models.NewContinuum(continuumID, userID)
		return c, true, nil
	}

	c := models.NewContinuum(uuid.New(), userID)
	return c, true, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
