// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/internalwiki/assistant/api"
	"github.com/internalwiki/assistant/cache"
	"github.com/internalwiki/assistant/chunking"
	"github.com/internalwiki/assistant/config"
	"github.com/internalwiki/assistant/contract"
	"github.com/internalwiki/assistant/embeddings"
	"github.com/internalwiki/assistant/evals"
	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/logger"
	"github.com/internalwiki/assistant/metrics"
	"github.com/internalwiki/assistant/openai"
	"github.com/internalwiki/assistant/pipeline"
	"github.com/internalwiki/assistant/retrieval"
)

var (
	configPath string

	evalOrganizationID string
	evalCasesPath      string
	evalThreshold      float64

	ingestOrganizationID string
	ingestFilePath       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "assistant",
		Short: "InternalWiki knowledge assistant",
		Long:  "Retrieval, grounded answer generation and quality gating for internal documentation.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the retrieval benchmark and exit non-zero below the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval()
		},
	}
	evalCmd.Flags().StringVar(&evalOrganizationID, "org", "", "organization to benchmark")
	evalCmd.Flags().StringVar(&evalCasesPath, "cases", "", "JSON file of benchmark cases (defaults to the builtin set)")
	evalCmd.Flags().Float64Var(&evalThreshold, "threshold", 0, "good-percentage gate (defaults to the configured threshold)")
	_ = evalCmd.MarkFlagRequired("org")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and index documents from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest()
		},
	}
	ingestCmd.Flags().StringVar(&ingestOrganizationID, "org", "", "organization to index into")
	ingestCmd.Flags().StringVar(&ingestFilePath, "file", "", "JSON file of documents to index")
	_ = ingestCmd.MarkFlagRequired("org")
	_ = ingestCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, evalCmd, ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
			cfg.Database.DSN = dsn
		}
		return cfg, nil
	}
	return config.LoadFile(configPath)
}

// stack is everything a running command needs, wired once at startup.
type stack struct {
	cfg           *config.Config
	container     *config.Container
	log           logger.Logger
	db            *sqlx.DB
	redis         *cache.RedisCache
	metrics       metrics.Metrics
	service       *pipeline.Service
	ingestor      *pipeline.Ingestor
	contractStore *contract.Store
	runStore      *evals.RunStore
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(os.Stderr, cfg.LogLevel)

	if cfg.Database.DSN == "" {
		return nil, errors.New("a database DSN is required (config database.dsn or DATABASE_URL)")
	}
	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	store, err := retrieval.NewStore(db, cfg.Database.EmbeddingDimensions)
	if err != nil {
		return nil, err
	}
	contractStore, err := contract.NewStore(db)
	if err != nil {
		return nil, err
	}
	runStore, err := evals.NewRunStore(db)
	if err != nil {
		return nil, err
	}

	metricsService := metrics.NewMetrics(metrics.InstanceInfo{Version: "dev"})

	serviceConfig, ok := cfg.GetServiceByID(cfg.DefaultService)
	if !ok {
		return nil, errors.Errorf("default service %q is not configured", cfg.DefaultService)
	}
	upstreamProvider, err := config.NewProviderForService(serviceConfig, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	provider := llm.NewInstrumentedProvider(upstreamProvider, metricsService.GetMetricsForAIService(serviceConfig.Type))

	// The OpenAI service doubles as the embedding upstream; everything else
	// runs on the deterministic fallback embedding.
	var upstream embeddings.EmbeddingProvider
	if serviceConfig.Type == llm.ServiceTypeOpenAI && serviceConfig.APIKey != "" {
		upstream = openai.New(config.OpenAIConfigFromServiceConfig(serviceConfig), http.DefaultClient)
	}
	embedder := embeddings.NewEmbedder(upstream, log)

	searcher := retrieval.NewSearcher(store, embedder, provider, serviceConfig.APIKey, log)

	var cacheHandle cache.Cache
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewRedisCache(cfg.Redis)
		if err := redisCache.Connect(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		cacheHandle = redisCache
	}

	service := pipeline.NewService(searcher, provider, cfg.Contract, contractStore, cacheHandle, pipeline.Config{
		SearchCacheTTL: time.Duration(cfg.Retrieval.SearchCacheTTLSecond) * time.Second,
	}, log)

	chunker := chunking.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	ingestor := pipeline.NewIngestor(chunker, embedder, store, serviceConfig.APIKey, log)

	container := &config.Container{}
	container.Update(cfg)

	return &stack{
		cfg:           cfg,
		container:     container,
		log:           log,
		db:            db,
		redis:         redisCache,
		metrics:       metricsService,
		service:       service,
		ingestor:      ingestor,
		contractStore: contractStore,
		runStore:      runStore,
	}, nil
}

func (s *stack) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("failed to close redis connection", "error", err)
		}
	}
	if err := s.db.Close(); err != nil {
		s.log.Warn("failed to close database connection", "error", err)
	}
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	s.container.RegisterUpdateListener(func() {
		s.log.Info("configuration reloaded")
	})
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				cfg, err := loadConfig()
				if err != nil {
					s.log.Error("configuration reload failed", "error", err)
					continue
				}
				s.container.Update(cfg)
			}
		}
	}()

	handler := api.New(s.service, s.ingestor, s.contractStore, s.runStore, s.metrics, s.container, s.log)

	server := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "address", s.cfg.Server.Address)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runEval() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	cases := evals.BuiltinCases()
	if evalCasesPath != "" {
		data, err := os.ReadFile(evalCasesPath)
		if err != nil {
			return errors.Wrapf(err, "failed to read cases file %s", evalCasesPath)
		}
		cases = nil
		if err := json.Unmarshal(data, &cases); err != nil {
			return errors.Wrapf(err, "failed to parse cases file %s", evalCasesPath)
		}
	}

	threshold := evalThreshold
	if threshold <= 0 {
		threshold = s.cfg.Evals.ThresholdGoodPct
	}

	result, err := evals.RunBenchmark(ctx, evals.BenchmarkInput{
		OrganizationID:   evalOrganizationID,
		Cases:            cases,
		ThresholdGoodPct: threshold,
		Execute:          s.service.BenchmarkExecutor(nil, nil),
	})
	if err != nil {
		return err
	}

	if err := s.runStore.SaveRun(ctx, result); err != nil {
		s.log.Warn("failed to persist eval run", "error", err)
	}

	for _, caseResult := range result.Cases {
		status := caseResult.Verdict
		fmt.Printf("%-30s %s\n", caseResult.CaseID, status)
		for _, reason := range caseResult.Reasons {
			fmt.Printf("    %s\n", reason)
		}
	}
	fmt.Printf("\nscore: %.1f%% good (threshold %.1f%%)\n", result.ScoreGoodPct, result.ThresholdGoodPct)

	if !result.PassThreshold {
		return errors.Errorf("benchmark below threshold: %.1f%% < %.1f%%", result.ScoreGoodPct, result.ThresholdGoodPct)
	}
	return nil
}

func runIngest() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	data, err := os.ReadFile(ingestFilePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read documents file %s", ingestFilePath)
	}
	var requests []pipeline.IngestRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return errors.Wrapf(err, "failed to parse documents file %s", ingestFilePath)
	}

	for _, request := range requests {
		request.OrganizationID = ingestOrganizationID
		result, err := s.ingestor.Ingest(ctx, request)
		if err != nil {
			return errors.Wrapf(err, "failed to ingest document %s", request.Document.DocumentID)
		}
		fmt.Printf("%-30s %d chunks (source score %d)\n", result.DocumentID, result.ChunkCount, result.SourceScore)
	}

	return nil
}
