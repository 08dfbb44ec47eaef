package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tieubaoca/paperflow/config"
	"github.com/tieubaoca/paperflow/database"
	"github.com/tieubaoca/paperflow/repository"
	"github.com/tieubaoca/paperflow/service"
	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
)

// hookFlags selects the downstream stages run on converted papers.
type hookFlags struct {
	summarize bool
	decide    bool
	index     bool
}

type pipeline struct {
	client  *service.MinerUClient
	store   *service.ArtifactStore
	factory service.CoordinatorFactory
}

func newMinerUClient(cfg *config.Config, logger *zap.Logger) (*service.MinerUClient, string, error) {
	token, err := cfg.MinerU.ResolveToken()
	if err != nil {
		return nil, "", err
	}
	client := service.NewMinerUClient(service.MinerUClientConfig{
		BaseURLs:  cfg.MinerU.BaseURLs,
		Token:     token,
		Timeout:   cfg.MinerU.RequestTimeout,
		RateLimit: cfg.MinerU.RateLimit,
		RateBurst: cfg.MinerU.RateBurst,
	}, logger)
	return client, token, nil
}

// newPipeline wires the conversion components for outputs dated date.
func newPipeline(cfg *config.Config, logger *zap.Logger, date time.Time, recorder service.OutcomeRecorder, hook service.ItemHook) (*pipeline, error) {
	client, token, err := newMinerUClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	textDir, dataDir := cfg.Output.OutputDirs(date)
	store := service.NewArtifactStore(textDir, dataDir)

	tempDir := cfg.Output.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(textDir, "_tmp_zip")
	}
	uploader := service.NewUploadManager(service.UploadManagerConfig{
		Concurrency: cfg.Pipeline.UploadConcurrency,
		Method:      cfg.Pipeline.UploadMethod,
		Backoff:     service.BackoffFromConfig(cfg.Pipeline.UploadRetries),
	}, logger)
	resolver := service.NewArtifactResolver(service.ArtifactResolverConfig{
		Token:   token,
		TempDir: tempDir,
		KeepZip: cfg.Pipeline.KeepZip,
		Backoff: service.BackoffFromConfig(cfg.Pipeline.DownloadRetries),
	}, logger)
	poller := service.NewBatchPoller(client, service.BatchPollerConfig{
		Interval: cfg.Pipeline.PollInterval,
		Deadline: cfg.Pipeline.PollDeadline,
	}, logger)

	coordinatorCfg := service.CoordinatorConfig{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		LimitFiles:   cfg.Pipeline.LimitFiles,
		SkipExisting: cfg.Pipeline.SkipExisting,
		SubmitBackoff: service.Backoff{
			MaxAttempts: cfg.Pipeline.SubmitRetries,
			Base:        time.Second,
			Cap:         10 * time.Second,
		},
		Options: cfg.MinerU.Options,
		Date:    date,
	}
	factory := func(progress service.ProgressFunc) *service.Coordinator {
		c := service.NewCoordinator(client, uploader, poller, resolver, store, coordinatorCfg, logger)
		c.SetRecorder(recorder)
		c.SetHook(hook)
		c.SetProgress(progress)
		return c
	}
	return &pipeline{client: client, store: store, factory: factory}, nil
}

// newOutcomeRepo opens the configured ledger backend. close releases it.
func newOutcomeRepo(ctx context.Context, cfg *config.Config) (repository.OutcomeRepo, func(), error) {
	switch cfg.Ledger.Backend {
	case "mongo":
		client, err := database.NewMongoClient(ctx, cfg.Ledger.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		collection := client.Database(cfg.Ledger.Database).Collection(cfg.Ledger.Collection)
		repo, err := repository.NewMongoOutcomeRepo(ctx, collection)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		repo, err := repository.NewFileOutcomeRepo(cfg.Output.LedgerDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
}

// newHooks builds the selected downstream stages behind one async pool. Dated
// hook outputs follow the day carried by each hook input. The returned wait
// function drains the pool and reports failed hook calls.
func newHooks(ctx context.Context, cfg *config.Config, logger *zap.Logger, flags hookFlags) (service.ItemHook, func() int, error) {
	var hooks []service.ItemHook
	if flags.decide {
		ai, err := service.NewAIService(ctx, cfg.Decide.LLM)
		if err != nil {
			return nil, nil, fmt.Errorf("decide hook: %w", err)
		}
		decide := service.NewDecideService(ai, cfg.Decide.OutputRoot, cfg.Decide.SystemPrompt, cfg.Decide.MaxPageIdx, logger)
		hooks = append(hooks, decide.Decide)
	}
	if flags.summarize {
		ai, err := service.NewAIService(ctx, cfg.Summary.LLM)
		if err != nil {
			return nil, nil, fmt.Errorf("summary hook: %w", err)
		}
		summary := service.NewSummaryService(ai, cfg.Summary.OutputRoot, cfg.Summary.SystemPrompt, cfg.Summary.Example, logger)
		hooks = append(hooks, summary.Summarize)
	}
	if flags.index {
		store, err := database.NewWeaviateStore(ctx, cfg.Index.WeaviateStoreConfig, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("index hook: %w", err)
		}
		chunker := service.NewTextChunker(types.ChunkerConfig{
			MaxChunkSize: cfg.Index.MaxChunkSize,
			OverlapSize:  cfg.Index.OverlapSize,
		})
		hooks = append(hooks, service.NewIndexService(store, chunker, logger).Index)
	}
	if len(hooks) == 0 {
		return nil, func() int { return 0 }, nil
	}
	async := service.NewAsyncHook(service.ChainHooks(hooks...), cfg.Pipeline.HookConcurrency, logger)
	return async.Hook(), async.Wait, nil
}
