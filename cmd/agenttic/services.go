package agenttic

import (
	"context"
	"fmt"
	"time"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/chunker"
	"github.com/agenttic/agenttic/pkg/config"
	"github.com/agenttic/agenttic/pkg/discovery"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/embedder"
	"github.com/agenttic/agenttic/pkg/fetcher"
	"github.com/agenttic/agenttic/pkg/ingest"
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/metastore"
	"github.com/agenttic/agenttic/pkg/orchestrator"
	"github.com/agenttic/agenttic/pkg/reranker"
	"github.com/agenttic/agenttic/pkg/retrieval"
	"github.com/agenttic/agenttic/pkg/tools"
	"github.com/agenttic/agenttic/pkg/tools/builtin"
	"github.com/agenttic/agenttic/pkg/vectorstore"
)

// services is the wired application graph shared by serve, ingest, and
// query.
type services struct {
	meta         *metastore.Store
	store        *vectorstore.Store
	chunker      *chunker.Service
	embedder     *embedder.Service
	llm          *llm.Client
	reranker     *reranker.Client
	fetcher      *fetcher.Service
	discovery    *discovery.Client
	tracker      *ingest.Tracker
	ingest       *ingest.Service
	retrieval    *retrieval.Service
	registry     *tools.Registry
	executor     *tools.Executor
	orchestrator *orchestrator.Service
	collection   string
}

// buildServices initializes every subsystem in dependency order and
// ensures the vector collection exists.
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	meta, err := metastore.Open(cfg.MetaStore.DBPath)
	if err != nil {
		return nil, err
	}

	// Stored overrides layer on top of the file config.
	if entries, err := meta.ListConfigs(ctx); err != nil {
		log.WithModule("cli").Warn("read config overrides", "error", err)
	} else if len(entries) > 0 {
		config.ApplyOverrides(cfg, overridesMap(entries))
	}

	store, err := vectorstore.New(cfg.VectorStore.URL, cfg.Embedding.Dimensions)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	if err := store.EnsureCollection(ctx, cfg.VectorStore.Collection); err != nil {
		_ = meta.Close()
		_ = store.Close()
		return nil, err
	}

	chunkerSvc, err := chunker.New(cfg.Chunker.Encoding,
		chunker.Options{ChunkSize: cfg.Chunker.ChunkSize, Overlap: cfg.Chunker.Overlap},
		chunker.Options{ChunkSize: cfg.Chunker.HTMLSize, Overlap: cfg.Chunker.HTMLOverlap},
	)
	if err != nil {
		_ = meta.Close()
		_ = store.Close()
		return nil, fmt.Errorf("create chunker: %w", err)
	}

	embedSvc := embedder.New(embedder.Options{
		BaseURL:        cfg.Embedding.BaseURL,
		APIKey:         cfg.Embedding.APIKey,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
	})

	llmClient := llm.New(llm.Options{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})

	var rerankClient *reranker.Client
	if cfg.Reranker.BaseURL != "" {
		rerankClient = reranker.New(reranker.Options{
			BaseURL:        cfg.Reranker.BaseURL,
			Model:          cfg.Reranker.Model,
			MaxTokens:      cfg.Reranker.MaxTokens,
			MaxConcurrency: cfg.Reranker.MaxConcurrency,
			CountTokens:    chunkerSvc.CountTokens,
		})
	}

	pageCache := cache.NewMemoryCache(cfg.Fetcher.CacheMaxEntries, cfg.Fetcher.CacheTTL)
	var engine fetcher.Engine
	if cfg.Fetcher.Engine == "browser" {
		engine = fetcher.NewBrowserEngine(cfg.Fetcher.Timeout, cfg.Fetcher.UserAgent)
	} else {
		engine = fetcher.NewHTTPEngine(cfg.Fetcher.Timeout, cfg.Fetcher.UserAgent, cfg.Fetcher.MaxContentSize)
	}
	fetchSvc := fetcher.New(engine, pageCache, cfg.Fetcher.CacheTTL, cfg.Fetcher.MaxContentSize)

	discoveryClient := discovery.New(cfg.Webhook.Prefix, cfg.Webhook.Timeout)
	tracker := ingest.NewTracker()

	ingestSvc := ingest.New(ingest.Options{
		Fetcher:           fetchSvc,
		Chunker:           chunkerSvc,
		Embedder:          embedSvc,
		Store:             store,
		Meta:              meta,
		Discovery:         discoveryClient,
		LLM:               llmClient,
		Tracker:           tracker,
		Collection:        cfg.VectorStore.Collection,
		DefaultDepth:      cfg.Ingest.RecursionDepth,
		SubDocConcurrency: cfg.Embedding.MaxConcurrency,
	})

	retrievalSvc := retrieval.New(retrieval.Options{
		Embedder:   embedSvc,
		Store:      store,
		Reranker:   rerankClient,
		Meta:       meta,
		LLM:        llmClient,
		Collection: cfg.VectorStore.Collection,
		TopK:       cfg.RAG.TopK,
		RerankTopK: cfg.RAG.RerankTopK,
	})

	registry := tools.NewRegistry(cache.NewMemoryCache(512, 5*time.Minute))
	if cfg.Search.BaseURL != "" {
		if err := registry.Register(builtin.NewWebSearchTool(cfg.Search.BaseURL, cfg.Search.Timeout)); err != nil {
			_ = meta.Close()
			_ = store.Close()
			return nil, err
		}
	}
	if err := registry.Register(builtin.NewRecallTool(retrievalSvc, cfg.RAG.RerankTopK)); err != nil {
		_ = meta.Close()
		_ = store.Close()
		return nil, err
	}
	executor := tools.NewExecutor(registry)

	orchSvc := orchestrator.New(orchestrator.Options{
		LLM:           llmClient,
		Executor:      executor,
		Registry:      registry,
		Retriever:     retrievalSvc,
		GapRecallTopK: cfg.Orchestrator.GapRecallTopK,
		Language:      cfg.Orchestrator.Language,
		DefaultMode:   domain.ToolMode(cfg.Tools.DefaultMode),
		MaxSteps:      cfg.Tools.MaxSteps,
		StepTimeout:   cfg.Tools.StepTimeout,
		RunTimeout:    cfg.Tools.RunTimeout,
	})

	return &services{
		meta:         meta,
		store:        store,
		chunker:      chunkerSvc,
		embedder:     embedSvc,
		llm:          llmClient,
		reranker:     rerankClient,
		fetcher:      fetchSvc,
		discovery:    discoveryClient,
		tracker:      tracker,
		ingest:       ingestSvc,
		retrieval:    retrievalSvc,
		registry:     registry,
		executor:     executor,
		orchestrator: orchSvc,
		collection:   cfg.VectorStore.Collection,
	}, nil
}

// applyHotReload pushes the hot-reloadable keys of a fresh config into
// the running services.
func (s *services) applyHotReload(fresh *config.Config) {
	s.chunker.Update(
		chunker.Options{ChunkSize: fresh.Chunker.ChunkSize, Overlap: fresh.Chunker.Overlap},
		chunker.Options{ChunkSize: fresh.Chunker.HTMLSize, Overlap: fresh.Chunker.HTMLOverlap},
	)
	s.retrieval.UpdateLimits(fresh.RAG.TopK, fresh.RAG.RerankTopK)
	if s.reranker != nil {
		s.reranker.SetMaxTokens(fresh.Reranker.MaxTokens)
	}
	s.ingest.SetDefaultDepth(fresh.Ingest.RecursionDepth)
	s.orchestrator.SetToolDefaults(domain.ToolMode(fresh.Tools.DefaultMode), fresh.Tools.MaxSteps)
	s.fetcher.SetCacheTTL(fresh.Fetcher.CacheTTL)
	s.discovery.SetEndpoint(fresh.Webhook.Prefix, fresh.Webhook.Timeout)
}

func overridesMap(entries []metastore.ConfigEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value
	}
	return m
}

// reloadOverrides re-reads the stored overrides and pushes the
// hot-reloadable results into the running services.
func (s *services) reloadOverrides(base *config.Config) {
	entries, err := s.meta.ListConfigs(context.Background())
	if err != nil {
		log.WithModule("cli").Warn("reload config overrides", "error", err)
		return
	}
	fresh := *base
	config.ApplyOverrides(&fresh, overridesMap(entries))
	s.applyHotReload(&fresh)
}

func (s *services) close() {
	s.tracker.Stop()
	if err := s.store.Close(); err != nil {
		log.WithModule("cli").Warn("close vector store", "error", err)
	}
	if err := s.meta.Close(); err != nil {
		log.WithModule("cli").Warn("close meta store", "error", err)
	}
}
