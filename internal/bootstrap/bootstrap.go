// Package bootstrap wires the subsystems shared by every ingress surface
// (cache, at-rest encryption, metadata store, attachment store, embedder,
// vector store, LLM client, the ingestion/retrieval engine, and the
// non-blocking worker pool) from a single Config. Extracted out of
// internal/cmd/serve's StartServer so the MCP module (internal/cmd/serve's
// REST+gRPC sibling ingress) can construct the exact same engine without
// duplicating the init/fallback ordering.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/dataencryption"
	"github.com/agentmemory/memory-service/internal/memory"
	storemetrics "github.com/agentmemory/memory-service/internal/plugin/store/metrics"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registrycache "github.com/agentmemory/memory-service/internal/registry/cache"
	registryembed "github.com/agentmemory/memory-service/internal/registry/embed"
	registryllm "github.com/agentmemory/memory-service/internal/registry/llm"
	registrymigrate "github.com/agentmemory/memory-service/internal/registry/migrate"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/agentmemory/memory-service/internal/security"
	"github.com/agentmemory/memory-service/internal/service"
	"github.com/agentmemory/memory-service/internal/worker"
)

// Subsystems holds every collaborator an ingress surface needs to serve
// memory/attachment operations.
type Subsystems struct {
	Store       registrystore.MemoryStore
	AttachStore registryattachstore.Store
	Engine      *memory.Engine
	Pool        *worker.Pool
}

// Init runs migrations and constructs cache, encryption, store,
// attachment store, embedder, vector store, LLM client, engine, and
// worker pool from cfg, returning a context enriched with the cache and
// encryption service (store/attachstore loaders read both back out of
// context). It also starts the background orphaned-vector-point
// reconciliation loop (internal/service.TaskProcessor). Safe to call once
// per process; REST (internal/cmd/serve) and MCP (mcp/) each call it
// independently since they run as separate processes.
func Init(ctx context.Context, cfg *config.Config) (context.Context, *Subsystems, error) {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return ctx, nil, fmt.Errorf("migrations failed: %w", err)
	}

	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if entriesCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithEntriesCacheContext(ctx, entriesCache)
	}

	encSvc, err := dataencryption.New(ctx, cfg)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize data encryption: %w", err)
	}
	ctx = dataencryption.WithContext(ctx, encSvc)

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return ctx, nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	attachStoreName := cfg.AttachType
	if attachStoreName == "db" {
		attachStoreName = "postgres"
	}
	var attachStore registryattachstore.Store
	if cfg.AttachmentsEnabled {
		attachLoader, err := registryattachstore.Select(attachStoreName)
		if err != nil {
			return ctx, nil, fmt.Errorf("attachment store %q: %w", attachStoreName, err)
		}
		attachStore, err = attachLoader(ctx, store)
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to initialize attachment store: %w", err)
		}
	}

	var embedder registryembed.Embedder
	var vectorStore registryvector.VectorStore
	if cfg.EmbedType != "" && cfg.EmbedType != "none" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			log.Warn("Embedder not available", "err", err)
		} else {
			embedder, err = embedLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize embedder", "err", err)
			}
		}
	}
	if embedder != nil && cfg.VectorType != "" && cfg.VectorType != "none" {
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			log.Warn("Vector store not available", "err", err)
		} else {
			vectorStore, err = vectorLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize vector store", "err", err)
			}
		}
	}
	if vectorStore == nil {
		noopLoader, err := registryvector.Select("none")
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to resolve fallback vector store: %w", err)
		}
		if vectorStore, err = noopLoader(ctx); err != nil {
			return ctx, nil, fmt.Errorf("failed to initialize fallback vector store: %w", err)
		}
	}

	llmLoader, err := registryllm.Select(cfg.LLMType)
	if err != nil {
		return ctx, nil, err
	}
	llmClient, err := llmLoader(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	engine := memory.New(store, vectorStore, embedder, llmClient, attachStore, cfg.DedupNeighborLimit, cfg.AttachmentMaxSize)
	pool := worker.New(ctx, cfg.WorkerAddWorkers, cfg.WorkerSearchWorkers, cfg.WorkerQueueSize)

	go service.NewTaskProcessor(store, vectorStore).Start(ctx)

	return ctx, &Subsystems{
		Store:       store,
		AttachStore: attachStore,
		Engine:      engine,
		Pool:        pool,
	}, nil
}

// InitMetrics parses cfg.MetricsLabels and registers the Prometheus
// constant labels. Exposed separately from Init since the REST surface
// calls it before mounting the metrics middleware/endpoint and the MCP
// surface, which has no metrics endpoint of its own, does not need it.
func InitMetrics(cfg *config.Config) error {
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return fmt.Errorf("invalid metrics labels: %w", err)
	}
	security.InitMetrics(metricsLabels)
	return nil
}
