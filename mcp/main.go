package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/agentmemory/memory-service/internal/bootstrap"
	"github.com/agentmemory/memory-service/internal/config"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	mcpserver "github.com/agentmemory/memory-service/mcp"
	"github.com/urfave/cli/v3"

	// Import the plugins the shared bootstrap.Init can select among, the
	// same set internal/cmd/serve/serve.go registers via blank imports.
	_ "github.com/agentmemory/memory-service/internal/plugin/attachstore/postgres"
	_ "github.com/agentmemory/memory-service/internal/plugin/attachstore/s3"
	_ "github.com/agentmemory/memory-service/internal/plugin/cache/infinispan"
	_ "github.com/agentmemory/memory-service/internal/plugin/cache/noop"
	_ "github.com/agentmemory/memory-service/internal/plugin/cache/redis"
	_ "github.com/agentmemory/memory-service/internal/plugin/embed/disabled"
	_ "github.com/agentmemory/memory-service/internal/plugin/embed/local"
	_ "github.com/agentmemory/memory-service/internal/plugin/embed/openai"
	_ "github.com/agentmemory/memory-service/internal/plugin/encrypt/awskms"
	_ "github.com/agentmemory/memory-service/internal/plugin/encrypt/dek"
	_ "github.com/agentmemory/memory-service/internal/plugin/encrypt/plain"
	_ "github.com/agentmemory/memory-service/internal/plugin/encrypt/vault"
	_ "github.com/agentmemory/memory-service/internal/plugin/llm/disabled"
	_ "github.com/agentmemory/memory-service/internal/plugin/llm/openai"
	_ "github.com/agentmemory/memory-service/internal/plugin/store/postgres"
	_ "github.com/agentmemory/memory-service/internal/plugin/vector/disabled"
	_ "github.com/agentmemory/memory-service/internal/plugin/vector/pgvector"
	_ "github.com/agentmemory/memory-service/internal/plugin/vector/qdrant"
)

// main is the entrypoint for the MCP ingress surface (§4.H): a separate
// binary from internal/cmd/serve's REST+gRPC server, sharing its
// subsystem construction via internal/bootstrap but exposing the ten
// spec.md §4.H/§6 tools over streamable-HTTP JSON-RPC instead of REST.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.DefaultConfig()
	var mcpPort int = 8081
	var mcpPath string = "/mcp"
	app := &cli.Command{
		Name:  "memory-service-mcp",
		Usage: "MCP (JSON-RPC/streamable-HTTP) ingress for the memory service",
		Flags: flags(&cfg, &mcpPort, &mcpPath),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.AttachmentMaxSize = int64(cmd.Int("attachments-max-size-mb")) * 1024 * 1024
			if err := cfg.ApplyJavaCompatFromEnv(); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), &cfg, mcpPort, mcpPath)
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func flags(cfg *config.Config, mcpPort *int, mcpPath *string) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MCP_PORT"),
			Destination: mcpPort,
			Value:       *mcpPort,
			Usage:       "HTTP port for the MCP streamable-HTTP endpoint",
		},
		&cli.StringFlag{
			Name:        "path",
			Sources:     cli.EnvVars("MEMORY_SERVICE_MCP_PATH"),
			Destination: mcpPath,
			Value:       *mcpPath,
			Usage:       "HTTP path the MCP endpoint is mounted at",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "db-kind",
			Sources:     cli.EnvVars("MEMORY_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vector-kind",
			Sources:     cli.EnvVars("MEMORY_SERVICE_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (pgvector|qdrant); empty falls back to the no-op store",
		},
		&cli.StringFlag{
			Name:        "embedding-kind",
			Sources:     cli.EnvVars("MEMORY_SERVICE_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (none|local|openai)",
		},
		&cli.StringFlag{
			Name:        "llm-kind",
			Sources:     cli.EnvVars("MEMORY_SERVICE_LLM_KIND"),
			Destination: &cfg.LLMType,
			Value:       cfg.LLMType,
			Usage:       "LLM orchestrator (openai|disabled)",
		},
		&cli.BoolFlag{
			Name:        "attachments-enabled",
			Sources:     cli.EnvVars("MEMORY_SERVICE_ATTACHMENTS_ENABLED"),
			Destination: &cfg.AttachmentsEnabled,
			Value:       cfg.AttachmentsEnabled,
			Usage:       "Enable the create/update/get/delete attachment tools",
		},
		&cli.IntFlag{
			Name:    "attachments-max-size-mb",
			Sources: cli.EnvVars("MEMORY_SERVICE_ATTACHMENTS_MAX_SIZE_MB", "ATTACHMENT_MAX_SIZE_MB"),
			Value:   int(cfg.AttachmentMaxSize / (1024 * 1024)),
			Usage:   "Maximum attachment content size in megabytes",
		},
	}
}

func run(ctx context.Context, cfg *config.Config, port int, path string) error {
	log.Info("Starting memory service MCP ingress", "port", port, "path", path, "db", cfg.DatastoreType, "vector", cfg.VectorType, "llm", cfg.LLMType)

	ctx, subsystems, err := bootstrap.Init(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, mcpserver.NewHandler(subsystems, cfg.AttachmentsEnabled, cfg.AttachmentMaxSize))
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("Shutting down MCP server...")
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(drainCtx)
}
