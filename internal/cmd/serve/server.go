package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/agentmemory/memory-service/internal/bootstrap"
	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/memory"
	"github.com/agentmemory/memory-service/internal/plugin/route/attachments"
	"github.com/agentmemory/memory-service/internal/plugin/route/memories"
	routesystem "github.com/agentmemory/memory-service/internal/plugin/route/system"
	registryroute "github.com/agentmemory/memory-service/internal/registry/route"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/agentmemory/memory-service/internal/security"
	"github.com/agentmemory/memory-service/internal/worker"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.MemoryStore
	Engine          *memory.Engine
	Pool            *worker.Pool
	Router          *gin.Engine
	GRPCServer      *grpc.Server
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.Running.Close(ctx)
}

// StartServer initializes all subsystems and starts HTTP+gRPC on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memory service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
		"llm", cfg.LLMType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	if err := bootstrap.InitMetrics(cfg); err != nil {
		return nil, err
	}

	// Run migrations and construct cache/encryption/store/attachstore/
	// embedder/vector/LLM/engine/pool (shared with the MCP ingress surface
	// — see internal/bootstrap).
	ctx, subsystems, err := bootstrap.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := subsystems.Store
	attachStore := subsystems.AttachStore
	engine := subsystems.Engine
	pool := subsystems.Pool

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware(cfg.RequireJustification))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	memories.MountRoutes(router, engine, pool, cfg.AttachmentsEnabled, auth)
	if cfg.AttachmentsEnabled {
		attachments.MountRoutes(router, attachStore, cfg.AttachmentMaxSize, auth)
	}

	// Set up the gRPC shell for the single-port HTTP+gRPC listener (see
	// singleport.go). No services are registered: the generated protobuf
	// stubs a gRPC surface would depend on aren't present in this tree
	// and regenerating them requires protoc (see DESIGN.md); health
	// and readiness are served over REST by route/system instead.
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(security.GRPCUnaryInterceptor(resolver)),
		grpc.ChainStreamInterceptor(security.GRPCStreamInterceptor(resolver)),
	)

	// Mount management route plugins. If a dedicated management port is configured,
	// run them on a bare gin engine served by the management server. Otherwise,
	// mount them on the main router so existing single-port behaviour is unchanged.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	// Start single-port HTTP+gRPC
	running, err := StartSinglePortHTTPAndGRPC(ctx, cfg.Listener, router, grpcServer)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Engine:          engine,
		Pool:            pool,
		Router:          router,
		GRPCServer:      grpcServer,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}
