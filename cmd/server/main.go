package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/client"
	"github.com/pesio-ai/be-hr-approval-chains/internal/config"
	"github.com/pesio-ai/be-hr-approval-chains/internal/database"
	"github.com/pesio-ai/be-hr-approval-chains/internal/handler"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
	"github.com/pesio-ai/be-hr-approval-chains/internal/metrics"
	"github.com/pesio-ai/be-hr-approval-chains/internal/middleware"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
	"github.com/pesio-ai/be-hr-approval-chains/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting HR Approval Chains Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	var (
		store    repository.ApprovalChainStore
		auditLog service.AuditLog
		db       *database.DB
	)
	switch cfg.Approvals.StoreDriver {
	case "memory":
		store = repository.NewMemoryApprovalChainStore()
		auditLog = repository.NewMemoryAuditLog()
		log.Warn().Msg("Using in-memory approval chain store; configuration is lost on restart")
	default:
		db, err = database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		store = repository.NewApprovalChainRepository(db)
		auditLog = repository.NewApprovalChainAuditRepository(db)
	}

	// Initialize directory client
	var directory client.Directory
	switch cfg.Directory.Driver {
	case "grpc":
		grpcDirectory, err := client.NewDirectoryGRPCClient(cfg.Directory.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create directory gRPC client")
		}
		defer grpcDirectory.Close()
		directory = grpcDirectory
		log.Info().Str("directory_grpc", cfg.Directory.GRPCAddr).Msg("Directory gRPC client initialized")
	default:
		directory = client.NewDirectoryHTTPClient(client.DirectoryHTTPConfig{
			BaseURL:  cfg.Directory.BaseURL,
			Timeout:  cfg.Directory.Timeout,
			RetryMax: cfg.Directory.RetryMax,
		}, log.Logger)
		log.Info().Str("directory_url", cfg.Directory.BaseURL).Msg("Directory HTTP client initialized")
	}

	// Optional messaging
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable; change events disabled")
			nc = nil
		} else {
			defer nc.Drain()
			log.Info().Str("nats_url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Optional head-lookup cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis ping failed; cache reads will fall through to the directory")
		}
		cached := client.NewCachedDirectory(directory, rdb, cfg.Redis.HeadCacheTTL, log.Logger)
		directory = cached

		if nc != nil {
			sub, err := client.SubscribeHeadChanges(nc, cfg.NATS.HeadChangedSubject, cached, log.Logger)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to subscribe to head changes; relying on cache TTL")
			} else {
				defer sub.Unsubscribe()
			}
		}
		log.Info().Dur("ttl", cfg.Redis.HeadCacheTTL).Msg("Department head cache enabled")
	}

	var events service.EventPublisher
	if nc != nil {
		events = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
	}

	// Initialize services
	chainService := service.NewApprovalChainService(store, auditLog, directory, events, service.Options{
		ValidateEmployees: cfg.Approvals.ValidateEmployees,
		HistoryLimit:      cfg.Approvals.HistoryLimit,
	}, log)
	resolver := service.NewApproverResolver(store, directory, log)

	// Authentication
	var authn *middleware.Authenticator
	if cfg.Auth.Disabled {
		log.Warn().Msg("Authentication disabled; every caller acts as the development actor")
		authn = middleware.NewDevAuthenticator(auth.Actor{
			UserID:         cfg.Auth.DevUserID,
			OrganizationID: cfg.Auth.DevOrganizationID,
			Permissions:    []string{auth.PermissionAdmin},
		}, "/health", "/metrics")
	} else {
		authn = middleware.NewAuthenticator(auth.NewTokenVerifier(cfg.Auth.JWTSecret), "/health", "/metrics")
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(chainService, resolver, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","database":"unreachable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	httpHandler.Register(mux)

	// Apply middleware
	h := middleware.Chain(mux, &log.Logger, cfg.Server.CORSOrigins, cfg.Server.RequestTimeout,
		metrics.Middleware,
		authn.HTTP,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcHandler := handler.NewGRPCHandler(chainService, resolver, log.Logger)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(authn.UnaryServerInterceptor()))
	handler.RegisterApprovalChainServiceServer(grpcServer, grpcHandler)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
