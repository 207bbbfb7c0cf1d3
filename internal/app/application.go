package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"cockpit/internal/access"
	"cockpit/internal/config"
	"cockpit/internal/database"
	"cockpit/internal/escalation"
	"cockpit/internal/gateway"
	"cockpit/internal/orchestrator"
	"cockpit/internal/store"
	pkgdatabase "cockpit/pkg/database"
)

// Application coordinates all system components.
// Clean dependency injection with proper initialization order.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	store      *store.Store
	access     *access.Matrix
	escalation *escalation.Service
	registry   *gateway.Registry
	wsHandler  *gateway.Handler
	apiServer  *gateway.APIServer
	httpServer *http.Server
}

// NewApplication creates a new application instance with all components
// initialized. Initialization follows strict dependency order:
// Database → Store → Access → Escalation → Registry → Gateway → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager (foundation layer, applies migrations).
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Session store warmed from persistence.
	sessionStore := store.NewStore(dbManager)
	if err := sessionStore.LoadOpenSessions(context.Background()); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to load open sessions: %w", err)
	}

	// STEP 3: Role access matrix.
	accessMatrix := access.NewMatrix()

	// STEP 4: Escalation service with configured detection thresholds.
	escalationService := escalation.NewService(sessionStore, accessMatrix, escalation.Thresholds{
		ConsecutiveFailures: cfg.Detection.ConsecutiveFailures,
		StuckDuration:       cfg.Detection.StuckDuration,
		AccuracyDrop:        cfg.Detection.AccuracyDrop,
		Inactivity:          cfg.Detection.Inactivity,
	})

	// STEP 5: Connection registry for presence cleanup tracking.
	registry := gateway.NewRegistry()

	// STEP 6: WebSocket gateway handler.
	var tokenKey []byte
	if cfg.Gateway.TokenKey != "" {
		tokenKey = []byte(cfg.Gateway.TokenKey)
	}
	wsHandler := gateway.NewHandler(registry, orchestrator.Deps{
		Store:      sessionStore,
		Access:     accessMatrix,
		Escalation: escalationService,
	}, gateway.Options{
		BufferSize:   cfg.Gateway.BufferSize,
		WriteTimeout: cfg.Gateway.WriteTimeout,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		RateLimit:    cfg.Gateway.RateLimit,
		RateWindow:   cfg.Gateway.RateWindow,
		TokenKey:     tokenKey,
	})

	// STEP 7: REST API server for session inspection and health checks.
	apiServer := gateway.NewAPIServer(sessionStore, dbManager, registry)

	// STEP 8: HTTP server exposing API and WebSocket endpoints.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		store:      sessionStore,
		access:     accessMatrix,
		escalation: escalationService,
		registry:   registry,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution. The HTTP server is verified ready
// before returning.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting Cockpit application on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Cockpit application started successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application in reverse dependency order:
// HTTP → Store subscriptions (closed with their connections) → Database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down Cockpit application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Cockpit application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
