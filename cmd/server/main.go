// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fdm-service/internal/config"
	"fdm-service/internal/database"
	"fdm-service/internal/fdm"
	"fdm-service/internal/handler"
	"fdm-service/internal/model"
	"fdm-service/internal/repository"
	"fdm-service/internal/routes"
	"fdm-service/internal/service"
	"fdm-service/internal/transport"
	"fdm-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Fiscal module link
	connection transport.Connection
	link       *transport.Link
	session    *fdm.Session

	// Services
	fiscalService *service.FiscalService

	// Repositories
	terminalRepo repository.TerminalStateRepository
	receiptRepo  repository.ReceiptRepository

	// WebSocket event publishing
	wsHandler *handler.WebSocketHandler
}

func main() {
	// Initialize application
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create service logger
	serviceLogger := utils.NewServiceLogger(logger, "fdm-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	// Initialize components
	if cfg.UsesPostgres() {
		if err := app.initializeDatabase(); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := app.initializeModuleLink(); err != nil {
		return nil, fmt.Errorf("failed to initialize fiscal module link: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up database connection and runs migrations
func (app *Application) initializeDatabase() error {
	db, err := database.NewConnection(&app.config.Database, app.config.GetDatabaseDSN(), app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	app.database = db

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances backed by Postgres
// or, with database.storage=memory, by process-local stores.
func (app *Application) initializeRepositories() error {
	if app.config.UsesPostgres() {
		app.terminalRepo = repository.NewTerminalStateRepository(app.database, app.logger)
		app.receiptRepo = repository.NewReceiptRepository(app.database, app.logger)
	} else {
		app.terminalRepo = repository.NewMemoryTerminalStateRepository()
		app.receiptRepo = repository.NewMemoryReceiptRepository()
		app.logger.Warn("Using in-memory storage: receipts and terminal state will not survive a restart")
	}

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeModuleLink sets up the serialized link to the fiscal data
// module and the protocol session on top of it. The connection itself is
// opened lazily on the first exchange.
func (app *Application) initializeModuleLink() error {
	fdmCfg := app.config.FDM

	conn, err := transport.NewConnection(transport.Config{
		Type: model.ConnectionType(fdmCfg.ConnectionType),
		Serial: transport.SerialConfig{
			Port:     fdmCfg.Serial.Port,
			BaudRate: fdmCfg.Serial.BaudRate,
			DataBits: fdmCfg.Serial.DataBits,
			StopBits: fdmCfg.Serial.StopBits,
			Parity:   fdmCfg.Serial.Parity,
			Timeout:  fdmCfg.Serial.Timeout,
		},
		TCP: transport.TCPConfig{
			Host:         fdmCfg.TCP.Host,
			Port:         fdmCfg.TCP.Port,
			KeepAlive:    fdmCfg.TCP.KeepAlive,
			Timeout:      fdmCfg.TCP.ConnectTimeout,
			ReadTimeout:  fdmCfg.TCP.ReadTimeout,
			WriteTimeout: fdmCfg.TCP.WriteTimeout,
		},
		USB: transport.USBConfig{
			VendorID:  fdmCfg.USB.VendorID,
			ProductID: fdmCfg.USB.ProductID,
			Interface: fdmCfg.USB.Interface,
			Endpoint:  fdmCfg.USB.Endpoint,
			Timeout:   fdmCfg.USB.Timeout,
		},
	}, app.logger)
	if err != nil {
		return err
	}

	app.connection = conn
	app.link = transport.NewLink(conn, app.logger)

	sequences := service.NewSequenceSource(app.terminalRepo, fdmCfg.TerminalID)
	app.session = fdm.NewSession(app.link, sequences, fdm.SessionConfig{
		RetryDelay: fdmCfg.RetryDelay,
		OnUnreachable: func(attempt int) {
			app.logger.Warn("Fiscal data module unreachable, retrying until it answers",
				zap.Int("attempt", attempt),
			)
		},
	}, app.logger)

	app.logger.Info("Fiscal module link initialized",
		zap.String("connection_type", fdmCfg.ConnectionType),
		zap.String("terminal_id", fdmCfg.TerminalID),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.wsHandler = handler.NewWebSocketHandler(app.config.Security.AllowedOrigins, app.logger)

	app.fiscalService = service.NewFiscalService(
		app.session,
		app.terminalRepo,
		app.receiptRepo,
		app.wsHandler,
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.link,
		app.fiscalService,
		app.wsHandler,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.startChainAudit()

	app.logger.Info("Background services started")
}

// startChainAudit periodically replays the receipt journal against the
// stored chain head so tampering surfaces without waiting for an
// inspection.
func (app *Application) startChainAudit() {
	interval := app.config.FDM.ChainAuditInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.logger.Info("Chain audit started", zap.Duration("interval", interval))

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)

		report, err := app.fiscalService.VerifyChain(ctx, app.config.FDM.TerminalID)
		if err != nil {
			app.logger.Error("Chain audit failed", zap.Error(err))
		} else if !report.Intact {
			app.logger.Error("Chain audit found a broken hash chain",
				zap.String("terminal_id", report.TerminalID),
				zap.Int("receipts", report.Receipts),
				zap.String("expected_head", report.ExpectedHead),
				zap.String("actual_head", report.ActualHead),
			)
		}

		cancel()
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "fdm-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Close the module link
	if app.link != nil {
		if err := app.link.Close(); err != nil {
			app.logger.Error("Module link close error", zap.Error(err))
		} else {
			app.logger.Info("Fiscal module link closed")
		}
	}

	// Close database connection
	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

func (app *Application) Start() error {
	// Start server in goroutine
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Start background services
	app.startBackgroundServices()

	// Wait for interrupt signal
	app.waitForShutdown()

	return nil
}
