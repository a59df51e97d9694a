package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/auth"
	"github.com/frahmantamala/league-payments/internal/core/events"
	"github.com/frahmantamala/league-payments/internal/installment"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	ledgerPostgres "github.com/frahmantamala/league-payments/internal/ledger/postgres"
	"github.com/frahmantamala/league-payments/internal/manual"
	"github.com/frahmantamala/league-payments/internal/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/paymentstatus"
	playerService "github.com/frahmantamala/league-payments/internal/player"
	playerPostgres "github.com/frahmantamala/league-payments/internal/player/postgres"
	"github.com/frahmantamala/league-payments/internal/pricing"
	"github.com/frahmantamala/league-payments/internal/tax"
	"github.com/frahmantamala/league-payments/internal/terminal"
	"github.com/frahmantamala/league-payments/internal/transport/rest"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for operator requests and processor webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config       *internal.Config
	DB           *sqlx.DB
	Gorm         *gorm.DB
	Logger       *slog.Logger
	EventBus     *events.EventBus
	Gateway      *paymentgateway.Client
	Ledger       *ledgerService.Service
	Players      *playerService.Service
	Prices       *pricing.Resolver
	Orchestrator *terminal.Orchestrator
	Installments *installment.Engine
	Manual       *manual.Service
	Status       *paymentstatus.Service
	Tokens       *auth.JWTTokenIssuer
}

func (d *Dependencies) Close() {
	d.EventBus.Wait()
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	checkAPIDocument(deps.Logger)
	router := setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		deps.Close()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) *chi.Mux {
	lg := deps.Logger
	health := rest.NewHealthHandler(deps.DB.DB, map[string]rest.Check{
		"gateway": func(ctx context.Context) error {
			_, err := deps.Gateway.ListReaders(ctx)
			return err
		},
	})

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:        health,
		Auth:          auth.NewMiddleware(deps.Tokens, lg),
		Terminal:      terminal.NewHandler(deps.Orchestrator, lg),
		Webhook:       terminal.NewWebhookHandler(deps.Gateway, deps.Orchestrator, lg),
		Installment:   installment.NewHandler(deps.Installments, lg),
		Manual:        manual.NewHandler(deps.Manual, lg),
		PaymentStatus: paymentstatus.NewHandler(deps.Status, lg),
	}, deps.Config.Server.AllowedOrigins, lg)
	return router
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	bus := events.NewEventBus(lg)
	subscribeAuditLog(bus, lg)

	gateway := paymentgateway.NewClient(paymentgateway.Config{
		SecretKey:     config.Gateway.SecretKey,
		WebhookSecret: config.Gateway.WebhookSecret,
		APIURL:        config.Gateway.APIURL,
		Timeout:       config.Gateway.Timeout,
	}, lg)

	ledgers := ledgerService.NewService(ledgerPostgres.NewLedgerRepository(gormDB), lg)
	players := playerService.NewService(playerPostgres.NewPlayerRepository(db), lg)
	prices := pricing.NewResolver(players, newTaxCalculator(config.Tax, lg), lg)

	orchestrator := terminal.NewOrchestrator(gateway, ledgers, players, bus, terminal.Config{
		Currency:       config.Gateway.Currency,
		MaxAttempts:    config.Gateway.MaxAttempts,
		InitialBackoff: config.Gateway.InitialBackoff,
	}, lg)
	engine := installment.NewEngine(ledgers, prices, orchestrator, players, bus, lg)
	orchestrator.RegisterInstallmentApplier(engine)

	return &Dependencies{
		Config:       config,
		DB:           db,
		Gorm:         gormDB,
		Logger:       lg,
		EventBus:     bus,
		Gateway:      gateway,
		Ledger:       ledgers,
		Players:      players,
		Prices:       prices,
		Orchestrator: orchestrator,
		Installments: engine,
		Manual:       manual.NewService(ledgers, players, prices, bus, lg),
		Status:       paymentstatus.NewService(ledgers, players, config.Reconciliation.GracePeriod, lg),
		Tokens:       auth.NewJWTTokenIssuer(config.Security),
	}, nil
}

func newTaxCalculator(cfg internal.TaxConfig, lg *slog.Logger) *tax.Calculator {
	var opts []tax.Option
	if cfg.DefaultRate != "" {
		opts = append(opts, tax.WithFallback(decimal.RequireFromString(cfg.DefaultRate)))
	}
	for region, rate := range cfg.Regions {
		opts = append(opts, tax.WithRegionRate(region, decimal.RequireFromString(rate)))
	}
	return tax.NewCalculator(lg, opts...)
}

// subscribeAuditLog writes every ledger event to the process log. Anomalies
// are warnings so they surface in alerting.
func subscribeAuditLog(bus *events.EventBus, lg *slog.Logger) {
	record := func(ctx context.Context, event events.Event) error {
		logger.Scoped(ctx, lg).Info("ledger event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	}
	bus.Subscribe(events.EventTypePaymentCompleted, record)
	bus.Subscribe(events.EventTypePaymentFailed, record)
	bus.Subscribe(events.EventTypeInstallmentRecovered, record)
	bus.Subscribe(events.EventTypePaymentAnomaly, func(ctx context.Context, event events.Event) error {
		logger.Scoped(ctx, lg).Warn("ledger anomaly",
			"event_id", event.EventID(),
			"payload", event.Payload())
		return nil
	})
}

// checkAPIDocument loads the served OpenAPI document so a broken contract is
// visible at startup rather than in the swagger UI.
func checkAPIDocument(lg *slog.Logger) {
	doc, err := openapi3.NewLoader().LoadFromFile(rest.OpenAPIPath)
	if err != nil {
		lg.Warn("OpenAPI document not loaded", "path", rest.OpenAPIPath, "error", err)
		return
	}
	if err := doc.Validate(context.Background()); err != nil {
		lg.Warn("OpenAPI document is invalid", "path", rest.OpenAPIPath, "error", err)
		return
	}
	lg.Debug("OpenAPI document loaded", "paths", doc.Paths.Len())
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx connection pool with gorm.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
