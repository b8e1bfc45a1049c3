package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/handler"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/observability"
	"github.com/psds-microservice/helpdesk-service/internal/router"
	"github.com/psds-microservice/helpdesk-service/internal/searchindex"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "helpdesk-service"

// Bootstrap применяет миграции, открывает БД и создаёт администратора по умолчанию,
// если его ещё нет. Повторный запуск безопасен.
func Bootstrap(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	if err := database.MigrateUp(cfg, log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	hasher := auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}
	if _, err := service.EnsureAdmin(ctx, db, hasher, cfg.Accounts.AdminUsername, cfg.Accounts.AdminPassword, log); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}

// API приложение: HTTP сервер (режим api).
type API struct {
	cfg            *config.Config
	log            *zap.Logger
	db             *gorm.DB
	httpSrv        *http.Server
	producer       *kafka.Producer
	shutdownTracer func(context.Context) error
}

// NewAPI создаёт приложение для режима api.
func NewAPI(ctx context.Context, cfg *config.Config, log *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	db, err := Bootstrap(ctx, cfg, log)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}

	metrics := observability.NewMetrics()
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log, metrics)
	searchClient := searchindex.NewClient(cfg.SearchServiceURL, log, metrics)
	hasher := auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)

	authSvc := service.NewAuthService(db, tokens, hasher, log)
	accountSvc := service.NewAccountService(db, hasher, service.AccountDefaults{
		ClientPassword: cfg.Accounts.DefaultClientPassword,
		AdminPassword:  cfg.Accounts.AdminPassword,
	}, log)
	ticketSvc := service.NewTicketService(db, service.TicketDeps{
		Events:  producer,
		Search:  searchClient,
		Log:     log,
		Metrics: metrics,
	})

	mux := router.New(router.Deps{
		Health:      handler.NewHealthHandler(db, log),
		Auth:        handler.NewAuthHandler(authSvc, log),
		Tickets:     handler.NewTicketHandler(ticketSvc, log),
		Accounts:    handler.NewAccountHandler(accountSvc, log),
		AuthService: authSvc,
		Metrics:     metrics,
		Log:         log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:            cfg,
		log:            log,
		db:             db,
		httpSrv:        httpSrv,
		producer:       producer,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Run запускает HTTP сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+router.PathSwagger),
		zap.String("health", base+router.PathHealth),
		zap.String("metrics", base+router.PathMetrics),
		zap.String("api", base+"/api/v1/"),
		zap.Bool("kafka", a.producer.Enabled()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown", zap.Error(err))
	}
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka producer close", zap.Error(err))
	}
	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.log.Warn("tracer shutdown", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("database close", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http: %w", serveErr)
	}
	return nil
}
