package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/config"
	"github.com/jgwerner/nbexchange/internal/delivery/httpd"
	"github.com/jgwerner/nbexchange/internal/repository"
	"github.com/jgwerner/nbexchange/internal/service"
	"github.com/jgwerner/nbexchange/internal/service/integration"
	"github.com/jgwerner/nbexchange/internal/worker"
)

type App struct {
	server    *http.Server
	logger    zerolog.Logger
	config    *config.Config
	db        *sql.DB
	publisher integration.EventPublisher
	sweeper   *worker.RetentionWorker
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	// Выбираем бэкенд хранилища артефактов
	backend, err := newStorageBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	storageRepo := repository.NewStorageRepository(backend, log)

	// Репозитории журнала и справочника
	ledgerRepo := repository.NewLedgerRepository(db, log)
	subscriptionRepo := repository.NewSubscriptionRepository(db, log)

	// Сервисы
	checksumService, err := service.NewChecksumService(cfg.Hash.Algorithm)
	if err != nil {
		return nil, err
	}

	directoryService := service.NewDirectoryService(subscriptionRepo, log)

	// Публикация событий опциональна: без брокера сервис работает
	var publisher integration.EventPublisher
	if cfg.RabbitMQ.Enabled {
		publisher, err = integration.NewRabbitMQPublisher(
			cfg.RabbitMQ.URL,
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.RoutingKey,
			log,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create RabbitMQ publisher, continuing without events")
			publisher = nil
		}
	}

	exchangeService := service.NewExchangeService(
		ledgerRepo,
		storageRepo,
		checksumService,
		directoryService,
		publisher,
		log,
		service.ExchangeConfig{MaxAppendRetries: cfg.Exchange.MaxAppendRetries},
	)

	// Сборщик мусора хранилища
	var sweeper *worker.RetentionWorker
	if cfg.Storage.GCEnabled {
		pool := worker.NewWorkerPool(cfg.Storage.GCWorkers, log)
		sweeper = worker.NewRetentionWorker(
			ledgerRepo,
			storageRepo,
			pool,
			cfg.Storage.GCInterval,
			cfg.Storage.Retention,
			log,
		)
	}

	// Обработчики
	handler := httpd.NewHandler(
		exchangeService,
		directoryService,
		storageRepo,
		cfg.Server.MaxUploadSize,
		log,
	)

	// Роутер и middleware
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:    server,
		logger:    log,
		config:    cfg,
		db:        db,
		publisher: publisher,
		sweeper:   sweeper,
	}, nil
}

func newStorageBackend(cfg *config.Config, log zerolog.Logger) (repository.ArtifactStorage, error) {
	switch cfg.Storage.Provider {
	case "filesystem":
		return repository.NewFilesystemRepository(cfg.Storage.RootDir, log)
	case "minio":
		return repository.NewMinIORepository(
			cfg.MinIO.Endpoint,
			cfg.MinIO.AccessKey,
			cfg.MinIO.SecretKey,
			cfg.Storage.BucketName,
			cfg.Storage.Region,
			cfg.MinIO.UseSSL,
			cfg.MinIO.Timeout,
			log,
		)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func (a *App) Run() error {
	if a.sweeper != nil {
		a.sweeper.Start()
	}

	a.logger.Info().Msgf("Starting exchange service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down exchange service...")

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	return a.server.Shutdown(ctx)
}
