package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Prrash278/tuma/internal/apikeys"
	"github.com/Prrash278/tuma/internal/config"
	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/ingest"
	"github.com/Prrash278/tuma/internal/logging"
	"github.com/Prrash278/tuma/internal/metrics"
	"github.com/Prrash278/tuma/internal/middleware"
	"github.com/Prrash278/tuma/internal/provisioning"
	"github.com/Prrash278/tuma/internal/queue"
	"github.com/Prrash278/tuma/internal/storage"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Keys      *apikeys.Service
	Converter *currency.Converter
	Store     storage.Store
	Worker    *ingest.Worker
	Metrics   metrics.Metrics
	Logger    *logrus.Entry

	// Redis is nil when the usage queue lives in memory
	Redis *redis.Client

	queue queue.Queue
	dlq   queue.DeadLetterQueue
}

// NewRouter builds every collaborator from cfg, starts the ingest worker and
// returns the wrapped handler. Callers must Close the dependencies.
func NewRouter(cfg *config.Config, logger *logrus.Logger) (http.Handler, *Dependencies, error) {
	log := logging.Component(logger, "router")

	table := currency.DefaultTable()
	if cfg.Currency.TablePath != "" {
		loaded, err := currency.LoadTable(cfg.Currency.TablePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load currency table: %w", err)
		}
		table = loaded
		log.WithField("path", cfg.Currency.TablePath).Info("Loaded currency table")
	}
	converter, err := currency.NewConverter(table, cfg.Currency.Spread())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize converter: %w", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	provisioner, err := newProvisioner(cfg, logging.Component(logger, "provisioning"))
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	recorder := metrics.NewPrometheus()

	keys, err := apikeys.NewService(store, converter, provisioner, apikeys.Options{
		ProvisioningTimeout: cfg.Provisioning.Timeout,
		KeyNamePrefix:       cfg.Provisioning.KeyNamePrefix,
		Logger:              logging.Component(logger, "apikeys"),
		Metrics:             recorder,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to initialize key service: %w", err)
	}

	queueCfg := &queue.Config{
		BatchSize:     cfg.Ingest.BatchSize,
		BatchTimeout:  cfg.Ingest.BatchTimeout,
		MaxRetries:    cfg.Ingest.MaxRetries,
		RetryBackoff:  cfg.Ingest.RetryBackoff,
		RedisAddr:     cfg.Redis.Address,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		QueueName:     cfg.Ingest.QueueName,
	}

	var redisClient *redis.Client
	if queueCfg.UseRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			redisClient.Close()
			store.Close()
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	usageQueue, usageDLQ, redisClient, err := queue.Open(context.Background(), queueCfg, redisClient)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to create usage queue: %w", err)
	}

	worker := ingest.NewWorker(usageQueue, usageDLQ, keys, queueCfg, logging.Component(logger, "ingest"), recorder)
	worker.Start(context.Background())

	deps := &Dependencies{
		Keys:      keys,
		Converter: converter,
		Store:     store,
		Worker:    worker,
		Metrics:   recorder,
		Logger:    logging.Component(logger, "http"),
		Redis:     redisClient,
		queue:     usageQueue,
		dlq:       usageDLQ,
	}

	log.WithFields(logrus.Fields{
		"store":       cfg.StoreBackend,
		"provisioner": cfg.Provisioning.Backend,
		"demo":        cfg.Provisioning.DemoFallback,
		"redis_queue": redisClient != nil,
	}).Info("Dependencies initialized")

	return NewHandler(deps), deps, nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	if cfg.StoreBackend != config.StorePostgres {
		return storage.NewMemoryStore(), nil
	}

	enc, err := storage.NewEncryptionFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	store, err := storage.NewPostgresStore(storage.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		KeyCacheSize:    cfg.Cache.KeyCacheSize,
		KeyCacheTTL:     cfg.Cache.KeyCacheTTL,
	}, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

func newProvisioner(cfg *config.Config, logger *logrus.Entry) (provisioning.Provisioner, error) {
	var p provisioning.Provisioner
	switch cfg.Provisioning.Backend {
	case config.ProvisionerStatic:
		p = provisioning.NewStaticProvisioner()
	default:
		client, err := provisioning.NewOpenRouterClient(provisioning.OpenRouterConfig{
			BaseURL:      cfg.Provisioning.BaseURL,
			APIKey:       cfg.Provisioning.APIKey,
			Timeout:      cfg.Provisioning.Timeout,
			MaxRetries:   cfg.Provisioning.MaxRetries,
			RetryBackoff: cfg.Provisioning.RetryBackoff,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provisioning client: %w", err)
		}
		p = client
	}

	if cfg.Provisioning.DemoFallback {
		logger.Warn("Demo fallback enabled, vendor failures will issue demo credentials")
		p = provisioning.NewFallbackProvisioner(p, logger)
	}
	return p, nil
}

// NewHandler registers every route on a fresh mux and wraps it with the
// request middleware.
func NewHandler(deps *Dependencies) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recover(deps.Logger),
		middleware.Observe(deps.Logger, deps.Metrics),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	activeKey := middleware.ActiveKey(deps.Keys)

	// Keys
	mux.HandleFunc("POST /api/keys", deps.handleCreateKey)
	mux.HandleFunc("GET /api/keys", deps.handleListKeys)
	mux.HandleFunc("GET /api/keys/{id}", deps.handleGetKey)
	mux.HandleFunc("POST /api/keys/{id}/deactivate", deps.handleDeactivateKey)
	mux.HandleFunc("PUT /api/keys/{id}/limit", deps.handleUpdateLimit)
	mux.HandleFunc("POST /api/keys/{id}/spending-cap/check", deps.handleCheckSpendingCap)

	// Ledger and usage
	mux.HandleFunc("GET /api/keys/{id}/ledger", deps.handleGetLedger)
	mux.HandleFunc("GET /api/keys/{id}/usage", deps.handleListUsage)
	mux.Handle("POST /api/keys/{id}/usage", activeKey(http.HandlerFunc(deps.handleRecordUsage)))
	mux.Handle("POST /api/keys/{id}/usage/async", activeKey(http.HandlerFunc(deps.handleEnqueueUsage)))

	// Wallet
	mux.HandleFunc("POST /api/wallet/top-up", deps.handleTopUp)

	// Currencies
	mux.HandleFunc("GET /api/currencies", deps.handleListCurrencies)
	mux.HandleFunc("GET /api/currencies/convert", deps.handleConvert)
	mux.HandleFunc("GET /api/currencies/rate", deps.handleRate)

	// Ingest pipeline
	mux.HandleFunc("GET /api/ingest/status", deps.handleIngestStatus)
	mux.HandleFunc("GET /api/ingest/dead-letters", deps.handleListDeadLetters)
	mux.HandleFunc("POST /api/ingest/dead-letters/{id}/retry", deps.handleRetryDeadLetter)

	// Health check and metrics endpoints - public
	mux.HandleFunc("GET /healthz", deps.handleHealth)
	mux.Handle("GET /metrics", deps.Metrics.HTTPHandler())
}

// Close stops the worker, then releases the queue, Redis and the store
func (d *Dependencies) Close() error {
	var errs []error
	if d.Worker != nil {
		errs = append(errs, d.Worker.Stop())
	}
	if d.queue != nil {
		errs = append(errs, d.queue.Close())
	}
	if d.dlq != nil {
		errs = append(errs, d.dlq.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.Store != nil {
		errs = append(errs, d.Store.Close())
	}
	return errors.Join(errs...)
}
