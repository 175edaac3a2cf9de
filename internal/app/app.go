// Package app wires configuration into the running credit pool: store,
// ledger, deposit workflow, pool, router, earn-out worker and usage archive.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"credit_pool/internal/config"
	"credit_pool/internal/deposit"
	"credit_pool/internal/earnout"
	"credit_pool/internal/httpapi"
	"credit_pool/internal/ledger"
	"credit_pool/internal/logging"
	"credit_pool/internal/pool"
	"credit_pool/internal/pricing"
	"credit_pool/internal/providers"
	"credit_pool/internal/queue"
	"credit_pool/internal/ratelimit"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
	"credit_pool/internal/validator"
)

var logger = utils.NewLogger("app")

// App is the assembled service.
type App struct {
	Deps    *httpapi.Dependencies
	EarnOut *earnout.Worker
	Sink    logging.Sink
	Limiter ratelimit.Limiter

	reconcileAfter time.Duration
	started        bool
	closers        []func() error
}

// reconcileBatch caps how many unpaid releases one sweep republishes.
const reconcileBatch = 500

// OpenStore returns the Postgres store when a database URL is configured and
// the in-memory store otherwise.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return storage.NewMemoryStore(), nil
	}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:              cfg.Database.URL,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  cfg.Database.ConnMaxIdleTime,
		QueryTimeout:     cfg.Database.QueryTimeout,
		PricingCacheSize: cfg.Cache.PricingCacheSize,
		PricingCacheTTL:  cfg.Cache.PricingCacheTTL,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return storage.NewPostgresStore(db), nil
}

// SeedPricing prices the configured catalog and upserts it.
func SeedPricing(ctx context.Context, store storage.Store, cfg *config.Config) (int, error) {
	engine, err := pricing.NewEngine(cfg.Pricing)
	if err != nil {
		return 0, err
	}
	rows, err := pricing.NewCatalog(engine).Build(cfg.Catalog, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := store.UpsertPricing(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// New builds every component from cfg. Callers must Close the App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Encryption.Secret == "" {
		return nil, errors.New("ENCRYPTION_SECRET is required")
	}

	a := &App{reconcileAfter: cfg.EarnOut.ReconcileAfter}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	n, err := SeedPricing(ctx, store, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to seed pricing: %w", err)
	}
	logger.Info("Pricing catalog loaded", "models", n)

	vault, err := storage.NewEncryptionFromSecret(cfg.Encryption.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	invoker := providers.NewHTTPInvoker(cfg.Provider.RequestTimeout)
	a.closers = append(a.closers, invoker.Close)
	credValidator := validator.New(providers.NewRegistry(cfg.Provider.Settings), invoker)

	l := ledger.New(store)

	qcfg := &queue.Config{
		QueueName:    cfg.EarnOut.QueueName,
		BatchSize:    cfg.EarnOut.BatchSize,
		BatchTimeout: cfg.EarnOut.BatchTimeout,
		MaxRetries:   cfg.EarnOut.MaxRetries,
		RetryBackoff: cfg.EarnOut.RetryBackoff,
	}
	q, dlq, limiter, err := a.buildQueues(ctx, cfg.Redis, qcfg)
	if err != nil {
		return nil, err
	}
	a.Limiter = limiter
	a.EarnOut = earnout.NewWorker(q, dlq, l, qcfg, cfg.EarnOut.Enabled)

	sink, err := buildSink(ctx, cfg.LoggingSink)
	if err != nil {
		return nil, err
	}
	a.Sink = sink

	router := pool.NewRouter(store, l, pool.RouterConfig{
		Weights: pool.RoutingWeights{
			Cost:         cfg.Routing.CostWeight,
			Reliability:  cfg.Routing.ReliabilityWeight,
			Availability: cfg.Routing.AvailabilityWeight,
			Load:         cfg.Routing.LoadWeight,
		},
		TopN:      cfg.Routing.TopN,
		Limiter:   limiter,
		Terms:     cfg.Release,
		Publisher: a.EarnOut,
		Sink:      sink,
	})

	a.Deps = &httpapi.Dependencies{
		Store:     store,
		Ledger:    l,
		Deposits:  deposit.NewWorkflow(store, l, credValidator, vault, cfg.Release),
		Pool:      pool.New(store, credValidator, vault),
		Router:    router,
		EarnOut:   a.EarnOut,
		JWTSecret: cfg.JWTSecret,
	}
	ok = true
	return a, nil
}

// buildQueues picks Redis-backed queues and limiter when Redis is enabled,
// and process-local ones otherwise.
func (a *App) buildQueues(ctx context.Context, rc config.RedisConfig, qcfg *queue.Config) (queue.Queue, queue.DeadLetterQueue, ratelimit.Limiter, error) {
	if !rc.Enabled {
		return queue.NewMemoryQueue(qcfg), queue.NewMemoryDeadLetterQueue(), ratelimit.NewLocalLimiter(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         rc.Address,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})
	a.closers = append(a.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, rc.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Address, err)
	}

	q, err := queue.NewRedisQueue(client, qcfg)
	if err != nil {
		return nil, nil, nil, err
	}
	dlq, err := queue.NewRedisDeadLetterQueue(client, qcfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return q, dlq, ratelimit.NewRedisLimiter(client), nil
}

func buildSink(ctx context.Context, cfg config.LoggingSinkConfig) (logging.Sink, error) {
	if !cfg.Enabled {
		return logging.NewNoopSink(), nil
	}

	batch := logging.BatchSinkConfig{
		BufferSize:    cfg.BufferSize,
		FlushSize:     cfg.FlushSize,
		FlushInterval: cfg.FlushInterval,
	}
	if cfg.S3Bucket != "" {
		w, err := logging.NewS3Writer(ctx, logging.S3Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Prefix:   cfg.S3Prefix,
			PodName:  cfg.PodName,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Usage archive writing to S3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return logging.NewBatchSink(w, batch), nil
	}

	w, err := logging.NewFileWriter(cfg.FileTemplate, cfg.MaxFileSize, cfg.MaxFiles)
	if err != nil {
		return nil, err
	}
	logger.Info("Usage archive writing to local files", "template", cfg.FileTemplate)
	return &fileSink{BatchSink: logging.NewBatchSink(w, batch), file: w}, nil
}

// fileSink closes the file once the batch sink has drained into it.
type fileSink struct {
	*logging.BatchSink
	file *logging.FileWriter
}

func (s *fileSink) Shutdown(ctx context.Context) error {
	err := s.BatchSink.Shutdown(ctx)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Start launches the earn-out worker and the periodic maintenance sweep.
func (a *App) Start(ctx context.Context, sweepEvery time.Duration) {
	a.started = true
	a.EarnOut.Start(ctx)
	go a.sweep(ctx, sweepEvery)
}

func (a *App) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.sweepOnce(ctx, now.UTC())
		}
	}
}

// sweepOnce runs one maintenance tick: resource expiry, earn-out
// reconciliation, limiter cleanup and store cache trimming.
func (a *App) sweepOnce(ctx context.Context, now time.Time) {
	n, err := a.Deps.Pool.ExpireDue(ctx, now)
	if err != nil {
		logger.Error("Failed to expire resources", "error", err)
	} else if n > 0 {
		logger.Info("Expired resources", "count", n)
	}

	if a.EarnOut.Enabled() {
		if _, err := a.Deps.Router.RepublishUnpaid(ctx, now.Add(-a.reconcileAfter), reconcileBatch); err != nil {
			logger.Error("Failed to reconcile earn-out releases", "error", err)
		}
	}

	if local, ok := a.Limiter.(*ratelimit.LocalLimiter); ok {
		local.Cleanup()
	}
	if m, ok := a.Deps.Store.(storage.Maintained); ok {
		if n := m.CleanupExpiredCacheEntries(); n > 0 {
			logger.Debug("Pricing cache trimmed", "entries", n)
		}
	}
}

// Shutdown stops the worker and drains the usage archive.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.started {
		if err := a.EarnOut.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("earn-out worker: %w", err))
		}
	}
	if a.Sink != nil {
		if err := a.Sink.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("usage archive: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Handler returns the HTTP handler for a.
func Handler(a *App) http.Handler {
	return httpapi.NewRouter(a.Deps)
}
