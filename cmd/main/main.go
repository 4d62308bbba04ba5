package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/cache"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/config"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/healthcheck"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/httpapi"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/jetstream"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/outboxworker"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/provider"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/usecase"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/webhook"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Log.Info("Starting Daisi Comms Pipeline",
		zap.String("environment", cfg.Environment),
		zap.String("provider", cfg.Provider.Name),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
	)

	postgresRepo, err := initPostgresRepo(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}
	repos := storage.NewRepositories(postgresRepo)

	// Interfaces stay nil when a backing service is disabled.
	var (
		lineCache   usecase.LineCache
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" && cfg.Redis.LineTTL > 0 {
		redisClient, err = cache.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Log.Fatal("Failed to initialize Redis client", zap.Error(err))
		}
		lineCache = cache.NewLineCache(redisClient, cfg.Redis.LineTTL)
		logger.Log.Info("Tenant resolver cache enabled", zap.Duration("ttl", cfg.Redis.LineTTL))
	}

	var (
		publisher jetstream.ClientInterface
		jsClient  *jetstream.Client
	)
	if cfg.NATS.Enabled {
		jsClient, err = initJetStreamClient(cfg)
		if err != nil {
			logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
		}
		publisher = jsClient
	}

	receiptWriter, err := usecase.NewReceiptWriter(usecase.ReceiptWriterConfig{
		PoolSize:    cfg.Outbox.ReceiptPool,
		SubjectBase: cfg.NATS.ReceiptSubject,
	}, repos.Receipts, publisher, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize receipt writer", zap.Error(err))
	}

	providerClient := initProviderClient(cfg)
	resolver := usecase.NewTenantResolver(repos.Lines, lineCache)
	policy := usecase.NewPolicy(repos.Line, repos.Compliance)

	ingestService := usecase.NewIngestService(
		webhook.NewRegistry(cfg.Webhooks.Secrets),
		resolver,
		repos.Events,
		repos.Outbox,
		receiptWriter,
	)
	actionService := usecase.NewActionService(policy, repos.Outbox, receiptWriter)
	processor := usecase.NewProcessor(repos, policy, providerClient, receiptWriter, resolver,
		usecase.NewCallbackURLs(cfg.Provider.StatusCallback))

	worker, err := outboxworker.NewWorker(cfg.Outbox, repos.Outbox, processor, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize outbox worker", zap.Error(err))
	}

	authenticator, err := httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Log.Fatal("Failed to initialize authenticator", zap.Error(err))
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Logger:          logger.Log.Named("http"),
		Ingest:          ingestService,
		Actions:         actionService,
		Auth:            authenticator,
		SignatureHeader: cfg.Webhooks.SignatureHeader,
	})
	apiServer := httpapi.NewServer(":"+strconv.Itoa(cfg.Server.Port), router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, logger.Log)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Metrics.Port), logger.Log)
	healthServer.AddCheck("postgres", postgresRepo.Ping)
	if jsClient != nil {
		healthServer.AddCheck("nats", func(context.Context) error {
			if !jsClient.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}
	if redisClient != nil {
		healthServer.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Metrics.Port))
	}
	healthServer.Start()

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	go receiptWriter.Run(mainCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := worker.Start(mainCtx); err != nil {
			logger.Log.Error("Outbox worker stopped with error, initiating shutdown...", zap.Error(err))
			select {
			case sigChan <- syscall.SIGTERM:
			default:
			}
		}
	}()

	apiErrCh := apiServer.Start()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
	case err := <-apiErrCh:
		logger.Log.Error("API server failed, initiating shutdown...", zap.Error(err))
	}
	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	// Stop intake first so no new jobs or receipts arrive while draining.
	runShutdownStep("API server", func() {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping API server", zap.Error(err))
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	utils.SafeGo(func() {
		defer wg.Done()
		runShutdownStep("outbox worker", worker.Stop)
	}, shutdownPanicHandler("outbox worker"))
	utils.SafeGo(func() {
		defer wg.Done()
		runShutdownStep("health check server", func() {
			if err := healthServer.Stop(shutdownCtx); err != nil {
				logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
			}
		})
	}, shutdownPanicHandler("health check server"))

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		// Receipts written by the last jobs are flushed before connections close.
		runShutdownStep("receipt writer", receiptWriter.Close)
		runShutdownStep("connections", func() {
			if err := postgresRepo.Close(shutdownCtx); err != nil {
				logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
			}
			if jsClient != nil {
				jsClient.Close()
			}
			if redisClient != nil {
				_ = redisClient.Close()
			}
		})
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Daisi Comms Pipeline shutdown complete")
}

func runShutdownStep(name string, fn func()) {
	logger.Log.Info("[shutdown] Stopping " + name)
	start := time.Now()
	fn()
	logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
}

// shutdownPanicHandler only logs; the step's deferred wg.Done has already run
// by the time the panic is recovered.
func shutdownPanicHandler(name string) utils.RecoverFn {
	return func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping "+name,
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	}
}

func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient connects and ensures the receipt stream exists.
func initJetStreamClient(cfg *config.Config) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}

	streamCfg := &nats.StreamConfig{
		Name:       cfg.NATS.ReceiptStream,
		Subjects:   []string{cfg.NATS.ReceiptSubject + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     cfg.NATS.ReceiptMaxAge,
		Duplicates: cfg.NATS.DuplicateWindow,
	}
	if err := client.SetupStream(context.Background(), streamCfg); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup receipt stream '%s': %w", cfg.NATS.ReceiptStream, err)
	}
	logger.Log.Info("Receipt stream setup complete", zap.String("stream", cfg.NATS.ReceiptStream))
	return client, nil
}

// initProviderClient uses client credentials when a token URL is configured,
// otherwise the client secret as a static bearer token.
func initProviderClient(cfg *config.Config) *provider.HTTPClient {
	var source provider.TokenSource = provider.StaticTokenSource(cfg.Provider.ClientSecret)
	if cfg.Provider.TokenURL != "" {
		source = &provider.ClientCredentialsSource{
			TokenURL:     cfg.Provider.TokenURL,
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
		}
	}
	return provider.NewHTTPClient(provider.HTTPConfig{
		Name:          cfg.Provider.Name,
		BaseURL:       cfg.Provider.BaseURL,
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RatePerSecond,
		Burst:         cfg.Provider.Burst,
	}, provider.NewTokenCache(source))
}
