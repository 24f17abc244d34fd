// Package app wires every component into one running process: config,
// storage, clients, the event engine, the job scheduler, and the HTTP
// server. Grounded on the teacher's internal/app/app.go construction
// sequence (load config -> init logger -> init storage -> init clients
// -> init services -> assemble struct), adapted to this module's
// components.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/offerengine/internal/clients/featureflag"
	"github.com/bobmcallan/offerengine/internal/clients/notifier"
	"github.com/bobmcallan/offerengine/internal/clients/objectstore"
	"github.com/bobmcallan/offerengine/internal/clients/offercache"
	"github.com/bobmcallan/offerengine/internal/clients/thirdparty"
	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/eventmanager"
	"github.com/bobmcallan/offerengine/internal/handlers"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/jobs"
	"github.com/bobmcallan/offerengine/internal/jobscheduler"
	"github.com/bobmcallan/offerengine/internal/leasecache"
	"github.com/bobmcallan/offerengine/internal/refresh"
	"github.com/bobmcallan/offerengine/internal/server"
	"github.com/bobmcallan/offerengine/internal/storage/surrealdb"
)

// Cron schedules for the jobs this process registers, grounded on
// original_source's scheduler crate (scheduler/src/main.rs): refresh
// every two minutes, a daily lease sweep (UnlockAllAccounts), and a
// daily full catalog cache population (CategoriseOffers).
const (
	refreshSchedule      = "0 */2 * * * *"
	leaseSweepSchedule   = "0 0 0 * * *"
	catalogCacheSchedule = "0 0 0 * * *"
)

// App holds every initialized component for the event engine process.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager

	FeatureFlagClient *featureflag.Client

	LeaseCache      *leasecache.Cache
	RefreshPipeline *refresh.Pipeline
	StateBag        *interfaces.StateBag
	Handlers        *handlers.Handlers

	Registry     *eventmanager.Registry
	EventManager *eventmanager.Manager
	JobScheduler *jobscheduler.Scheduler
	Server       *server.Server

	StartupTime time.Time
}

// configPathFromEnv resolves the config file path the way the teacher
// resolves VIRE_CONFIG, adapted to this module's env var name.
func configPathFromEnv(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("OFFERENGINE_CONFIG")
	}
	if configPath == "" {
		configPath = "config/offerengine.toml"
	}
	return configPath
}

// NewApp loads configuration, connects storage and clients, and wires
// every component together. It does not start the event worker, job
// scheduler, or HTTP listener; call Start for that.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	cfg, err := common.LoadConfig(configPathFromEnv(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(cfg.Logging.Level)
	common.PrintBanner(cfg, logger)

	storageManager, err := surrealdb.NewManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	clientFactory := thirdparty.NewClientFactory(
		thirdparty.WithBaseURL(cfg.Mcdonalds.BaseURL),
		thirdparty.WithLogger(logger),
		thirdparty.WithRateLimit(thirdparty.DefaultRateLimit),
	)

	leaseCache := leasecache.New(
		storageManager.AccountLeaseStore(),
		storageManager.AccountStore(),
		clientFactory,
		logger,
	)

	pipeline := refresh.New(
		storageManager.AccountStore(),
		storageManager.OfferCatalogStore(),
		storageManager.OfferInstanceStore(),
		storageManager.JobExecutionStore(),
		leaseCache,
		cfg.Scheduler.FailureThreshold,
		cfg.Scheduler.GetLeaseTTL(),
		logger,
	)

	objectStore, err := newObjectStore(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Object store not configured, SaveImage will be unavailable")
	}

	stateBag := interfaces.NewStateBag()

	var ffClient *featureflag.Client
	if cfg.FeatureFlag.SDKKey != "" {
		ffClient, err = featureflag.New(cfg.FeatureFlag.SDKKey, 5*time.Second, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Feature flag client not available")
		} else {
			interfaces.Register[interfaces.FeatureFlagClient](stateBag, ffClient)
		}
	}

	if cfg.Redis.ConnectionString != "" {
		opts, err := redis.ParseURL(cfg.Redis.ConnectionString)
		if err != nil {
			logger.Warn().Err(err).Msg("Invalid Redis connection string, offer cache disabled")
		} else {
			redisClient := redis.NewClient(opts)
			interfaces.Register[interfaces.OfferCache](stateBag, offercache.New(redisClient))
		}
	}
	stateBag.Freeze()

	h := handlers.New(
		storageManager.AccountStore(),
		storageManager.OfferCatalogStore(),
		storageManager.OfferAuditStore(),
		storageManager.CustomerPointsStore(),
		storageManager.RecommendationStore(),
		objectStore,
		notifier.New(nil),
		leaseCache,
		pipeline,
		logger,
	)

	registry := eventmanager.NewRegistry()
	h.RegisterAll(registry)

	eventMgr := eventmanager.New(storageManager.EventStore(), registry, stateBag, logger)
	scheduler := jobscheduler.New(storageManager.JobExecutionStore(), eventMgr, stateBag, logger)

	if err := scheduler.Add("RefreshOffers", "cron", refreshSchedule, pipeline); err != nil {
		return nil, fmt.Errorf("failed to register RefreshOffers job: %w", err)
	}
	if err := scheduler.Add("AccountLeaseSweep", "cron", leaseSweepSchedule, jobs.NewAccountLeaseSweep(leaseCache, logger)); err != nil {
		return nil, fmt.Errorf("failed to register AccountLeaseSweep job: %w", err)
	}
	if err := scheduler.Add("PopulateOfferDetailsCache", "cron", catalogCacheSchedule, jobs.NewEventTrigger("PopulateOfferDetailsCache", logger)); err != nil {
		return nil, fmt.Errorf("failed to register PopulateOfferDetailsCache job: %w", err)
	}

	httpServer := server.New(cfg, logger, storageManager, eventMgr, registry, scheduler)

	a := &App{
		Config:            cfg,
		Logger:            logger,
		Storage:           storageManager,
		FeatureFlagClient: ffClient,
		LeaseCache:        leaseCache,
		RefreshPipeline:   pipeline,
		StateBag:          stateBag,
		Handlers:          h,
		Registry:          registry,
		EventManager:      eventMgr,
		JobScheduler:      scheduler,
		Server:            httpServer,
		StartupTime:       startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// newObjectStore builds the SaveImage destination from cfg.ObjectStore,
// returning a nil Store (not an error) when no bucket is configured.
func newObjectStore(cfg *common.Config, logger *common.Logger) (interfaces.ObjectStore, error) {
	if cfg.ObjectStore.Bucket == "" {
		return nil, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.ObjectStore.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ObjectStore.Endpoint != "" {
			o.BaseEndpoint = &cfg.ObjectStore.Endpoint
			o.UsePathStyle = true
		}
	})

	return objectstore.New(s3Client, cfg.ObjectStore.Bucket, cfg.ObjectStore.ImageBaseURL, objectstore.WithLogger(logger)), nil
}

// Start reloads incomplete events, then starts the EventManager worker,
// the JobScheduler, and the HTTP listener (spec §4.1 reload_incomplete
// "called once at process start").
func (a *App) Start(ctx context.Context) error {
	count, err := a.EventManager.ReloadIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload incomplete events: %w", err)
	}
	a.Logger.Info().Int("count", count).Msg("Reloaded incomplete events")

	a.EventManager.Start(ctx)

	if err := a.JobScheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job scheduler: %w", err)
	}

	go func() {
		if err := a.Server.Start(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Close runs spec §5's shutdown sequence: stop accepting HTTP requests,
// stop the job scheduler, stop the event worker, close storage.
func (a *App) Close() {
	drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.Scheduler.GetDrainTimeout())
	defer cancel()

	if err := a.Server.Shutdown(drainCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if err := a.JobScheduler.Stop(drainCtx); err != nil {
		a.Logger.Error().Err(err).Msg("Job scheduler shutdown failed")
	}

	a.EventManager.Stop()

	if err := a.Storage.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Storage shutdown failed")
	}

	common.PrintShutdownBanner(a.Logger)
}
