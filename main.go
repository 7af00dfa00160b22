// Package main provides the entry point for the WhatsApp broadcast dispatch service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dispatch"
	"github.com/amirphl/whatsapp-broadcast/app/handlers"
	"github.com/amirphl/whatsapp-broadcast/app/router"
	"github.com/amirphl/whatsapp-broadcast/app/scheduler"
	"github.com/amirphl/whatsapp-broadcast/app/services"
	businessflow "github.com/amirphl/whatsapp-broadcast/business_flow"
	"github.com/amirphl/whatsapp-broadcast/config"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting WhatsApp broadcast service...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.SetOutput(cfg.Logging.Writer(cfg.Logging.FilePath))
	log.SetFlags(log.LstdFlags | log.LUTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop accepting requests before the background workers go away
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	// Reverse order: scheduler, consumers, then cache monitor
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.SlowQueryLog {
		gormCfg.Logger = gormlogger.New(log.Default(), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.Schema()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Println("Database schema migrated")
	}

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// It returns nil when redis is disabled.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned function stops the monitor and closes the client.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return func() {
		cancel()
		_ = client.Close()
	}
}

// initializeWhatsAppService picks the Graph API client or the in-memory mock
func initializeWhatsAppService(cfg *config.ProductionConfig) services.WhatsAppService {
	switch cfg.WhatsApp.Provider {
	case "mock":
		log.Println("WhatsApp provider: mock")
		return services.NewMockWhatsAppService()
	default:
		return services.NewWhatsAppService(&cfg.WhatsApp)
	}
}

// initializeQueue uses the redis list when redis is available and an in-process queue otherwise
func initializeQueue(cfg *config.ProductionConfig, rc *redis.Client) dispatch.Queue {
	if rc != nil {
		log.Printf("Dispatch queue: redis (%s%s)", cfg.Cache.RedisPrefix, cfg.Dispatch.QueueKey)
		return dispatch.NewRedisQueue(rc, cfg.Cache.RedisPrefix, cfg.Dispatch.QueueKey)
	}
	log.Println("Dispatch queue: in-memory")
	return dispatch.NewMemoryQueue(cfg.Dispatch.ParallelBatchCount * 64)
}

// initializeApplication wires repositories, services, flows, handlers and background workers
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(ctx, rc, 30*time.Second))
	}

	// Repositories
	contactRepo := repository.NewContactRepository(db)
	broadcastRepo := repository.NewBroadcastRepository(db)
	batchRepo := repository.NewBroadcastBatchRepository(db)
	recipientRepo := repository.NewBroadcastContactRepository(db)
	messageRepo := repository.NewScheduledMessageRepository(db)

	// Services
	whatsapp := initializeWhatsAppService(cfg)
	templates := services.NewCachedTemplateProvider(whatsapp, rc, cfg.Cache.RedisPrefix, cfg.Cache.TemplateTTL)

	// Dispatch pipeline
	dispatchLogger := log.New(log.Writer(), "dispatch ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	queue := initializeQueue(cfg, rc)
	coordinator := dispatch.NewCoordinator(queue, cfg.Dispatch.ParallelBatchCount, dispatchLogger)
	worker := dispatch.NewBatchWorker(broadcastRepo, batchRepo, recipientRepo, whatsapp, dispatch.WorkerConfig{
		LeaseTTL:          cfg.Dispatch.LeaseTTL,
		MaxSendAttempts:   cfg.Dispatch.MaxSendAttempts,
		RetryBaseInterval: cfg.Dispatch.RetryBaseInterval,
		RatePerSecond:     cfg.Dispatch.SendRatePerSecond,
		Burst:             cfg.Dispatch.SendBurst,
	}, dispatchLogger)
	consumer := dispatch.NewConsumer(queue, worker, cfg.Dispatch.Consumers, cfg.Dispatch.DequeueTimeout, cfg.Dispatch.TaskTimeout, dispatchLogger)
	stopFuncs = append(stopFuncs, consumer.Start(ctx))

	// Business flows
	partitioner := businessflow.NewBatchPartitioner(
		businessflow.NewAudienceResolver(contactRepo, cfg.Dispatch.ProcessingLimit),
		batchRepo,
	)
	broadcastFlow := businessflow.NewBroadcastFlow(broadcastRepo, batchRepo, recipientRepo, partitioner, templates, coordinator,
		businessflow.BroadcastFlowConfig{
			DueBroadcastLimit: cfg.Scheduler.DueBroadcastLimit,
			LeaseTTL:          cfg.Dispatch.LeaseTTL,
		})
	messageFlow := businessflow.NewScheduledMessageFlow(messageRepo, whatsapp, businessflow.ScheduledMessageFlowConfig{
		DueLimit:          cfg.Scheduler.DueMessageLimit,
		RetryBase:         cfg.Scheduler.MessageRetryBase,
		DefaultMaxRetries: cfg.Scheduler.DefaultMessageRetries,
		SendingTimeout:    cfg.Scheduler.MessageSendingTimeout,
	})

	// Handlers
	broadcastHandler := handlers.NewBroadcastHandler(broadcastFlow)
	scheduledMessageHandler := handlers.NewScheduledMessageHandler(messageFlow)
	webhookHandler := handlers.NewWebhookHandler(broadcastFlow, cfg.WhatsApp.WebhookVerifyToken, cfg.WhatsApp.AppSecret)

	appRouter := router.NewFiberRouter(cfg, broadcastHandler, scheduledMessageHandler, webhookHandler)

	if cfg.Scheduler.Enabled {
		schedLogger := scheduler.NewLogger(cfg.Logging.Writer(cfg.Logging.SchedulerLogPath))
		sched, err := scheduler.NewBroadcastScheduler(broadcastFlow, messageFlow, cfg.Scheduler, schedLogger)
		if err != nil {
			return nil, err
		}
		stopFuncs = append(stopFuncs, sched.Start(ctx))
	}

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
