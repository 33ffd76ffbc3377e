package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"trustpipe/internal/audit"
	"trustpipe/internal/config"
	"trustpipe/internal/constants"
	"trustpipe/internal/logger"
	"trustpipe/internal/pipeline"
	"trustpipe/internal/startupcheck"
	"trustpipe/internal/suppression"
	"trustpipe/internal/templateapi"
	"trustpipe/internal/templates"
	"trustpipe/internal/verification"
	"trustpipe/pkg/bootstrap"
	"trustpipe/pkg/health"
	"trustpipe/pkg/logging"
	"trustpipe/pkg/metrics"
	"trustpipe/pkg/middleware"
	"trustpipe/pkg/ratelimit"
	"trustpipe/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	mongoClient *mongo.Client
	redisClient *redis.Client
	db          *sql.DB

	registry  *templates.Registry
	validator *startupcheck.Validator
	handler   *pipeline.Handler

	tracerProvider *tracing.TracerProvider
	server         *http.Server
	router         *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("notify-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := config.ValidateStatic(a.Config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker("notify-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     a.Config.Tracing.Enabled,
		ServiceName: a.Config.Tracing.ServiceName,
		Endpoint:    a.Config.Tracing.Endpoint,
		Insecure:    a.Config.Tracing.Insecure,
	}, "notify-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterPipelineMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterHTTPMetrics()

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.db != nil {
		if err := audit.RunMigrations(a.db); err != nil {
			return fmt.Errorf("failed to migrate audit schema: %w", err)
		}
	}

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	mongoDB := a.mongoClient.Database(dbName)

	leases := verification.NewMongoLeaseStore(mongoDB)
	accounts := verification.NewMongoAccountStore(mongoDB)
	policy := verification.NewAddressPolicy(
		a.Config.Verification.AllowedDomainSuffixes,
		a.Config.Verification.DeniedDomains,
	)

	var auditSink verification.AuditSink
	if a.db != nil {
		auditSink = audit.NewStore(a.db, a.Logger)
	} else {
		initCtx := logging.WithServiceName(ctx, "notify-service")
		a.Logger.WarnwCtx(initCtx, "PostgreSQL not configured, audit trail degrades to structured logs")
		auditSink = audit.NewLogSink(a.Logger)
	}

	verifier := verification.NewVerifier(leases, accounts, policy, auditSink, a.Logger)

	portal := templates.NewPortalLinkBuilder(a.Config.Portal, a.Logger)
	registry, err := templates.NewRegistry(a.Config.Templates, portal, a.Logger)
	if err != nil {
		return err
	}
	a.registry = registry

	provider := templateapi.NewClient(a.Config.Templates.Provider, a.Logger)

	warnThreshold := a.Config.Templates.ExtraFieldWarnThreshold
	if warnThreshold <= 0 {
		warnThreshold = constants.DefaultExtraFieldWarnThreshold
	}
	a.validator = startupcheck.NewValidator(registry, provider, warnThreshold, a.Logger)

	suppressor, err := suppression.NewService(a.Config.Suppression, a.Logger)
	if err != nil {
		return err
	}

	var deduper *pipeline.Deduper
	if a.redisClient != nil {
		deduper = pipeline.NewDeduper(
			pipeline.NewRedisDedupStore(a.redisClient),
			a.Config.Verification.DedupTTLSeconds,
			a.Logger,
		)
	} else {
		initCtx := logging.WithServiceName(ctx, "notify-service")
		a.Logger.WarnwCtx(initCtx, "Redis not configured, event deduplication disabled")
	}

	outputTopic := a.Config.Broker.Kafka.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}
	dispatcher := pipeline.NewKafkaDispatcher(a.Producer, outputTopic, a.Logger)

	a.handler = pipeline.NewHandler(deduper, suppressor, verifier, registry, dispatcher, a.Logger)
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("notify-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(rateLimitConfig))
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	// Readiness is gated on the template validation verdict: a process
	// whose contracts no longer match the live templates must not take
	// traffic.
	router.GET("/readyz", func(c *gin.Context) {
		state := a.validator.State()
		statusCode := http.StatusOK
		if state != startupcheck.StateValidated {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, gin.H{"state": state.String()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/contracts", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"contracts": a.registry.Contracts()})
	})
	v1.GET("/validation", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":   a.validator.State().String(),
			"results": a.validator.Results(),
		})
	})

	a.router = router
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runCtx := logging.WithServiceName(gCtx, "notify-service")

		// Validation runs before a single event is consumed. On failure
		// the process stays up, unready, so operators can read the
		// verdict from /v1/validation instead of a crash loop.
		if err := a.validator.ValidateAll(runCtx); err != nil {
			a.Logger.ErrorwCtx(runCtx, "Template validation failed, consumer will not start",
				"error", err,
			)
			<-gCtx.Done()
			return nil
		}

		inputTopic := a.Config.Broker.Kafka.InputTopic
		if inputTopic == "" {
			inputTopic = constants.DefaultInputTopic
		}
		return a.Consumer.Consume(gCtx, inputTopic, a.handler.Handle)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "notify-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down notification service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
