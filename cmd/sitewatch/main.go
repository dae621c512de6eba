// Package main is the entry point for the thyme surveillance server: a
// scheduled scan/weekly pipeline plus the HTTP API that triggers and reads
// it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/sitewatch/internal/config"
	"github.com/jmylchreest/sitewatch/internal/crypto"
	"github.com/jmylchreest/sitewatch/internal/database"
	"github.com/jmylchreest/sitewatch/internal/database/migrations"
	"github.com/jmylchreest/sitewatch/internal/http/handlers"
	"github.com/jmylchreest/sitewatch/internal/http/mw"
	"github.com/jmylchreest/sitewatch/internal/http/routes"
	"github.com/jmylchreest/sitewatch/internal/logging"
	"github.com/jmylchreest/sitewatch/internal/repository"
	"github.com/jmylchreest/sitewatch/internal/scheduler"
	"github.com/jmylchreest/sitewatch/internal/service"
	"github.com/jmylchreest/sitewatch/internal/shutdown"
	"github.com/jmylchreest/sitewatch/internal/version"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting thyme",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	if schemaVersion, err := migrations.GetLatestVersion(db); err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := migrations.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db, logger)

	encryptor, err := crypto.NewEncryptor(crypto.DeriveKeyFromSecret(cfg.EncryptionKeySource))
	if err != nil {
		logger.Error("failed to initialize encryptor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// C1: token broker, shared by the analytics and search adapters.
	tokenBroker := service.NewTokenBroker(
		repos.Credentials, encryptor,
		cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURI,
		logger,
	)

	// C2: the five data source adapters.
	analyticsAdapter := service.NewAnalyticsAdapter(tokenBroker, cfg.AnalyticsPropertyID, logger)
	searchAdapter := service.NewSearchAdapter(tokenBroker, cfg.SearchIndexSiteURL, logger)
	performanceAdapter := service.NewPerformanceAdapter(cfg.PerfAPIKey, logger)
	cmsAdapter := service.NewCMSAdapter(cfg.CMSBaseURL, cfg.CMSAPIToken, logger)
	linkCheckAdapter := service.NewLinkCheckAdapter(cfg.BaseSiteOrigin, logger)

	sitemapReader := service.NewSitemapReader(logger)
	linkDiscoverer := service.NewLinkDiscoverer(logger)

	// C5: page inventory, reconciled from the CMS and the sitemap.
	pageInventory := service.NewPageInventory(repos.Pages, cmsAdapter, sitemapReader, cfg.BaseSiteOrigin, logger)

	// C6: meta auditor (stateless).
	metaAuditor := service.NewMetaAuditor()

	// C9 support: guardrails and the LLM client used by both orchestrators.
	guardrailEngine := service.NewGuardrailEngine(repos.Guardrails)
	llmClient := service.NewLLMClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)

	// C10: finding/recommendation writer.
	findingWriter := service.NewFindingWriter(repos.Findings, repos.DecisionQueue, repos.ChangeLog, repos.Notifications, repos.Signals)

	// C9: the bounded per-page investigation loop.
	agentLoop := service.NewAgentLoop(
		llmClient, repos.Findings, findingWriter, guardrailEngine,
		analyticsAdapter, searchAdapter, performanceAdapter, cmsAdapter,
		repos.Signals, logger,
	)

	// Optional object storage archive (C4 support); a no-op client when
	// STORAGE_BUCKET/AWS_ENDPOINT_URL_S3 aren't set.
	storageArchive, err := service.NewStorageArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage archive", "error", err)
		os.Exit(1)
	}

	// C8: the scheduled health scan.
	scanOrchestrator := service.NewScanOrchestrator(
		repos.Pages, repos.Snapshots, repos.Speed, repos.LinkHealth, repos.ChangeLog, repos.Signals,
		pageInventory, metaAuditor, analyticsAdapter, searchAdapter, performanceAdapter,
		linkCheckAdapter, sitemapReader, agentLoop,
		cfg.BaseSiteOrigin, logger,
	)

	// C11: the deeper weekly sweep.
	weeklyOrchestrator := service.NewWeeklyOrchestrator(
		repos.Pages, repos.ConversionAudits, repos.Trends, repos.WeeklyDigests,
		repos.LinkHealth, repos.ChangeLog, repos.Signals,
		metaAuditor, analyticsAdapter, searchAdapter, cmsAdapter, sitemapReader,
		linkDiscoverer, linkCheckAdapter, llmClient, storageArchive,
		cfg.BaseSiteOrigin, logger,
	)

	runGuard := shutdown.NewRunGuard(cfg.ShutdownGracePeriod, logger)

	if cfg.SchedulerEnabled {
		sched := scheduler.New(scanOrchestrator, weeklyOrchestrator, runGuard, logger)
		go sched.Run(ctx)
	} else {
		logger.Info("scheduler disabled, triggers available only via the protected trigger endpoints")
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:  15 * time.Second,
		Extended: 90 * time.Second,
	}))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(httprate.LimitByIP(100, time.Minute))
	router.Use(middleware.Throttle(50))

	handlerBundle := &routes.Handlers{
		Probe:   handlers.NewProbeHandler(db, runGuard),
		Trigger: handlers.NewTriggerHandler(scanOrchestrator, weeklyOrchestrator, runGuard, logger),
		Review:  handlers.NewReviewHandler(findingWriter),
		Read: handlers.NewReadHandler(
			repos.Pages, repos.Findings, repos.ChangeLog, repos.Trends, repos.ConversionAudits, repos.DecisionQueue,
		),
		BaseURL: cfg.BaseURL,
	}
	routes.Register(router, handlerBundle, cfg.TriggerSharedSecret)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutdown signal received, draining in-flight runs")
		cancel()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer drainCancel()
		runGuard.WaitForDrain(drainCtx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "scheduler_enabled", cfg.SchedulerEnabled)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
