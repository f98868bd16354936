package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenwars/internal/automation"
	"tokenwars/internal/client/jupiter"
	"tokenwars/internal/competition"
	"tokenwars/internal/config"
	cronrunner "tokenwars/internal/cron"
	"tokenwars/internal/db"
	"tokenwars/internal/handler"
	"tokenwars/internal/logger"
	"tokenwars/internal/notify"
	"tokenwars/internal/pricefeed"
	"tokenwars/internal/repository"
	gormrepository "tokenwars/internal/repository/gorm"
	"tokenwars/internal/scheduler"
	"tokenwars/internal/service"
)

func main() {
	cfgPath := os.Getenv("TW_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TW_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// A dead database never blocks startup: the engine comes up degraded
	// (health endpoints only, no recovery, automation off) so operators can
	// see what is wrong.
	degraded := false
	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Error("db open failed, starting degraded", zap.Error(err))
		degraded = true
		dbConn = nil
	}
	defer db.Close(dbConn)

	if !degraded && !db.WaitReady(dbConn, cfg.DB.ReadyTimeout) {
		logger.Error("db not ready within timeout, starting degraded",
			zap.Duration("timeout", cfg.DB.ReadyTimeout))
		degraded = true
	}

	var store repository.Repository
	if !degraded {
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		store = gormrepository.New(dbConn.Gorm)
	}

	settingsSvc := &service.SystemSettingsService{Repo: store}
	if !degraded {
		if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
			logger.Warn("init default system switches failed", zap.Error(err))
		}
	}

	hub := notify.NewHub()
	sched := scheduler.NewWallClock()

	feedHTTP := &http.Client{Timeout: cfg.PriceFeed.Timeout}
	feedClient := jupiter.NewClient(feedHTTP, cfg.PriceFeed.BaseURL)

	payoutSvc := &service.PayoutService{Repo: store, Logger: logger}

	manager := &competition.Manager{
		Repo:    store,
		Sched:   sched,
		Settler: payoutSvc,
		Hub:     hub,
		Logger:  logger,
		Config: competition.Config{
			StartDelay:       cfg.Competition.StartDelay,
			VotingDuration:   cfg.Competition.VotingDuration,
			ActiveDuration:   cfg.Competition.ActiveDuration,
			ResolutionWindow: cfg.Competition.ResolutionWindow,
			RetryInterval:    cfg.Competition.RetryInterval,
			BetAmount:        decimal.NewFromFloat(cfg.Platform.BetAmountSOL),
			PlatformFeeBps:   cfg.Platform.PlatformFeeBps,
		},
	}

	var stream *pricefeed.Stream
	if cfg.PriceStream.URL != "" {
		stream = pricefeed.NewStream(pricefeed.StreamOptions{
			URL: cfg.PriceStream.URL,
			MintProvider: func(context.Context) ([]string, error) {
				return manager.TrackedAddresses(), nil
			},
			RefreshInterval: cfg.PriceStream.RefreshInterval,
			Logger:          logger,
		})
	}

	sampler := &pricefeed.Sampler{
		Source:             &pricefeed.RESTSource{Client: feedClient},
		Stream:             stream,
		Repo:               store,
		Logger:             logger,
		ActiveInterval:     cfg.Sampler.ActiveInterval,
		BackgroundInterval: cfg.Sampler.BackgroundInterval,
		Retention:          cfg.Sampler.Retention,
	}
	manager.Tracker = sampler

	betSvc := &service.BetService{Repo: store, Hub: hub, Logger: logger}

	autoPolicy := &automation.Policy{
		Repo:     store,
		Manager:  manager,
		Switches: settingsSvc,
		Hub:      hub,
		Sched:    sched,
		Logger:   logger,
		Config: automation.Config{
			Enabled:            cfg.Automation.Enabled && !degraded,
			MaxConcurrent:      cfg.Automation.MaxConcurrentCompetitions,
			AutoCreateInterval: cfg.Automation.AutoCreateInterval,
			MaxFailures:        cfg.Automation.MaxFailures,
			PairCooldown:       cfg.Automation.PairCooldown,
		},
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{}
	if dbConn != nil {
		healthHandler.DB = dbConn.Gorm
	}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)

	competitionHandler := &handler.CompetitionHandler{Repo: store, Manager: manager, Logger: logger}
	competitionHandler.Register(engine)
	betHandler := &handler.BetHandler{Repo: store, Bets: betSvc, Flags: settingsSvc}
	betHandler.Register(engine)
	pairHandler := &handler.TokenPairHandler{Repo: store}
	pairHandler.Register(engine)
	sampleHandler := &handler.PriceSampleHandler{Repo: store, Sampler: sampler}
	sampleHandler.Register(engine)
	automationHandler := &handler.AutomationHandler{Policy: autoPolicy}
	automationHandler.Register(engine)

	eventStream := handler.NewEventStream(hub, logger)
	eventStream.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := eventStream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("event stream stopped", zap.Error(err))
		}
	}()

	if !degraded {
		autoPolicy.Init(ctx)

		if err := manager.LoadAndRecover(ctx); err != nil {
			logger.Error("competition recovery failed", zap.Error(err))
		}

		if settingsSvc.IsEnabled(ctx, service.FeatureSampler, true) {
			go func() {
				if err := sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("price sampler stopped", zap.Error(err))
				}
			}()
		}

		if stream != nil && settingsSvc.IsEnabled(ctx, service.FeaturePriceStream, true) {
			go func() {
				if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("price stream stopped", zap.Error(err))
				}
			}()
		}

		cronRunner := cronrunner.New(logger, ctx)

		tickSpec := "@every " + cfg.Automation.TickInterval.String()
		if _, err := cronRunner.Add(tickSpec, func(ctx context.Context) {
			autoPolicy.Tick(ctx)
		}); err != nil {
			logger.Warn("cron register automation tick failed", zap.Error(err))
		}

		pruneSpec := "@every " + cfg.Sampler.PruneInterval.String()
		if _, err := cronRunner.Add(pruneSpec, func(ctx context.Context) {
			if _, err := sampler.Prune(ctx); err != nil {
				logger.Warn("price sample prune failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register sample prune failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		alerter, err := notify.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("telegram alerter init failed", zap.Error(err))
		} else {
			go func() {
				if err := alerter.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("telegram alerter stopped", zap.Error(err))
				}
			}()
		}
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting",
			zap.String("addr", cfg.Server.HTTPAddr),
			zap.Bool("degraded", degraded),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
