package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/ea-license-service/internal/affiliate"
	"github.com/iliyamo/ea-license-service/internal/config"
	"github.com/iliyamo/ea-license-service/internal/database"
	"github.com/iliyamo/ea-license-service/internal/handler"
	"github.com/iliyamo/ea-license-service/internal/middleware"
	"github.com/iliyamo/ea-license-service/internal/queue"
	"github.com/iliyamo/ea-license-service/internal/repository"
	"github.com/iliyamo/ea-license-service/internal/router"
	"github.com/iliyamo/ea-license-service/internal/scheduler"
	"github.com/iliyamo/ea-license-service/internal/service"
	"github.com/iliyamo/ea-license-service/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional

	lg, err := utils.NewLogger(utils.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	log := lg.Sugar()

	cfg := config.Load()

	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatalw("database unavailable", "driver", cfg.DBDriver, "error", err)
	}
	defer db.Close()

	repo := repository.NewLicenseRepo(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Fatalw("schema bootstrap failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		log.Warnw("redis unavailable: rate limiting, stats cache and sync lock disabled", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	var events service.EventPublisher
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.AMQPURL, 256, log.Named("events"))
		go pub.Run(ctx)
		events = pub

		audit, err := queue.NewAuditLog(cfg.AuditLogDir)
		if err != nil {
			log.Fatalw("audit log unavailable", "dir", cfg.AuditLogDir, "error", err)
		}
		defer audit.Close()
		go queue.NewAuditConsumer(cfg.AMQPURL, audit, log.Named("audit")).Run(ctx)
	}

	partner := affiliate.NewClient(affiliate.Config{
		BaseURL:  cfg.ExnessBaseURL,
		Login:    cfg.ExnessLogin,
		Password: cfg.ExnessPassword,
		Timeout:  cfg.ExnessTimeout,
	}, log.Named("affiliate"))

	var locker service.Locker
	if rdb != nil {
		locker = service.NewRedisLocker(rdb)
	}
	activation := service.NewActivationService(repo, partner, events, log.Named("activation"))
	admin := service.NewAdminService(repo, events, log.Named("admin"))
	status := service.NewStatusService(repo)
	reconcile := service.NewReconcileService(repo, partner, events, locker, cfg.SyncTimeout, log.Named("sync"))

	if cfg.SyncScheduleEnabled {
		sched := scheduler.New(reconcile, scheduler.Config{HourUTC: cfg.SyncHourUTC, Timeout: cfg.SyncTimeout}, log.Named("scheduler"))
		if err := sched.Start(); err != nil {
			log.Fatalw("scheduler start failed", "error", err)
		}
		defer sched.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger(log.Named("http")))
	router.RegisterRoutes(e, router.Deps{
		Config:    cfg,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Redis:     rdb,
		DB:        db,
		License:   handler.NewLicenseHandler(activation, status, log.Named("http")),
		Admin:     handler.NewAdminHandler(admin, partner, log.Named("http")),
		Cron:      handler.NewCronHandler(reconcile, cfg.SyncTimeout, log.Named("http")),
		Log:       log.Named("http"),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Infow("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
}
