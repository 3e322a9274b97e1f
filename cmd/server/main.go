// Command server runs the appointment notifier: the booking-system webhook
// ingress, the reconciliation engine and the reminder scheduler in one
// process.
//
// @title        Appointment Notifier API
// @version      1.0
// @description  Booking-system webhook ingress, contact bindings and scheduler inspection.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/appointment-notifier/docs"
	"github.com/tbourn/appointment-notifier/internal/booking"
	"github.com/tbourn/appointment-notifier/internal/config"
	httpapi "github.com/tbourn/appointment-notifier/internal/http"
	"github.com/tbourn/appointment-notifier/internal/keylock"
	"github.com/tbourn/appointment-notifier/internal/normalize"
	"github.com/tbourn/appointment-notifier/internal/notify"
	"github.com/tbourn/appointment-notifier/internal/observability"
	"github.com/tbourn/appointment-notifier/internal/repo"
	"github.com/tbourn/appointment-notifier/internal/services"
	"github.com/tbourn/appointment-notifier/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger("info", false, "", os.Stderr)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	log.Info().Str("version", ver).Str("db_driver", cfg.DBDriver).Str("lock_backend", cfg.Lock.Backend).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	locks, closeLocks := buildLocker(ctx, cfg.Lock)
	defer closeLocks()

	notifier := buildNotifier(cfg.Telegram, cfg.Scheduler.DispatchTimeout)

	var overrides map[string]string
	if cfg.Scheduler.TemplatesPath != "" {
		overrides, err = services.LoadTemplateFile(cfg.Scheduler.TemplatesPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Scheduler.TemplatesPath).Msg("load templates")
		}
		log.Info().Int("templates", len(overrides)).Msg("template overrides loaded")
	}
	renderer := services.NewRenderer(cfg.Scheduler.Location, overrides)

	operator := &services.OperatorSink{
		Notifier:  notifier,
		ChannelID: cfg.Telegram.AdminChatID,
		Timeout:   cfg.Scheduler.DispatchTimeout,
	}
	if cfg.Telegram.AdminChatID == "" {
		log.Warn().Msg("ADMIN_CHAT_ID not set; escalations are logged only")
	}

	reconciler := &services.Reconciler{
		DB:               db,
		Locks:            locks,
		Normalizer:       normalize.Normalizer{Location: cfg.Scheduler.Location},
		Directory:        &services.Directory{DB: db},
		Planner:          &services.Planner{Leads: cfg.Scheduler.Leads, Grace: cfg.Scheduler.Grace, Renderer: renderer},
		Renderer:         renderer,
		Notifier:         notifier,
		Operator:         operator,
		DefaultCompanyID: cfg.Booking.CompanyID,
		DispatchTimeout:  cfg.Scheduler.DispatchTimeout,
	}
	if cfg.Booking.PartnerToken != "" {
		reconciler.Fetcher = booking.NewClient(booking.Config{
			BaseURL:      cfg.Booking.APIBase,
			PartnerToken: cfg.Booking.PartnerToken,
			UserToken:    cfg.Booking.UserToken,
			Login:        cfg.Booking.Login,
			Password:     cfg.Booking.Password,
			Timeout:      cfg.Scheduler.DispatchTimeout,
		})
	} else {
		log.Warn().Msg("YCLIENTS_PARTNER_TOKEN not set; incomplete events cannot be enriched")
	}

	scheduler := &services.Scheduler{
		DB:              db,
		Locks:           locks,
		Notifier:        notifier,
		Interval:        cfg.Scheduler.Interval,
		CleanupHorizon:  cfg.Scheduler.CleanupHorizon,
		DispatchTimeout: cfg.Scheduler.DispatchTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Run(ctx)
	}()

	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	r := gin.New()
	httpapi.RegisterRoutes(r, db, reconciler, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// The scheduler finishes its current tick before returning.
	wg.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("bye")
}

// buildLocker returns the per-appointment lock table and a cleanup func.
func buildLocker(ctx context.Context, cfg config.LockConfig) (keylock.Locker, func()) {
	if cfg.Backend != "redis" {
		return keylock.NewMemory(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis lock backend ready")
	return keylock.NewRedis(rdb, cfg.TTL, "notifier:lock:"), func() { _ = rdb.Close() }
}

// buildNotifier picks the Telegram transport, or the log transport when no
// bot token is configured.
func buildNotifier(cfg config.TelegramConfig, timeout time.Duration) services.Notifier {
	if cfg.Token == "" {
		log.Warn().Msg("TELEGRAM_TOKEN not set; notices are written to the log")
		return notify.Log{}
	}
	return notify.NewTelegram(cfg.APIBase, cfg.Token, timeout)
}
