package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"ochsettings/internal/config"
	"ochsettings/internal/db"
	"ochsettings/internal/handlers"
	"ochsettings/internal/logging"
	mw "ochsettings/internal/middleware"
	"ochsettings/internal/realtime"
	"ochsettings/internal/repository"
	"ochsettings/internal/settings"
	"ochsettings/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.CoordinationSecretGenerated {
		logger.Info("COORDINATION_SECRET not set; coordination endpoint only accepts this instance")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dbConn *sqlx.DB
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; API will run but DB is unavailable")
	} else {
		dbConn, err = sqlx.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open db", zap.Error(err))
		}
		dbConn.SetMaxOpenConns(10)
		dbConn.SetConnMaxLifetime(2 * time.Hour)
		if err = dbConn.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping db", zap.Error(err))
		}
		if err := db.RunMigrations(ctx, dbConn); err != nil {
			logger.Fatal("failed migrations", zap.Error(err))
		}
		defer dbConn.Close()
	}

	var bus realtime.Bus
	if cfg.RedisAddr != "" {
		rb, err := realtime.NewRedisBus(ctx, cfg.RedisAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		bus = rb
	} else {
		logger.Info("REDIS_ADDR not set; broadcasts stay in-process")
		bus = realtime.NewLocalBus(logger)
	}
	defer bus.Close()

	var feed realtime.ChangeFeed
	if cfg.DatabaseURL != "" {
		pg := realtime.NewPGChangeFeed(cfg.DatabaseURL,
			[]string{db.SettingsChangesChannel, db.SubscriptionChangesChannel}, logger)
		go pg.Run(ctx)
		feed = pg
	} else {
		feed = realtime.NewHub(logger)
	}

	svc := settings.NewService(repository.NewSettingsRepo(dbConn), logger)
	propagator := realtime.NewPropagator(feed, bus, svc, logger)
	dispatcher := trigger.NewDispatcher(cfg.CoordinationURL, cfg.CoordinationSecret, nil, svc, bus, logger)

	settingsHandler := handlers.NewSettingsHandler(svc, dispatcher, logger)
	coordinateHandler := handlers.NewCoordinateHandler(svc, cfg.CoordinationSecret, logger)
	streamHandler := handlers.NewStreamHandler(propagator, cfg.AllowedOrigins, logger)
	adminHandler := handlers.NewAdminHandler(repository.NewAdminRepo(dbConn), logger)
	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mw.ZapRequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", trigger.SecretHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", handlers.Health)
		api.Post("/settings/coordinate", coordinateHandler.Coordinate)
		api.Group(func(pr chi.Router) {
			pr.Use(authMW.RequireAuth)
			pr.Get("/settings", settingsHandler.Get)
			pr.Patch("/settings", settingsHandler.Update)
			pr.Get("/settings/entitlements", settingsHandler.Entitlements)
			pr.Get("/settings/completeness", settingsHandler.Completeness)
			pr.Get("/settings/features", settingsHandler.Features)
			pr.Get("/settings/features/{feature}", settingsHandler.Feature)
			pr.Get("/settings/recommendations", settingsHandler.Recommendations)
			pr.Get("/settings/stream", streamHandler.Stream)
			pr.With(mw.RequireAdmin).Get("/admin/settings/overview", adminHandler.Overview)
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("server stopped")
}
