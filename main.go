package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay-service/internal/backend"
	"relay-service/internal/badge"
	"relay-service/internal/bus"
	"relay-service/internal/config"
	"relay-service/internal/connectivity"
	"relay-service/internal/db"
	"relay-service/internal/handlers"
	"relay-service/internal/middleware"
	"relay-service/internal/observability"
	"relay-service/internal/outbox"
	"relay-service/internal/profiles"
	"relay-service/internal/rabbitmq"
	"relay-service/internal/repositories"
	"relay-service/internal/telemetry"
	"relay-service/internal/ws"
)

const serviceName = "relay-service"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer shutdownTracing(context.Background())

	store, err := db.Connect(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer store.Close()

	client, err := backend.NewRESTClient(cfg.BackendURL, cfg.BackendKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure backend client")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Msg("event publisher ready")

	if eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	emitter := telemetry.NewAuditEmitter(publisher, "audit.relay", serviceName, cfg.Environment)

	outboxRepo := repositories.NewOutboxRepo(store)
	badgeRepo := repositories.NewBadgeRepo(store)
	profileRepo := repositories.NewProfileRepo(store)

	eventBus := bus.New()
	monitor := connectivity.NewMonitor(client, eventBus, cfg.ProbeInterval)
	hub := ws.NewHub()
	profileSvc := profiles.NewService(profileRepo, client, 24*time.Hour)

	outboxCfg := outbox.DefaultConfig()
	outboxCfg.MaxAttempts = cfg.MaxAttempts
	outboxCfg.DrainInterval = cfg.DrainInterval
	outboxSvc := outbox.NewService(outboxRepo, client, hub, monitor, eventBus, profileSvc, emitter, cfg.UserID, outboxCfg)

	reconciler := badge.NewReconciler(client, badgeRepo, cfg.UserID, cfg.PollInterval,
		badge.HubSink{Hub: hub},
		badge.EventSink{RoutingKey: "badge.updated"},
		badge.MetricsSink{},
		badge.LogSink{},
	)

	go monitor.Run(ctx)
	go outboxSvc.Run(ctx)
	go reconciler.Run(ctx)

	// Realtime inserts for this user shortcut the poll interval.
	realtime := backend.NewRealtimeClient(cfg.BackendURL, cfg.BackendKey)
	defer realtime.Close()
	unsubscribe, err := realtime.Subscribe(ctx, "messages", "INSERT", "recipient_id=eq."+cfg.UserID, func(backend.ChangeEvent) {
		reconciler.Refresh(ctx)
	})
	if err != nil {
		log.Warn().Err(err).Msg("realtime subscription unavailable, relying on polling")
	} else {
		defer unsubscribe()
	}

	outboxHandler := handlers.NewOutboxHandler(outboxSvc)
	badgeHandler := handlers.NewBadgeHandler(reconciler)
	connHandler := handlers.NewConnectivityHandler(monitor)
	profileHandler := handlers.NewProfileHandler(profileSvc)
	surfaceWS := ws.NewSurfaceHandler(hub, client, reconciler.Current)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(client)

	router.POST("/messages", authMiddleware, outboxHandler.SendMessage)
	router.GET("/outbox", authMiddleware, outboxHandler.ListOutbox)
	router.POST("/outbox/drain", authMiddleware, outboxHandler.Drain)
	router.DELETE("/outbox", authMiddleware, outboxHandler.ClearOutbox)
	router.GET("/outbox/dead", authMiddleware, outboxHandler.ListDead)
	router.POST("/outbox/dead/:id/requeue", authMiddleware, outboxHandler.RequeueDead)

	router.GET("/badge", authMiddleware, badgeHandler.GetBadge)
	router.POST("/badge/refresh", authMiddleware, badgeHandler.RefreshBadge)
	router.POST("/badge/clear", authMiddleware, badgeHandler.ClearBadge)

	router.GET("/connectivity", authMiddleware, connHandler.GetStatus)
	router.POST("/connectivity/override", authMiddleware, connHandler.SetOverride)

	router.GET("/profiles/:user_id", authMiddleware, profileHandler.GetProfile)

	router.GET("/ws", surfaceWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, emitter, cfg.Debug)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("relay service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
