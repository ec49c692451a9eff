package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-sync/internal/auth"
	"chat-sync/internal/cache"
	"chat-sync/internal/chat"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/docstore"
	"chat-sync/internal/feed"
	"chat-sync/internal/grpcserver"
	"chat-sync/internal/handlers"
	"chat-sync/internal/identity"
	"chat-sync/internal/logger"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/push"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/storage"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/tracing"
	"chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("chat-sync stopped", zap.Error(err))
	}
}

// backend is one implementation of the store contracts.
type backend struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	projection    repositories.ProjectionRepository
	ping          func(context.Context) error
	close         func() error
}

func openBackend(ctx context.Context, cfg *config.Config, logg *zap.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case "firestore":
		store, err := docstore.New(ctx, cfg.FirestoreProjectID, cfg.GoogleCredentials)
		if err != nil {
			return nil, err
		}
		return &backend{
			users:         store,
			conversations: store,
			messages:      store,
			projection:    store,
			ping:          store.Ping,
			close:         store.Close,
		}, nil
	case "postgres", "":
		database, err := db.Connect(ctx, cfg.DBDSN, logg)
		if err != nil {
			return nil, err
		}
		return &backend{
			users:         repositories.NewUserRepo(database),
			conversations: repositories.NewConversationRepo(database),
			messages:      repositories.NewMessageRepo(database),
			projection:    repositories.NewProjectionRepo(database),
			ping:          database.PingContext,
			close:         database.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openCache(ctx context.Context, cfg *config.Config, logg *zap.Logger) cache.Cache {
	if cfg.RedisURL == "" {
		logg.Info("profile cache in memory")
		return cache.NewMemory()
	}
	redisCache, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logg.Warn("redis unavailable, profile cache in memory", zap.Error(err))
		return cache.NewMemory()
	}
	logg.Info("profile cache in redis")
	return redisCache
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-Device-Id"},
		ExposeHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || origins[0] == "*" {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint, logg)
	if err != nil {
		return err
	}

	store, err := openBackend(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.StoreBackend, err)
	}
	defer store.close()
	logg.Info("store ready", zap.String("backend", cfg.StoreBackend))

	profileCache := openCache(ctx, cfg, logg)
	defer profileCache.Close()
	resolver := identity.NewResolver(store.users, profileCache, cfg.ProfileTTL, logg)

	var fbApp *firebase.App
	if cfg.AuthMode == "firebase" || cfg.PushEnabled {
		fbApp, err = auth.NewFirebaseApp(ctx, cfg.FirestoreProjectID, cfg.GoogleCredentials)
		if err != nil {
			return err
		}
	}

	var verifier auth.Verifier
	switch cfg.AuthMode {
	case "firebase":
		verifier, err = auth.NewFirebaseVerifier(ctx, fbApp)
	default:
		verifier, err = auth.NewJWTVerifier(cfg.JWTSecret)
	}
	if err != nil {
		return fmt.Errorf("auth verifier: %w", err)
	}

	var notifier chat.Notifier = push.Noop{}
	if cfg.PushEnabled {
		fcm, err := push.NewFCMNotifier(ctx, fbApp)
		if err != nil {
			return err
		}
		notifier = fcm
	}

	var avatars handlers.AvatarUploader
	if cfg.AvatarBucket != "" {
		s3Client, err := storage.NewS3Client(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
		if err != nil {
			return err
		}
		avatars = storage.NewAvatarStore(s3Client, cfg.AvatarBucket, cfg.AWSRegion, cfg.AvatarBaseURL)
	}

	hub := feed.NewHub(feed.DefaultBuffer, logg)
	var changes feed.Publisher = feed.NewLocalPublisher(hub)
	if cfg.AMQPURL != "" {
		bus, err := rabbitmq.NewChangeBus(cfg.AMQPURL, cfg.EventsExchange, logg)
		if err != nil {
			return err
		}
		defer bus.Close()
		changes = bus
		go func() {
			if err := bus.Consume(ctx, hub); err != nil {
				logg.Error("change bus consumer stopped", zap.Error(err))
				stop()
			}
		}()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange, logg)
	defer auditPublisher.Close()
	mode, reason := rabbitmq.Describe(auditPublisher)
	logg.Info("audit publisher", zap.String("mode", mode), zap.String("reason", reason))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", cfg.ServiceName, cfg.Env, logg)

	wsPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.WSExchange, logg)
	defer wsPublisher.Close()
	observability.SetEventPublisher(wsPublisher)

	service := chat.NewService(chat.Deps{
		Conversations: store.conversations,
		Messages:      store.messages,
		Projection:    store.projection,
		Publisher:     changes,
		Audit:         audit,
		Notifier:      notifier,
		Log:           logg,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		cors.New(corsConfig(cfg.AllowedOrigins)),
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestID(),
		middleware.Logger(logg),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		if err := store.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userHandler := handlers.NewUserHandler(store.users, resolver, avatars, logg)
	conversationHandler := handlers.NewConversationHandler(service, resolver, logg)
	messageHandler := handlers.NewMessageHandler(service, logg)

	upgrader := ws.NewUpgrader(cfg.AllowedOrigins)
	conversationWS := ws.NewConversationHandler(service, hub, upgrader, logg)
	inboxWS := ws.NewInboxHandler(service, hub, upgrader, logg)

	sendLimit := middleware.SendRateLimit(cfg.SendRateLimit)
	api := router.Group("/", middleware.AuthMiddleware(verifier))
	api.GET("/users", userHandler.ListUsers)
	api.GET("/users/lookup", userHandler.LookupUser)
	api.GET("/users/me", userHandler.Me)
	api.PUT("/users/me", userHandler.UpdateMe)
	api.PUT("/users/me/avatar", userHandler.UploadAvatar)

	api.GET("/conversations", conversationHandler.ListConversations)
	api.POST("/conversations", sendLimit, conversationHandler.CreateConversation)
	api.GET("/conversations/find", conversationHandler.FindConversation)
	api.GET("/conversations/:conversation_id", conversationHandler.GetConversation)
	api.DELETE("/conversations/:conversation_id", conversationHandler.DeleteConversation)
	api.POST("/conversations/:conversation_id/latest/repair", conversationHandler.RepairLatest)

	api.GET("/conversations/:conversation_id/messages", messageHandler.ListMessages)
	api.GET("/conversations/:conversation_id/messages/last", messageHandler.LastMessage)
	api.POST("/conversations/:conversation_id/messages", sendLimit, messageHandler.PostMessage)
	api.POST("/conversations/:conversation_id/calls", sendLimit, messageHandler.StartCall)

	api.GET("/ws/conversations/:conversation_id", conversationWS.Handle)
	api.GET("/ws/inbox", inboxWS.Handle)

	handlers.RegisterDebugRoutes(api, audit, cfg.Debug)

	health := grpcserver.New(logg,
		grpcserver.Check{Name: "store", Probe: store.ping},
		grpcserver.Check{Name: "cache", Probe: profileCache.Ping},
	)
	go health.Watch(ctx, cfg.HealthInterval)

	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logg.Info("grpc health listening", zap.String("port", cfg.GRPCPort))
		if err := health.Serve(grpcLis); err != nil {
			logg.Error("grpc server error", zap.Error(err))
		}
	}()

	// Request contexts end when shutdown starts, so open sockets close with 1001
	// instead of outliving srv.Shutdown, which does not track hijacked conns.
	serveCtx, endRequests := context.WithCancel(context.Background())
	defer endRequests()
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return serveCtx },
	}
	srv.RegisterOnShutdown(endRequests)
	errCh := make(chan error, 1)
	go func() {
		logg.Info("http listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logg.Info("shutting down")
	case err := <-errCh:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Warn("http shutdown", zap.Error(err))
	}
	health.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Warn("tracer shutdown", zap.Error(err))
	}
	return nil
}
