package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"hive-chat/internal/client"
	"hive-chat/internal/config"
	"hive-chat/internal/db"
	"hive-chat/internal/events"
	grpcserver "hive-chat/internal/grpc"
	"hive-chat/internal/handlers"
	"hive-chat/internal/identity"
	"hive-chat/internal/logger"
	"hive-chat/internal/middleware"
	"hive-chat/internal/observability"
	"hive-chat/internal/presence"
	"hive-chat/internal/rabbitmq"
	"hive-chat/internal/repositories"
	"hive-chat/internal/services"
	"hive-chat/internal/telemetry"
	"hive-chat/internal/ws"
)

type stores struct {
	profiles      repositories.ProfileRepository
	friendships   repositories.FriendshipRepository
	chats         repositories.ChatRepository
	messages      repositories.MessageRepository
	notifications repositories.NotificationRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.Init(cfg.Log, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName, cfg.App.Env)
	if err != nil {
		zl.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	var database *sqlx.DB
	st := stores{}
	switch cfg.Storage.Backend {
	case "postgres":
		database, err = db.Connect(ctx, cfg.Storage.PostgresDSN, zl)
		if err != nil {
			zl.Fatal("failed to connect to db", zap.Error(err))
		}
		defer database.Close()
		st = stores{
			profiles:      repositories.NewProfileRepo(database),
			friendships:   repositories.NewFriendshipRepo(database),
			chats:         repositories.NewChatRepo(database),
			messages:      repositories.NewMessageRepo(database),
			notifications: repositories.NewNotificationRepo(database),
		}
	default:
		mem := repositories.NewMemoryStore()
		st = stores{profiles: mem, friendships: mem, chats: mem, messages: mem, notifications: mem}
		zl.Info("using in-memory storage")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = db.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			zl.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, zl)
	observability.SetPublisher(publisher)
	zl.Info("event export", zap.String("mode", rabbitmq.PublisherMode(publisher)), zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRouteKey, cfg.App.Name, cfg.App.Env, zl)

	broker := events.NewBroker(256, zl)
	var relay *events.RedisRelay
	if redisClient != nil {
		relay = events.NewRedisRelay(redisClient, broker, cfg.Redis.EventsChannel, zl)
		relay.Start(ctx)
	}

	var presenceStore presence.Store = presence.NewMemoryStore()
	if redisClient != nil {
		presenceStore = presence.NewRedisStore(redisClient, cfg.Presence.TTL.Duration)
	}
	tracker := presence.NewTracker(presenceStore, broker, cfg.Presence.Refresh.Duration, zl)
	tracker.Start(ctx)

	clock := services.NewClock()
	notifications := services.NewNotificationDispatcher(st.notifications, broker, clock, cfg.Chat.NotificationWindow.Duration, zl)
	typing := services.NewTypingTracker(st.chats, broker, cfg.Chat.TypingTTL.Duration, zl)
	typing.Start(ctx)
	ledger := services.NewFriendshipLedger(st.profiles, st.friendships, notifications, broker, clock, zl)
	directory := services.NewChatDirectory(st.chats, broker, clock, zl)
	messages := services.NewMessageLog(st.chats, st.messages, notifications, typing, broker, clock, cfg.Chat.PageSize, cfg.Chat.MaxPageSize, zl)

	hub := ws.NewHub()
	sessionWS := ws.NewSessionWebSocketHandler(hub, client.Deps{
		Messages:      messages,
		Typing:        typing,
		Notifications: notifications,
		Broker:        broker,
		PageSize:      cfg.Chat.PageSize,
		TypingIdle:    cfg.Chat.TypingIdle.Duration,
	}, tracker, ledger, zl)

	friendHandler := handlers.NewFriendHandler(ledger, audit, cfg.Chat.SearchLimit, zl)
	chatHandler := handlers.NewChatHandler(directory, ledger, audit, zl)
	messageHandler := handlers.NewMessageHandler(messages, typing, zl)
	sessionHandler := handlers.NewSessionHandler(ledger, tracker, typing, notifications, audit, zl)

	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		logger.GinLogger(),
		logger.GinRecovery(true),
		cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
		otelgin.Middleware(cfg.App.Name),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	handlers.RegisterDebugRoutes(router, audit, cfg.App.DebugRoutes)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	limiter.Start()
	defer limiter.Stop()
	limit := middleware.RateLimit(limiter)

	authed := router.Group("/", middleware.AuthMiddleware(identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)))

	authed.POST("/session", sessionHandler.StartSession)
	authed.POST("/session/logout", sessionHandler.Logout)
	authed.GET("/presence/:uid", sessionHandler.Presence)
	authed.GET("/notifications", sessionHandler.PendingNotifications)
	authed.POST("/notifications/:notification_id/ack", sessionHandler.AcknowledgeNotification)

	authed.GET("/profiles/search", friendHandler.SearchProfiles)
	authed.GET("/profiles/:uid", friendHandler.GetProfile)
	authed.GET("/friends", friendHandler.ListFriends)
	authed.GET("/friends/invitations", friendHandler.Invitations)
	authed.POST("/friends/requests", limit, friendHandler.SendRequest)
	authed.POST("/friends/requests/:friendship_id", friendHandler.Respond)

	authed.GET("/chats", chatHandler.ListChats)
	authed.GET("/chats/unread", chatHandler.TotalUnread)
	authed.POST("/chats/private", chatHandler.StartPrivateChat)
	authed.POST("/chats/group", limit, chatHandler.StartGroupChat)
	authed.GET("/chats/:chat_id", chatHandler.GetChat)
	authed.GET("/chats/:chat_id/messages", messageHandler.ListMessages)
	authed.POST("/chats/:chat_id/messages", limit, messageHandler.PostMessage)
	authed.POST("/chats/:chat_id/seen", messageHandler.MarkSeen)
	authed.POST("/chats/:chat_id/view", messageHandler.ViewChat)
	authed.POST("/chats/:chat_id/unread/reset", messageHandler.ResetUnread)
	authed.PUT("/chats/:chat_id/typing", limit, messageHandler.SetTyping)

	authed.GET("/ws", sessionWS.Handle)

	checks := map[string]grpcserver.Check{}
	if database != nil {
		checks["storage"] = func(ctx context.Context) error { return database.PingContext(ctx) }
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthServer := grpcserver.NewServer(checks, 10*time.Second, zl)
	lis, err := net.Listen("tcp", ":"+cfg.App.GRPCPort)
	if err != nil {
		zl.Fatal("failed to listen for grpc", zap.String("port", cfg.App.GRPCPort), zap.Error(err))
	}
	healthServer.Start(ctx)
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			zl.Error("grpc server stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.App.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("http server listening", zap.String("addr", srv.Addr), zap.String("grpc_port", cfg.App.GRPCPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked websocket conns are not tracked by http.Server.
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	healthServer.Stop()
	tracker.Stop(shutdownCtx)
	typing.Stop()
	if relay != nil {
		relay.Stop()
	}
	if err := publisher.Close(); err != nil {
		zl.Warn("publisher close", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zl.Warn("tracing shutdown", zap.Error(err))
	}
}
