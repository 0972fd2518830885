package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"carelink-backend/internal/database"
	chatHandler "carelink-backend/internal/handler/http/chat"
	conversationHandler "carelink-backend/internal/handler/http/conversation"
	sessionHandler "carelink-backend/internal/handler/http/session"
	userHandler "carelink-backend/internal/handler/http/user"
	wsHandler "carelink-backend/internal/handler/ws"
	"carelink-backend/internal/middleware"
	cassandraRepo "carelink-backend/internal/repository/cassandra"
	cockroachRepo "carelink-backend/internal/repository/cockroach"
	redisRepo "carelink-backend/internal/repository/redis"
	"carelink-backend/internal/signaling"
	alertService "carelink-backend/internal/service/alert"
	chatService "carelink-backend/internal/service/chat"
	sessionService "carelink-backend/internal/service/session"
	storageService "carelink-backend/internal/service/storage"
	"carelink-backend/pkg/env"
	"carelink-backend/pkg/jwt"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/push"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()
	log := logger.Named("call-service")

	// 1. JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(jwtSecret, env.GetDuration("JWT_TOKEN_DURATION", 15*time.Minute))

	ctx := context.Background()

	// 2. CockroachDB (conversations, users, call sessions, signal archive)
	cockroachDB, err := database.NewCockroachDB(ctx, &database.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "carelink_db"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
		MaxConns: env.GetInt("COCKROACH_MAX_CONNS", 20),
	})
	if err != nil {
		log.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	log.Info("connected to CockroachDB")

	// 3. Cassandra (message history)
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "carelink_ks"),
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
	})
	if err != nil {
		log.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	log.Info("connected to Cassandra")

	// 4. Redis (signal transport, chat fan-out, push tokens)
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       env.GetInt("REDIS_DB", 0),
		PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:  5 * time.Second,
	})
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	log.Info("connected to Redis")

	// 5. MinIO (attachments)
	storageSvc, err := storageService.NewService(ctx, &storageService.Config{
		Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    env.GetString("MINIO_BUCKET", "carelink-attachments"),
		UseSSL:    env.GetBool("MINIO_USE_SSL", false),
	})
	if err != nil {
		log.Fatal("failed to connect to MinIO", zap.Error(err))
	}
	log.Info("connected to MinIO")

	// 6. Push provider (FCM, APNs, or mock per PUSH_PROVIDER)
	pushProvider, err := push.NewProvider()
	if err != nil {
		log.Fatal("failed to initialize push provider", zap.Error(err))
	}

	// 7. Repositories
	conversationRepo := cockroachRepo.NewConversationRepository(cockroachDB.Pool)
	userRepo := cockroachRepo.NewUserRepository(cockroachDB.Pool)
	sessionRepo := cockroachRepo.NewCallSessionRepository(cockroachDB.Pool)
	signalRepo := cockroachRepo.NewCallSignalRepository(cockroachDB.Pool)
	messageRepo := cassandraRepo.NewMessageRepository(cassandraDB.Session)
	tokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// 8. Services
	chatSvc := chatService.NewService(messageRepo, redisDB.Client)
	sessionSvc := sessionService.NewService(sessionRepo, conversationRepo, signalRepo)
	alertSvc := alertService.NewService(tokenRepo, conversationRepo, pushProvider)

	// 9. Signal channel and WebSocket hub
	channel := signaling.NewChannel(redisDB.Client, signalRepo)
	hub := wsHandler.NewHub(channel, alertSvc, env.GetInt("WS_MAX_CONNECTIONS", 1000))

	// 10. Handlers
	sessionHdlr := sessionHandler.NewHandler(sessionSvc)
	conversationHdlr := conversationHandler.NewHandler(conversationRepo)
	chatHdlr := chatHandler.NewHandler(chatSvc, storageSvc, conversationRepo, tokenRepo)
	userHdlr := userHandler.NewHandler(userRepo)

	// 11. Router
	gin.SetMode(env.GetString("GIN_MODE", gin.ReleaseMode))
	router := gin.New()
	_ = router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Prometheus())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(jwtManager))
	{
		userHdlr.RegisterRoutes(v1)
		conversationHdlr.RegisterRoutes(v1)
		sessionHdlr.RegisterRoutes(v1)
		chatHdlr.RegisterRoutes(v1)
		v1.GET("/ws/signal", hub.ServeWS)
	}

	// 12. Serve with graceful shutdown
	port := env.GetString("PORT", "8080")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("call service listening", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
}
