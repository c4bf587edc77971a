package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "arenalive-backend/internal/database"
	roomHandler "arenalive-backend/internal/handler/http/room"
	wsHandler "arenalive-backend/internal/handler/ws"
	"arenalive-backend/internal/middleware"
	"arenalive-backend/internal/presence"
	cassandraRepo "arenalive-backend/internal/repository/cassandra"
	"arenalive-backend/internal/repository/cockroach"
	redisRepo "arenalive-backend/internal/repository/redis"
	callService "arenalive-backend/internal/service/call"
	liveService "arenalive-backend/internal/service/live"
	"arenalive-backend/internal/store"
	"arenalive-backend/pkg/constants"
	pkgDatabase "arenalive-backend/pkg/database"
	"arenalive-backend/pkg/env"
	"arenalive-backend/pkg/jwt"
	"arenalive-backend/pkg/logger"
	"arenalive-backend/pkg/metrics"
)

func main() {
	// Create context for database operations
	ctx := context.Background()

	// 1. Initialize structured logging
	if err := logger.Init(&logger.Config{
		Level:  env.GetString("LOG_LEVEL", "info"),
		Format: env.GetString("LOG_FORMAT", "json"),
		Output: "stdout",
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute)

	// 3. Connect to CockroachDB for terminal session records with retry logic
	dbConfig := &pkgDatabase.CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 26257),
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "arenalive"),
		SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
	}

	var db *pkgDatabase.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
	if err != nil {
		// Retry with exponential backoff
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt, err, delay)
			time.Sleep(delay)

			db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
			if err == nil {
				break
			}
		}
	}

	var callLogRepo *cockroach.CallLogRepository
	var liveSessionRepo *cockroach.LiveSessionRepository
	if err != nil {
		log.Printf("Warning: Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
		log.Println("Running in limited mode without session persistence")
	} else {
		defer db.Close()
		callLogRepo = cockroach.NewCallLogRepository(db.Pool)
		liveSessionRepo = cockroach.NewLiveSessionRepository(db.Pool)
		log.Println("✅ Connected to CockroachDB")
	}

	// 4. Initialize Redis with degraded mode support
	intDatabase.InitRedisMetrics()

	redisConfig := &intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to initialize Redis client: %v", err)
	}
	defer redisDB.Close()
	log.Println("✅ Connected to Redis")

	// Start background Redis health check
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	directoryRepo := redisRepo.NewDirectoryRepository(redisDB)
	authzRepo := redisRepo.NewAuthorizationRepository(redisDB)

	// 5. Connect to Cassandra for the reaction archive (optional)
	var reactionRepo *cassandraRepo.ReactionRepository
	cassandraDB, err := pkgDatabase.NewCassandraDBFromEnv()
	if err != nil {
		log.Printf("Warning: Failed to connect to Cassandra: %v", err)
		log.Println("Running without reaction archive")
	} else {
		defer cassandraDB.Close()
		reactionRepo = cassandraRepo.NewReactionRepository(cassandraDB.Session)
		log.Println("✅ Connected to Cassandra")
	}

	// 6. Initialize session store, presence registry, and engines
	sessionStore := store.NewSessionStore()
	registry := presence.NewRegistry()

	callSvc := callService.NewService(sessionStore, registry, callWriterOrNil(callLogRepo), directoryRepo)
	liveSvc := liveService.NewService(sessionStore, registry, summaryWriterOrNil(liveSessionRepo), archiverOrNil(reactionRepo), authzRepo, directoryRepo)

	// Presence changes drive the disconnect grace machinery in both engines
	registry.OnDrop(callSvc.HandleDisconnect)
	registry.OnDrop(liveSvc.HandleDisconnect)
	registry.OnReconnect(callSvc.HandleReconnect)
	registry.OnReconnect(liveSvc.HandleReconnect)

	// 7. Initialize Metrics
	appMetrics := metrics.NewMetrics("rtc-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 8. Initialize Handlers
	roomHdlr := roomHandler.NewHandler(liveSvc)
	hub := wsHandler.NewHub(registry, callSvc, liveSvc, presenceRepo, appMetrics)

	// 9. Setup Gin Router
	router := gin.New() // Don't use Default() to have full control

	trustedProxies := []string{}
	if os.Getenv("ENV") != "production" {
		trustedProxies = []string{"127.0.0.1"}
	}
	router.SetTrustedProxies(trustedProxies)

	// Apply global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		// Cluster-wide online count from the Redis mirror; best-effort,
		// reported as 0 when Redis is degraded
		onlineUsers, _ := presenceRepo.GetOnlineCount(c.Request.Context())
		c.JSON(200, gin.H{
			"status":       "healthy",
			"service":      "rtc-service",
			"connections":  registry.Count(),
			"online_users": onlineUsers,
			"time":         time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler())

	// Revocation checker
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)

	// Session routes (all require authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		// WebSocket endpoint for calls and live rooms
		v1.GET("/ws/session", hub.ServeWS)

		// Read-only room discovery
		v1.GET("/rooms", roomHdlr.ListRooms)
		v1.GET("/rooms/:id", roomHdlr.GetRoom)
	}

	// 10. Start server in goroutine
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 RTC Service starting on port %s\n", port)
		log.Println("📡 Session WebSocket: /v1/ws/session")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 11. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// End every in-memory session so terminal records still get written
	callSvc.Shutdown()
	liveSvc.Shutdown()

	log.Println("Server exited")
}

// Typed-nil guards: a nil concrete repository must become a nil
// interface inside the engines, not a non-nil interface wrapping nil.

func callWriterOrNil(repo *cockroach.CallLogRepository) callService.CallLogWriter {
	if repo == nil {
		return nil
	}
	return repo
}

func summaryWriterOrNil(repo *cockroach.LiveSessionRepository) liveService.SummaryWriter {
	if repo == nil {
		return nil
	}
	return repo
}

func archiverOrNil(repo *cassandraRepo.ReactionRepository) liveService.ReactionArchiver {
	if repo == nil {
		return nil
	}
	return repo
}
