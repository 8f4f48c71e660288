package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus_market/internal/config"
	"campus_market/internal/database"
	"campus_market/internal/handler"
	"campus_market/internal/middleware"
	"campus_market/internal/realtime"
	"campus_market/internal/repository"
	"campus_market/internal/service"
	"campus_market/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)

	dbPool, err := database.Connect(context.Background(), cfg.Database)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()
	appLogger.Info("Database connection established")

	if err := database.Migrate(cfg.Database.DSN, appLogger); err != nil {
		appLogger.Fatal("Failed to run migrations", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	repos := repository.NewRepositories(dbPool, rdb, appLogger)

	hub := realtime.NewHub(appLogger)

	services := service.NewServices(repos, cfg, hub, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT, repos.User, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(repos.RateLimit, cfg.Chat.APIRateLimit, cfg.Chat.APIRateWindow, appLogger)

	handlers := handler.NewHandlers(services, hub, authMiddleware, cfg, appLogger)

	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Check)

	// Uploaded chat images are served from local disk in this deployment.
	router.Static("/uploads", cfg.Upload.Dir)

	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		conversations := protected.Group("/conversations")
		{
			conversations.GET("", handlers.Conversation.List)
			conversations.POST("/listing/:listingId", handlers.Conversation.GetOrCreate)
			conversations.GET("/:id/messages", handlers.Conversation.GetMessages)
			conversations.POST("/:id/messages", rateLimitMiddleware.Limit(), handlers.Conversation.SendMessage)
		}

		globalChats := protected.Group("/global-chats")
		{
			globalChats.GET("", handlers.GlobalChat.ListChannels)
			globalChats.GET("/:id/messages", handlers.GlobalChat.GetMessages)
			globalChats.POST("/:id/messages", rateLimitMiddleware.Limit(), handlers.GlobalChat.SendMessage)
		}
	}

	// WebSocket endpoint for realtime message delivery.
	router.GET("/ws", handlers.WebSocket.Handle)

	return router
}
