package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/api"
	"github.com/moonhollow/werewolf-arena/internal/config"
	"github.com/moonhollow/werewolf-arena/internal/database"
	"github.com/moonhollow/werewolf-arena/internal/game"
	"github.com/moonhollow/werewolf-arena/internal/llm"
	"github.com/moonhollow/werewolf-arena/internal/middleware"
	"github.com/moonhollow/werewolf-arena/internal/store"
	"github.com/moonhollow/werewolf-arena/internal/ws"
)

func main() {
	// Load .env if present (env vars win in deployed environments).
	_ = godotenv.Load("../../.env")
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Server.GinMode == "release" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}
	logger.Info("connected to postgres and redis")

	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Fatal("failed to build llm client", zap.Error(err))
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	engine := game.NewEngine(store.NewPostgres(db.PG), llmClient, cfg.Game, logger)
	engine.SetEmitter(hub)
	engine.SetEventBridge(db.Redis)

	// Pick up games interrupted by a restart.
	if err := engine.ResumeRunningGames(ctx); err != nil {
		logger.Warn("failed to resume running games", zap.Error(err))
	}

	handler := api.NewHandler(engine, hub, cfg, logger)

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Api-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		health := db.Health(c.Request.Context())
		for _, status := range health {
			if status != "healthy" {
				c.JSON(http.StatusServiceUnavailable, health)
				return
			}
		}
		c.JSON(http.StatusOK, health)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api/v1")
	{
		public.POST("/auth/token", handler.MintToken)

		// Websocket carries public frames only, so it skips the token check.
		public.GET("/games/:id/ws", handler.StreamGame)
	}

	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		protected.POST("/games", handler.CreateGame)
		protected.GET("/games", handler.ListGames)
		protected.GET("/games/:id", handler.GetGame)
		protected.GET("/games/:id/events", handler.ListEvents)
		protected.GET("/games/:id/review", handler.GetReview)
		protected.POST("/games/:id/night-action", handler.SubmitNightAction)
		protected.POST("/games/:id/speech", handler.SubmitSpeech)
		protected.POST("/games/:id/vote", handler.SubmitVote)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Let in-flight turns finish before the HTTP listener closes.
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
