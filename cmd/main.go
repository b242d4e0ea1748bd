package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/docstream-backend/internal/config"
	"github.com/yungbote/docstream-backend/internal/db"
	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/handlers"
	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/middleware"
	"github.com/yungbote/docstream-backend/internal/realtime"
	"github.com/yungbote/docstream-backend/internal/realtime/bus"
	"github.com/yungbote/docstream-backend/internal/repos"
	"github.com/yungbote/docstream-backend/internal/server"
	"github.com/yungbote/docstream-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Config load failed", "error", err)
		os.Exit(1)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Change feed; with Redis configured, commits travel through the bus
	// so every instance's feed sees every change.
	changeFeed := feed.New(log)
	var publisher feed.Publisher = changeFeed
	if os.Getenv("REDIS_ADDR") != "" {
		changeBus, busErr := bus.NewRedisBus(log)
		if busErr != nil {
			log.Error("Redis change bus init failed", "error", busErr)
			os.Exit(1)
		}
		defer changeBus.Close()
		if fwdErr := changeBus.StartForwarder(context.Background(), changeFeed.Publish); fwdErr != nil {
			log.Error("Redis change forwarder failed", "error", fwdErr)
			os.Exit(1)
		}
		publisher = bus.Publisher(changeBus, log)
		log.Info("Change fan-out via Redis enabled")
	}

	// Repos
	fileRecordRepo := repos.NewFileRecordRepo(thePG, log, publisher)

	// Services
	extractor := services.NewContentExtractor(log)
	aiClient, err := services.NewOpenAIClient(log, cfg.EmbeddingDim)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	pipelineService := services.NewPipelineService(thePG, log, cfg, fileRecordRepo, extractor, aiClient)
	fileService := services.NewFileService(thePG, log, fileRecordRepo)

	// Streaming
	streamHub := realtime.NewStreamHub(log, cfg.LivenessInterval())

	// Handlers + middleware
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.JWTSecret)
	fileHandler := handlers.NewFileHandler(log, pipelineService, fileService, cfg.MaxUploadBytes)
	streamHandler := handlers.NewStreamHandler(log, streamHub, changeFeed, authMiddleware)

	// Router
	router := server.NewRouter(server.RouterConfig{
		FileHandler:    fileHandler,
		StreamHandler:  streamHandler,
		AuthMiddleware: authMiddleware,
	})

	log.Info("Server listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
