package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/30ozSteak/StoryboardR-sub000/internal/api"
	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
	"github.com/30ozSteak/StoryboardR-sub000/internal/db"
	"github.com/30ozSteak/StoryboardR-sub000/internal/events"
	"github.com/30ozSteak/StoryboardR-sub000/internal/jobs"
	"github.com/30ozSteak/StoryboardR-sub000/internal/repository"
	"github.com/30ozSteak/StoryboardR-sub000/internal/service"
	"github.com/30ozSteak/StoryboardR-sub000/pkg/ffmpeg"
)

func main() {
	log.Println("Starting StoryboardR keyframe service...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.New()

	if err := ffmpeg.CheckInstallation(cfg.FFmpegPath, cfg.FFprobePath); err != nil {
		log.Fatalf("FFmpeg check failed: %v", err)
	}

	// Create storage directories
	if err := os.MkdirAll(cfg.VideoStorageDir, 0755); err != nil {
		log.Fatalf("Failed to create video storage directory: %v", err)
	}
	if err := os.MkdirAll(cfg.FrameStorageDir, 0755); err != nil {
		log.Fatalf("Failed to create frame storage directory: %v", err)
	}

	// Optional session metadata persistence
	var sessionRepo *repository.SessionRepository
	if cfg.PostgresEnabled {
		dbConn, err := db.ConnectPostgres(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer dbConn.Close()
		sessionRepo = repository.NewSessionRepository(dbConn)
	}

	// Optional job event publishing
	publisher := events.NewPublisher(cfg)
	if err := publisher.Connect(); err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	// Core services
	store := jobs.NewMemoryStore(cfg.JobRetention)
	downloader := service.NewVideoDownloader(cfg)
	extractor := service.NewKeyframeExtractor(cfg)
	processor := service.NewVideoProcessor(cfg, store, downloader, extractor, publisher, sessionRepo)
	frames := service.NewFrameService(cfg, extractor, sessionRepo)
	cleanup := service.NewSessionCleanup(cfg)

	// Background sweepers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Start(ctx, cfg.JobSweepInterval)
	go cleanup.Start(ctx)

	// Setup HTTP server
	handler := api.NewHandler(cfg, store, processor, frames)
	router := api.SetupRoutes(handler)
	server := api.NewHTTPServer(cfg, router)

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}
