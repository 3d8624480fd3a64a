package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidramz/price-tracker/backend/internal/api"
	"github.com/davidramz/price-tracker/backend/internal/config"
	"github.com/davidramz/price-tracker/backend/internal/database"
	"github.com/davidramz/price-tracker/backend/internal/scraper"
	"github.com/davidramz/price-tracker/backend/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	if err := database.Initialize(cfg.DBPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize services
	catalogService := services.NewCatalogService(database.GetDB())
	fetchClient := scraper.NewClient()

	pushClient, err := services.NewFCMClient(cfg.FirebaseProjectID, cfg.FirebaseClientEmail, cfg.FirebasePrivateKey)
	if err != nil {
		log.Fatalf("Failed to initialize push client: %v", err)
	}

	dispatcher := services.NewDispatcher(catalogService, pushClient, cfg.DispatchBatchSize, cfg.DispatchPause)
	ingestService := services.NewIngestService(catalogService, fetchClient)
	sweepWorker := services.NewSweepWorker(catalogService, fetchClient, dispatcher, cfg.SweepBatchSize, cfg.SweepInterval)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start sweep worker in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in sweep worker: %v - restarting in 30 seconds", r)
					}
				}()
				sweepWorker.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Sweep worker restarting after panic recovery...")
			}
		}
	}()

	// Setup router
	router := api.SetupRouter(cfg, sweepWorker, dispatcher, ingestService, catalogService)

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the sweep worker
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
