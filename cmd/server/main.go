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

	"aca_backend/internal/api"
	"aca_backend/internal/app/bootstrap"
	"aca_backend/internal/app/service"
	"aca_backend/internal/app/worker"
	"aca_backend/internal/common/security"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/config"
	"aca_backend/internal/platform/storage"
)

const reconcileBatch = 100

func main() {
	// 1. Load Configuration
	config.Load()
	cfg := config.AppConfig
	fmt.Println("Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT()
	fmt.Println("JWT initialized.")

	// 3. Initialize Store
	store, closeStore, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	defer closeStore()
	fmt.Printf("Store ready (%s).\n", cfg.DBDriver)

	if cfg.SnapshotImportFile != "" {
		n, err := repository.ImportSnapshotIfEmpty(context.Background(), store, cfg.SnapshotImportFile)
		if err != nil {
			log.Fatalf("Snapshot import failed: %v", err)
		}
		if n > 0 {
			log.Printf("INFO: imported %d records from %s", n, cfg.SnapshotImportFile)
		}
	}

	// 4. Initialize Dispatch Queue
	dispatchQueue, locker, closeQueue := bootstrap.OpenQueue(cfg)
	defer closeQueue()

	// 5. Initialize Artifact Storage
	artifacts := openArtifactStore(cfg)
	archive, err := storage.NewLocalStore(cfg.ResultsDir)
	if err != nil {
		log.Fatalf("Could not prepare results directory: %v", err)
	}

	// 6. Initialize Services
	dispatchService := service.NewDispatchService(store, store, dispatchQueue, bootstrap.DispatchOptions(cfg))
	authService := service.NewAuthService(store)
	assignmentService := service.NewAssignmentService(store)
	submissionService := service.NewSubmissionService(store, artifacts, dispatchService)
	webhookService := service.NewWebhookService(store, archive, cfg.RunnerCallbackSecret)
	analyticsService := service.NewAnalyticsService(store)

	if _, err := assignmentService.SeedDefaults(context.Background()); err != nil {
		log.Fatalf("Could not seed assignments: %v", err)
	}
	if cfg.RunnerCallbackSecret == "" {
		log.Println("WARN: RUNNER_CALLBACK_SECRET not set, runner callbacks are unauthenticated")
	}

	// 7. Initialize Dispatch Worker and Reconciler (as goroutines)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.DispatchInProcess {
		lockTTL := bootstrap.LockTTL(cfg)
		go worker.NewDispatchWorker(dispatchQueue, locker, dispatchService, lockTTL).Start(workerCtx)
		go worker.NewReconciler(dispatchService, cfg.ReconcileInterval, reconcileBatch).Start(workerCtx)
		fmt.Println("Dispatch worker started.")
	} else {
		log.Println("INFO: DISPATCH_IN_PROCESS=false, expecting a separate dispatch worker")
	}

	// 8. Initialize Router & HTTP Server
	router := api.NewRouter(authService, assignmentService, submissionService, webhookService, analyticsService, cfg.MaxUploadSize)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop

	log.Println("Shutting down server...")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown failed: %v", err)
	}

	log.Println("Server and worker stopped gracefully.")
}

func openArtifactStore(cfg *config.Config) storage.ArtifactStore {
	switch cfg.ArtifactBackend {
	case config.ArtifactBackendB2:
		store, err := storage.NewB2Store(context.Background(), cfg.B2AccountID, cfg.B2ApplicationKey, cfg.B2Bucket, "submissions")
		if err != nil {
			log.Fatalf("Could not connect to B2 bucket %s: %v", cfg.B2Bucket, err)
		}
		fmt.Println("Artifacts stored in B2 bucket", cfg.B2Bucket)
		return store
	default:
		store, err := storage.NewLocalStore(cfg.SubmissionsDir)
		if err != nil {
			log.Fatalf("Could not prepare submissions directory: %v", err)
		}
		return store
	}
}
