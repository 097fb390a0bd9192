package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"aca_backend/internal/app/bootstrap"
	"aca_backend/internal/app/service"
	"aca_backend/internal/app/worker"
	"aca_backend/internal/platform/config"
)

const reconcileBatch = 100

// The standalone worker drains the shared Redis dispatch queue so the API can
// run with DISPATCH_IN_PROCESS=false. It needs a store other processes can
// reach, which in practice means Postgres.
func main() {
	log.Println("Dispatch worker service starting...")

	config.Load()
	cfg := config.AppConfig
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR must be set for the standalone worker")
	}
	if cfg.DBDriver != config.DriverPostgres {
		log.Printf("WARN: DB_DRIVER=%s holds an exclusive file lock; stop the API or switch to postgres", cfg.DBDriver)
	}

	store, closeStore, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	defer closeStore()

	dispatchQueue, locker, closeQueue := bootstrap.OpenQueue(cfg)
	defer closeQueue()

	dispatchService := service.NewDispatchService(store, store, dispatchQueue, bootstrap.DispatchOptions(cfg))
	lockTTL := bootstrap.LockTTL(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// Graceful shutdown on SIGINT or SIGTERM
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.NewDispatchWorker(dispatchQueue, locker, dispatchService, lockTTL).Start(ctx)
	}()
	go func() {
		defer wg.Done()
		worker.NewReconciler(dispatchService, cfg.ReconcileInterval, reconcileBatch).Start(ctx)
	}()

	<-sigs
	log.Println("Shutdown signal received.")
	cancel()

	wg.Wait()
	log.Println("Worker exited cleanly.")
}
