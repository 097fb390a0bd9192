// Package bootstrap opens the infrastructure shared by the API server and
// the standalone dispatch worker.
package bootstrap

import (
	"fmt"
	"log"
	"time"

	"aca_backend/internal/app/service"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/config"
	"aca_backend/internal/platform/database"
	"aca_backend/internal/platform/queue"
)

const (
	memoryQueueSize = 1024
	lockMargin      = 30 * time.Second
)

// OpenStore connects the store selected by DB_DRIVER. The returned func
// closes the underlying connection.
func OpenStore(cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		database.Connect()
		return repository.NewPgStore(database.DB), database.Close, nil
	case config.DriverBolt, "":
		if err := database.ConnectBolt(cfg.DBFile); err != nil {
			return nil, nil, err
		}
		store, err := repository.NewBoltStore(database.Bolt)
		if err != nil {
			database.CloseBolt()
			return nil, nil, err
		}
		return store, database.CloseBolt, nil
	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER %q (want %s or %s)", cfg.DBDriver, config.DriverBolt, config.DriverPostgres)
	}
}

// OpenQueue returns the Redis-backed dispatch queue when REDIS_ADDR is set
// and an in-process one otherwise.
func OpenQueue(cfg *config.Config) (queue.Queue, queue.Locker, func()) {
	if cfg.RedisAddr != "" {
		queue.ConnectRedis()
		rq := queue.NewRedisQueue(queue.RDB, cfg.DispatchQueueName, cfg.DispatchLockPrefix)
		return rq, rq, queue.CloseRedis
	}
	log.Println("WARN: REDIS_ADDR not set, using in-process dispatch queue")
	mq := queue.NewMemoryQueue(memoryQueueSize)
	return mq, mq, func() {}
}

func DispatchOptions(cfg *config.Config) service.DispatchOptions {
	return service.DispatchOptions{
		RunnerURL:   cfg.RunnerURL,
		Secret:      cfg.RunnerCallbackSecret,
		Timeout:     cfg.RunnerTimeout,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Backoff:     cfg.DispatchBackoff,
		MaxBackoff:  cfg.DispatchMaxBackoff,
	}
}

// LockTTL is the dispatch lock lifetime. It always outlasts one runner call
// so a slow delivery cannot be picked up by a second worker.
func LockTTL(cfg *config.Config) time.Duration {
	ttl := time.Duration(cfg.DispatchLockTTLSeconds) * time.Second
	if floor := cfg.RunnerTimeout + lockMargin; ttl < floor {
		log.Printf("WARN: DISPATCH_LOCK_TTL_SECONDS=%d is shorter than the runner timeout, using %s", cfg.DispatchLockTTLSeconds, floor)
		return floor
	}
	return ttl
}
