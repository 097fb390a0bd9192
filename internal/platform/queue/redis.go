package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"aca_backend/internal/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var RDB *redis.Client

func ConnectRedis() {
	RDB = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisDB,
	})

	ctx := context.Background()
	_, err := RDB.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	fmt.Println("Successfully connected to Redis!")
}

func CloseRedis() {
	if RDB != nil {
		RDB.Close()
		fmt.Println("Redis connection closed.")
	}
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisQueue is a list-backed queue (LPUSH/BRPOP) with SET NX locks.
type RedisQueue struct {
	rdb        *redis.Client
	name       string
	lockPrefix string
}

func NewRedisQueue(rdb *redis.Client, name, lockPrefix string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name, lockPrefix: lockPrefix}
}

func (q *RedisQueue) Push(ctx context.Context, id string) error {
	if err := q.rdb.LPush(ctx, q.name, id).Err(); err != nil {
		return fmt.Errorf("push %s to redis queue %s: %w", id, q.name, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", err
	}
	// res is [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return "", ErrEmpty
	}
	return res[1], nil
}

func (q *RedisQueue) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	lockKey := q.lockPrefix + ":" + key
	token := uuid.NewString()

	ok, err := q.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		deleted, err := releaseScript.Run(ctx, q.rdb, []string{lockKey}, token).Int64()
		if err != nil {
			log.Printf("ERROR: Failed to release lock %s: %v", lockKey, err)
		} else if deleted == 0 {
			log.Printf("WARN: Lock %s expired or was taken over before release", lockKey)
		}
	}
	return release, true, nil
}
