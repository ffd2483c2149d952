package cache

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	once   sync.Once
	client *redis.Client
)

// Client returns the shared Redis connection, or nil when caching is
// disabled. Redis is opt-in: without REDIS_ADDR the application runs with
// caching off and every lookup hits the database and the language model.
func Client() *redis.Client {
	once.Do(func() {
		addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
		if addr == "" {
			return
		}

		db := 0
		if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
			if parsed, err := strconv.Atoi(rawDB); err == nil {
				db = parsed
			}
		}

		candidate := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := candidate.Ping(ctx).Err(); err != nil {
			log.Printf("cache: redis at %s unreachable, caching disabled: %v", addr, err)
			_ = candidate.Close()
			return
		}

		client = candidate
	})
	return client
}

// Enabled reports whether a usable Redis connection exists.
func Enabled() bool {
	return Client() != nil
}

// Close releases the shared connection. Mainly useful for tests.
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
