package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	answerCacheTTL     = 60 * time.Second
	answerCacheTimeout = 300 * time.Millisecond
)

// answerCache memoises public query answers for a short window so repeated
// identical questions do not burn model calls. Nil-safe: with no Redis client
// every lookup misses.
type answerCache struct {
	client *redis.Client
}

func newAnswerCache(client *redis.Client) *answerCache {
	return &answerCache{client: client}
}

func answerCacheKey(question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	sum := sha256.Sum256([]byte(normalized))
	return "brain:answer:" + hex.EncodeToString(sum[:])
}

func (c *answerCache) Get(ctx context.Context, question string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, answerCacheTimeout)
	defer cancel()

	payload, err := c.client.Get(ctx, answerCacheKey(question)).Result()
	if err != nil {
		return "", false
	}
	return payload, true
}

func (c *answerCache) Set(ctx context.Context, question, payload string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, answerCacheTimeout)
	defer cancel()

	_ = c.client.Set(ctx, answerCacheKey(question), payload, answerCacheTTL).Err()
}
