package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

var redisClient *redis.Client

// InitRedis initializes the Redis connection. Redis is a best-effort mirror
// for room events and presence; the service runs without it.
func InitRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("REDIS_URL not set, running without redis mirror")
		return nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("failed to parse REDIS_URL: %v", err)
		return nil
	}

	redisClient = redis.NewClient(opt)

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("failed to connect to redis: %v", err)
		redisClient = nil
		return nil
	}

	return redisClient
}

// GetRedis returns the Redis client (nil when not configured)
func GetRedis() *redis.Client {
	return redisClient
}

// PublishRoomEvent mirrors a room broadcast to the matching redis channel
func PublishRoomEvent(roomKey string, payload []byte) error {
	if redisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return redisClient.Publish(context.Background(), "room:"+roomKey, payload).Err()
}

// SubscribeRoomEvents subscribes to a room's mirrored events
func SubscribeRoomEvents(roomKey string) *redis.PubSub {
	if redisClient == nil {
		return nil
	}
	return redisClient.Subscribe(context.Background(), "room:"+roomKey)
}

// SetUserOnline writes the presence mirror key with the idle TTL so stale
// entries age out even if the process dies without cleanup
func SetUserOnline(userID string, ttl time.Duration) error {
	if redisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return redisClient.Set(context.Background(), "presence:"+userID, "online", ttl).Err()
}

// SetUserOffline removes the presence mirror key
func SetUserOffline(userID string) error {
	if redisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return redisClient.Del(context.Background(), "presence:"+userID).Err()
}
