// Package cache provides a Redis-backed key/value service with graceful
// degradation. When Redis is unavailable, operations return errors that
// callers handle by falling back to in-process state.
package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bybit-funding-bot/config"
)

// Service wraps a Redis client with failure tracking. After maxFailures
// consecutive errors the service reports unhealthy until an operation
// succeeds again.
type Service struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int

	maxFailures int
}

// New creates a Service and verifies connectivity. A failed initial ping
// returns the service in degraded mode rather than an error.
func New(cfg config.RedisConfig) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("cache: redis is not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{client: client, maxFailures: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Initial Redis connection failed: %v", err)
		return s, nil
	}

	s.healthy = true
	log.Printf("[CACHE] Redis connected at %s", cfg.Address)
	return s, nil
}

// IsHealthy reports whether Redis is currently usable.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures && s.healthy {
		log.Printf("[CACHE] Redis marked unhealthy after %d failures", s.failureCount)
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		log.Printf("[CACHE] Redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
}

// Get retrieves a value. A cache miss returns redis.Nil untouched.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	result, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", err
		}
		s.recordFailure()
		return "", fmt.Errorf("cache: get failed: %w", err)
	}
	s.recordSuccess()
	return result, nil
}

// SetEx stores a value with a TTL.
func (s *Service) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("cache: set failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// Incr atomically increments a counter and returns the new value.
func (s *Service) Incr(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("cache: incr failed: %w", err)
	}
	s.recordSuccess()
	return val, nil
}

// Expire sets a TTL on an existing key.
func (s *Service) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("cache: expire failed: %w", err)
	}
	s.recordSuccess()
	return nil
}

// IsNil reports a cache miss.
func IsNil(err error) bool { return err == redis.Nil }

// Close closes the underlying client.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
