package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
)

var ErrOrderLockNotObtained = errors.New("could not obtain order lock")

// OrderLocker serializes work on one order. Different keys never wait on each other.
type OrderLocker interface {
	WithOrderLock(ctx context.Context, key models.OrderKey, fn func() error) error
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process per-key mutex; idle keys are released.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (m *KeyedMutex) acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	done := func() {
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			done()
		}, nil
	case <-ctx.Done():
		done()
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) WithOrderLock(ctx context.Context, key models.OrderKey, fn func() error) error {
	release, err := m.acquire(ctx, key.String())
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// RedisOrderLocker extends the in-process lock across instances with a Redis lock per order.
type RedisOrderLocker struct {
	client *redislock.Client
	local  *KeyedMutex
	ttl    time.Duration
}

func NewRedisOrderLocker(client *redislock.Client, ttl time.Duration) *RedisOrderLocker {
	return &RedisOrderLocker{client: client, local: NewKeyedMutex(), ttl: ttl}
}

func orderLockKey(key models.OrderKey) string {
	return fmt.Sprintf("orderLock:%s", key)
}

func (l *RedisOrderLocker) WithOrderLock(ctx context.Context, key models.OrderKey, fn func() error) error {
	return l.local.WithOrderLock(ctx, key, func() error {
		logger := config.GetLogger()
		lock, err := l.client.Obtain(ctx, orderLockKey(key), l.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(100 * time.Millisecond),
		})
		if errors.Is(err, redislock.ErrNotObtained) {
			config.LogError(logger, "OrderLock", "WithOrderLock", "Could not obtain lock for order", key.String(), err)
			return ErrOrderLockNotObtained
		} else if err != nil {
			config.LogError(logger, "OrderLock", "WithOrderLock", "Error obtaining lock for order", key.String(), err)
			return err
		}
		defer func() {
			_ = lock.Release(context.Background())
		}()
		return fn()
	})
}

// NewOrderLocker uses Redis when a lock client is connected and falls back to a process-local lock.
func NewOrderLocker() OrderLocker {
	if client := config.GetRedisLock(); client != nil {
		return NewRedisOrderLocker(client, config.OrderLockTTL())
	}
	return NewKeyedMutex()
}
