package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertLimiter подавляет повторные алерты по одному и тому же ключу в пределах окна.
type AlertLimiter interface {
	// Allow возвращает true, если алерт с этим ключом можно отправить сейчас.
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter хранит время последнего алерта в памяти процесса.
// Подходит для одного экземпляра сервиса.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewMemoryLimiter создаёт лимитер с указанным окном подавления.
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow возвращает true не чаще одного раза за окно для каждого ключа.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.seen[key]; ok && now.Sub(last) < l.window {
		return false, nil
	}

	l.seen[key] = now

	// Попутная чистка устаревших ключей, чтобы карта не росла бесконечно.
	for k, t := range l.seen {
		if now.Sub(t) >= l.window {
			delete(l.seen, k)
		}
	}

	return true, nil
}

// RedisLimiter разделяет окно подавления между несколькими экземплярами сервиса.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisLimiter создаёт лимитер поверх Redis.
func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, window: window}
}

// Allow атомарно захватывает ключ на время окна через SET NX.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, "alert:"+key, 1, l.window).Result()
	if err != nil {
		return false, fmt.Errorf("setnx alert key: %w", err)
	}
	return ok, nil
}
