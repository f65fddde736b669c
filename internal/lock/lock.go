package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when a lease cannot be taken before the context ends.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serialises work per key. The returned release func is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// #region local
// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("lock %s: %w: %v", key, ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// #endregion local

// #region redis
// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Prefix     string        // key prefix, default "hf:lock"
	TTL        time.Duration // lease expiry, default 30s
	RetryEvery time.Duration // poll interval while contended, default 50ms
	Logger     *zap.Logger   // renewal and release failures, default no-op
}

// RedisLocker takes per-key leases with SET NX PX so runs on different processes
// serialise. While held, a lease is extended every TTL/3. A holder that dies
// stops renewing and its lease expires after TTL. A lease found lost at renewal
// or release is logged; the holder is not interrupted.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
	log    *zap.Logger
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "hf:lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 50 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, cfg: cfg, log: log}
}

func (r *RedisLocker) key(key string) string {
	return fmt.Sprintf("%s:%s", r.cfg.Prefix, key)
}

// Lock polls SET NX until the lease is taken or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := r.key(key)
	token := uuid.New().String()

	ticker := time.NewTicker(r.cfg.RetryEvery)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.cfg.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w: %v", key, ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	stop, done := make(chan struct{}), make(chan struct{})
	go r.renew(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// fresh context: the caller's may already be cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := releaseScript.Run(rctx, r.client, []string{k}, token).Int()
			switch {
			case err != nil:
				r.log.Warn("lock release failed", zap.String("key", k), zap.Error(err))
			case n == 0:
				r.log.Warn("lock lease lost before release", zap.String("key", k))
			}
		})
	}, nil
}

// renew extends the lease every TTL/3 until stop is closed or the lease is gone.
func (r *RedisLocker) renew(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := r.cfg.TTL / 3
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := renewScript.Run(ctx, r.client, []string{k}, token, r.cfg.TTL.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			r.log.Warn("lock renewal failed", zap.String("key", k), zap.Error(err))
		case n == 0:
			r.log.Warn("lock lease lost", zap.String("key", k))
			return
		}
	}
}

// #endregion redis

// Compile-time interface checks.
var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
