package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionBusy is returned when another turn holds the session for longer
// than the locker is willing to wait.
var ErrSessionBusy = errors.New("conversation: session is busy")

// SessionLocker serializes turns that share a session id.
type SessionLocker interface {
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
}

// KeyedMutex is an in-process SessionLocker. Entries are reference counted
// and removed once no turn holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu      sync.Mutex
	waiters int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	k.mu.Lock()
	entry, ok := k.locks[sessionID]
	if !ok {
		entry = &keyedEntry{}
		k.locks[sessionID] = entry
	}
	entry.waiters++
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(k.locks, sessionID)
		}
		k.mu.Unlock()
	}()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// RedisSessionLocker holds a SET NX key per session so turns are serialized
// across processes sharing the Redis session store.
type RedisSessionLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// Defaults for a turn making two LLM calls of LLM_TIMEOUT's default 20s.
const (
	defaultSessionLockTTL = 50 * time.Second
	sessionLockRetry      = 25 * time.Millisecond
)

// NewRedisSessionLocker creates a locker whose keys expire after ttl and which
// queues up to wait for a busy session, like KeyedMutex does in process. A
// zero ttl takes the default and a zero wait takes the ttl, so a queued turn
// outlasts the turn ahead of it.
func NewRedisSessionLocker(client *redis.Client, ttl, wait time.Duration) *RedisSessionLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionLockTTL
	}
	if wait <= 0 {
		wait = ttl
	}
	return &RedisSessionLocker{client: client, ttl: ttl, wait: wait, retry: sessionLockRetry}
}

func (l *RedisSessionLocker) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("medibook:lock:session:%s", sessionID)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("conversation: acquire session lock: %w", err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return ErrSessionBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *RedisSessionLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("conversation: release session lock: %w", err)
	}
	return nil
}
