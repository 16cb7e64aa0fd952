package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Guard keeps at most one accept/reject in flight per message. There is no
// lock across messages.
type Guard interface {
	// Acquire returns false when an action is already running for messageId.
	Acquire(ctx context.Context, messageId string) (bool, error)
	Release(ctx context.Context, messageId string)
}

type memoryGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewMemoryGuard() Guard {
	return &memoryGuard{inFlight: make(map[string]struct{})}
}

func (g *memoryGuard) Acquire(_ context.Context, messageId string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[messageId]; busy {
		return false, nil
	}
	g.inFlight[messageId] = struct{}{}
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, messageId string) {
	g.mu.Lock()
	delete(g.inFlight, messageId)
	g.mu.Unlock()
}

// redisGuard shares the in-flight set between dashboard instances logged in as
// the same professional. The TTL bounds how long a crashed instance can hold a
// message. Each acquire stores its own token so a holder whose key expired
// cannot release the key another instance took since.
type redisGuard struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func NewRedisGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{client: client, ttl: ttl, tokens: make(map[string]string)}
}

func (g *redisGuard) key(messageId string) string {
	return "order-action:" + messageId
}

func (g *redisGuard) Acquire(ctx context.Context, messageId string) (bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key(messageId), token, g.ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	g.mu.Lock()
	g.tokens[messageId] = token
	g.mu.Unlock()
	return true, nil
}

func (g *redisGuard) Release(ctx context.Context, messageId string) {
	g.mu.Lock()
	token, ok := g.tokens[messageId]
	delete(g.tokens, messageId)
	g.mu.Unlock()
	if !ok {
		return
	}

	if err := releaseScript.Run(context.WithoutCancel(ctx), g.client, []string{g.key(messageId)}, token).Err(); err != nil {
		log.Printf("Unable to release order guard for %s: %v", messageId, err)
	}
}
