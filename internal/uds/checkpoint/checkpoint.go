// Package checkpoint publishes chapter-close notifications to Redis so a
// clustered deployment's read replicas know which chapters are safe to
// serve from their own caches. It is an optional, off-the-critical-path
// observer: a session with no publisher configured behaves identically to
// one with a publisher, just without the notification.
//
// Grounded on the teacher's internal/ratelimiter/persistence/redis.go
// RedisPersister: a minimal RedisEvaler interface wrapping Eval, fed an
// idempotent Lua script (SETNX the marker, then apply, ignore on replay),
// so retried or duplicate notifications after a crash mid-publish cost
// nothing extra.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisEvaler abstracts the minimal surface needed from a Redis client.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler is a production Redis client wrapper implementing
// RedisEvaler using github.com/redis/go-redis/v9. go-redis's Eval returns
// a *redis.Cmd rather than a bare (interface{}, error) pair, so this
// unwraps it via Result.
type GoRedisEvaler struct{ client *goredis.Client }

// NewGoRedisEvaler constructs a GoRedisEvaler connected to addr (e.g.
// "127.0.0.1:6379").
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{client: goredis.NewClient(&goredis.Options{Addr: addr})}
}

// Eval implements RedisEvaler.
func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.client.Eval(ctx, script, keys, args...).Result()
}

// Close releases the underlying connection pool.
func (g *GoRedisEvaler) Close() error {
	return g.client.Close()
}

// publishScript sets an idempotency marker for this (name, virtual
// chapter) pair and, only the first time, advances the published "latest
// chapter" pointer. Replays after the marker is already set are a no-op.
const publishScript = `
local markerKey = KEYS[1]
local latestKey = KEYS[2]
local virtual = tonumber(ARGV[1])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('SET', latestKey, virtual)
  return 1
else
  return 0
end
`

// Publisher notifies a Redis-backed side channel whenever a chapter
// closes, per the CheckpointPublisher hook an index session may supply.
type Publisher struct {
	client RedisEvaler
	name   string
}

// New returns a Publisher that checkpoints chapter closes for the named
// index under per-index Redis keys.
func New(client RedisEvaler, name string) *Publisher {
	return &Publisher{client: client, name: name}
}

func markerKey(name string, virtualChapter uint64) string {
	return fmt.Sprintf("uds:%s:chapter-marker:%d", name, virtualChapter)
}

func latestKey(name string) string {
	return fmt.Sprintf("uds:%s:chapter-latest", name)
}

// PublishChapterClosed records that virtualChapter has closed and is now
// safe for read replicas to serve from cache. Idempotent: replaying the
// same virtualChapter after a crash mid-publish changes nothing.
func (p *Publisher) PublishChapterClosed(ctx context.Context, virtualChapter uint64, physicalSlot int) error {
	if p == nil || p.client == nil {
		return errors.New("checkpoint: publisher has no Redis client configured")
	}
	keys := []string{markerKey(p.name, virtualChapter), latestKey(p.name)}
	if _, err := p.client.Eval(ctx, publishScript, keys, virtualChapter); err != nil {
		return fmt.Errorf("checkpoint: publish chapter %d (slot %d): %w", virtualChapter, physicalSlot, err)
	}
	return nil
}
