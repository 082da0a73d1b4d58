package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "creds:"

	// redisRecheck is how long an unreachable server is reported unavailable
	// before the next PING.
	redisRecheck = 5 * time.Second
)

// RedisProvider keeps credential entries in Redis hashes that expire with
// the entry's MaxAge. It suits consoles running on several hosts that share
// one session.
type RedisProvider struct {
	client  *goredis.Client
	scope   string
	timeout time.Duration
	recheck time.Duration

	mu        sync.Mutex
	healthy   bool
	checkedAt time.Time
	now       func() time.Time
}

// NewRedisProvider wraps an existing client.
func NewRedisProvider(client *goredis.Client, scope string) *RedisProvider {
	return &RedisProvider{
		client:  client,
		scope:   scope,
		timeout: 2 * time.Second,
		recheck: redisRecheck,
		now:     time.Now,
	}
}

func (p *RedisProvider) key(name string) string {
	return redisKeyPrefix + p.scope + ":" + name
}

func (p *RedisProvider) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

// Available pings the server once and then trusts the result until a
// command fails. After a failure it pings again at most every recheck.
func (p *RedisProvider) Available() bool {
	if p.client == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.healthy {
		return true
	}
	if !p.checkedAt.IsZero() && p.now().Sub(p.checkedAt) < p.recheck {
		return false
	}

	ctx, cancel := p.ctx()
	defer cancel()
	p.healthy = p.client.Ping(ctx).Err() == nil
	p.checkedAt = p.now()
	return p.healthy
}

// markDown makes the next Available call ping again.
func (p *RedisProvider) markDown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = false
	p.checkedAt = time.Time{}
}

// Get returns the stored value. Redis drops the key itself once expired.
func (p *RedisProvider) Get(name string) (string, bool, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	value, err := p.client.HGet(ctx, p.key(name), "value").Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		p.markDown()
		return "", false, fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	return value, true, nil
}

// Set replaces the entry and its attributes in one transaction.
func (p *RedisProvider) Set(name, value string, opts CookieOptions) error {
	ctx, cancel := p.ctx()
	defer cancel()

	key := p.key(name)
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"value":     value,
		"path":      opts.Path,
		"same_site": int(opts.SameSite),
		"secure":    opts.Secure,
		"http_only": opts.HTTPOnly,
	})
	pipe.Expire(ctx, key, opts.MaxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		p.markDown()
		return fmt.Errorf("failed to write entry %s: %w", name, err)
	}
	return nil
}

// Delete removes the entry.
func (p *RedisProvider) Delete(name string) error {
	ctx, cancel := p.ctx()
	defer cancel()

	if err := p.client.Del(ctx, p.key(name)).Err(); err != nil {
		p.markDown()
		return fmt.Errorf("failed to delete entry %s: %w", name, err)
	}
	return nil
}
