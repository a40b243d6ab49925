package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCooldownKeyPrefix namespaces cooldown keys in Redis.
const DefaultCooldownKeyPrefix = "growrack:cooldown:"

// reserveScript performs the whole check-and-reserve on the server so two
// processes cannot both win a window.
//
// KEYS[1] = cooldown key, ARGV[1] = now (unix ms), ARGV[2] = window (ms).
// Returns 1 when reserved, 0 when the cooldown is active.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local last = redis.call('GET', KEYS[1])
if last then
  last = tonumber(last)
  if window > 0 and now - last < window then
    return 0
  end
  if now <= last then
    return 1
  end
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// observeScript advances the stored time only.
var observeScript = redis.NewScript(`
local t = tonumber(ARGV[1])
local last = redis.call('GET', KEYS[1])
if (not last) or tonumber(last) < t then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisCooldownTracker shares reservations across processes through Redis.
// Times are stored as unix milliseconds.
type RedisCooldownTracker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCooldownTracker returns a tracker using client. An empty prefix
// falls back to DefaultCooldownKeyPrefix.
func NewRedisCooldownTracker(client redis.UniversalClient, prefix string) *RedisCooldownTracker {
	if prefix == "" {
		prefix = DefaultCooldownKeyPrefix
	}
	return &RedisCooldownTracker{client: client, prefix: prefix}
}

func (t *RedisCooldownTracker) key(ruleID string) string {
	return t.prefix + ruleID
}

// TryReserve implements CooldownTracker.
func (t *RedisCooldownTracker) TryReserve(ctx context.Context, ruleID string, now time.Time, cooldownMinutes int) (bool, error) {
	window := (time.Duration(cooldownMinutes) * time.Minute).Milliseconds()
	res, err := reserveScript.Run(ctx, t.client, []string{t.key(ruleID)}, now.UnixMilli(), window).Int()
	if err != nil {
		return false, fmt.Errorf("%w: reserving cooldown for %s: %w", ErrStorage, ruleID, err)
	}
	return res == 1, nil
}

// Observe implements CooldownTracker.
func (t *RedisCooldownTracker) Observe(ctx context.Context, ruleID string, lastTriggered time.Time) error {
	if err := observeScript.Run(ctx, t.client, []string{t.key(ruleID)}, lastTriggered.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: seeding cooldown for %s: %w", ErrStorage, ruleID, err)
	}
	return nil
}

// Forget implements CooldownForgetter.
func (t *RedisCooldownTracker) Forget(ctx context.Context, ruleID string) error {
	if err := t.client.Del(ctx, t.key(ruleID)).Err(); err != nil {
		return fmt.Errorf("%w: clearing cooldown for %s: %w", ErrStorage, ruleID, err)
	}
	return nil
}

// LastTriggered reads the stored time for ruleID.
func (t *RedisCooldownTracker) LastTriggered(ctx context.Context, ruleID string) (time.Time, bool, error) {
	ms, err := t.client.Get(ctx, t.key(ruleID)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: reading cooldown for %s: %w", ErrStorage, ruleID, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
