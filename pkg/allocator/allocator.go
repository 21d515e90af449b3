// Package allocator implements C3, the worker allocator. It maintains a
// Redis sorted set of worker load plus per-worker heartbeat keys, exactly
// the "sorted set + per-worker heartbeat keys operated by an external
// coordination service" shape spec.md §4.3 calls for, and performs
// allocate/release through single atomic Lua scripts so a burst of
// concurrent allocations cannot jointly overshoot capacity.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/metrics"
)

const (
	rankKey     = "wl:rank"
	hbKeyPrefix = "wl:hb:"
)

func hbKey(workerURL string) string {
	return hbKeyPrefix + workerURL
}

// allocateScript scans wl:rank in ascending load order and, for the first
// member whose heartbeat key exists and whose load is below the capacity
// limit, atomically increments its load and returns it. Running entirely
// server-side makes the scan-then-increment atomic across concurrent
// callers, satisfying the "at most K handed out" invariant.
var allocateScript = redis.NewScript(`
local rank_key = KEYS[1]
local hb_prefix = ARGV[1]
local capacity_limit = tonumber(ARGV[2])

local members = redis.call('ZRANGE', rank_key, 0, -1, 'WITHSCORES')
for i = 1, #members, 2 do
	local worker = members[i]
	local load = tonumber(members[i + 1])
	if load < capacity_limit then
		local alive = redis.call('EXISTS', hb_prefix .. worker)
		if alive == 1 then
			redis.call('ZINCRBY', rank_key, 1, worker)
			return worker
		end
	end
end
return false
`)

// releaseScript decrements a worker's load, clamped at 0.
var releaseScript = redis.NewScript(`
local rank_key = KEYS[1]
local worker = ARGV[1]

local load = redis.call('ZSCORE', rank_key, worker)
if load == false then
	return 0
end
local newLoad = tonumber(load) - 1
if newLoad < 0 then
	newLoad = 0
end
redis.call('ZADD', rank_key, newLoad, worker)
return newLoad
`)

// Allocator is the C3 worker allocator.
type Allocator struct {
	rdb   redis.Cmdable
	hbTTL time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates an Allocator. hbTTL is T_hb from spec.md §4.3, typically 3x
// the worker heartbeat period.
func New(rdb redis.Cmdable, hbTTL time.Duration) *Allocator {
	return &Allocator{rdb: rdb, hbTTL: hbTTL, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Heartbeat refreshes a worker's liveness key with TTL T_hb. Called
// periodically by each registered worker (or a sidecar on its behalf).
func (a *Allocator) Heartbeat(ctx context.Context, workerURL string) error {
	return a.rdb.Set(ctx, hbKey(workerURL), 1, a.hbTTL).Err()
}

// RegisterWorker ensures a worker has a rank entry (load starts at 0 if
// absent) so it becomes a candidate for allocation once its heartbeat is live.
func (a *Allocator) RegisterWorker(ctx context.Context, workerURL string) error {
	return a.rdb.ZAddNX(ctx, rankKey, redis.Z{Score: 0, Member: workerURL}).Err()
}

// Allocate returns the least-loaded live worker under capacityLimit, or
// apperrors.ErrUnavailable if none qualifies.
func (a *Allocator) Allocate(ctx context.Context, capacityLimit int) (string, error) {
	res, err := allocateScript.Run(ctx, a.rdb, []string{rankKey}, hbKeyPrefix, capacityLimit).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.ErrUnavailable
		}
		return "", fmt.Errorf("allocate: %w", err)
	}
	worker, ok := res.(string)
	if !ok || worker == "" {
		return "", apperrors.ErrUnavailable
	}
	if load, loadErr := a.rdb.ZScore(ctx, rankKey, worker).Result(); loadErr == nil {
		metrics.AllocatorWorkerLoad.WithLabelValues(worker).Set(load)
	}
	return worker, nil
}

// Release decrements worker load by one, clamped at 0. Always safe to
// call on bot exit, including failure paths, per spec.md §4.3.
func (a *Allocator) Release(ctx context.Context, workerURL string) error {
	newLoad, err := releaseScript.Run(ctx, a.rdb, []string{rankKey}, workerURL).Result()
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if load, ok := newLoad.(int64); ok {
		metrics.AllocatorWorkerLoad.WithLabelValues(workerURL).Set(float64(load))
	}
	return nil
}

// Remove removes a worker from the rank set entirely, used by the reaper
// and the failover path.
func (a *Allocator) Remove(ctx context.Context, workerURL string) error {
	metrics.AllocatorWorkerLoad.DeleteLabelValues(workerURL)
	return a.rdb.ZRem(ctx, rankKey, workerURL).Err()
}

// Failover releases and removes the unhealthy worker, then re-runs
// Allocate to offer the next candidate, per spec.md §4.3. The
// release+remove cleanup runs through a circuit breaker kept per worker
// URL: once cleanup for a worker has failed more than five times in a row
// (gobreaker's default trip rule), further Failover calls for that worker
// fail fast for 30s. A successful cleanup does not count toward tripping.
func (a *Allocator) Failover(ctx context.Context, unhealthyWorker string, capacityLimit int) (string, error) {
	breaker := a.breakerFor(unhealthyWorker)

	_, err := breaker.Execute(func() (any, error) {
		if err := a.Release(ctx, unhealthyWorker); err != nil {
			return nil, err
		}
		return nil, a.Remove(ctx, unhealthyWorker)
	})
	if err != nil {
		return "", fmt.Errorf("failover cleanup: %w", err)
	}

	return a.Allocate(ctx, capacityLimit)
}

// breakerFor returns the circuit breaker for workerURL, creating one on
// first use. Guarded by a mutex because Failover runs concurrently across
// per-meeting supervision goroutines.
func (a *Allocator) breakerFor(workerURL string) *gobreaker.CircuitBreaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.breakers[workerURL]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "allocator-" + workerURL,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
	})
	a.breakers[workerURL] = b
	return b
}

// Reap removes rank entries whose heartbeat key is absent. It is called
// every T_reaper (cfg.ReaperInterval) by cmd/meetbotd's runAllocatorReaper
// goroutine.
func (a *Allocator) Reap(ctx context.Context) (int, error) {
	members, err := a.rdb.ZRange(ctx, rankKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("reap scan: %w", err)
	}

	removed := 0
	for _, worker := range members {
		exists, err := a.rdb.Exists(ctx, hbKey(worker)).Result()
		if err != nil {
			return removed, fmt.Errorf("reap check %s: %w", worker, err)
		}
		if exists == 0 {
			if err := a.Remove(ctx, worker); err != nil {
				return removed, fmt.Errorf("reap remove %s: %w", worker, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Load returns a worker's current load, for metrics and tests.
func (a *Allocator) Load(ctx context.Context, workerURL string) (int, error) {
	score, err := a.rdb.ZScore(ctx, rankKey, workerURL).Result()
	if errors.Is(err, redis.Nil) {
		return 0, apperrors.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return int(score), nil
}
