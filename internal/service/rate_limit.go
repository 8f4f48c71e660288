package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"campus_market/internal/config"
	"campus_market/pkg/logger"
)

// RateLimitService is the per-sender anti-flood control on message sends.
// State is in-process and resets on restart; the interface exists so a
// shared backend can replace the implementation without touching call sites.
type RateLimitService interface {
	// Admit records a send attempt and reports whether it is within the
	// sliding window budget. A rejected attempt is not recorded.
	Admit(ctx context.Context, senderID uuid.UUID) bool
	// RetryAfter returns how long the sender must wait before the next
	// send can be admitted. Zero means the sender is not limited.
	RetryAfter(ctx context.Context, senderID uuid.UUID) time.Duration
}

const rateLimitShards = 32

type slidingWindowLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time
	shards [rateLimitShards]*limiterShard
	log    logger.Logger
}

type limiterShard struct {
	mu      sync.Mutex
	senders map[uuid.UUID]*timestampRing
}

func NewRateLimitService(cfg config.ChatConfig, log logger.Logger) RateLimitService {
	l := &slidingWindowLimiter{
		window: cfg.RateLimitWindow,
		max:    cfg.RateLimitMax,
		now:    time.Now,
		log:    log,
	}
	for i := range l.shards {
		l.shards[i] = &limiterShard{senders: make(map[uuid.UUID]*timestampRing)}
	}
	return l
}

func (l *slidingWindowLimiter) Admit(_ context.Context, senderID uuid.UUID) bool {
	now := l.now()
	shard := l.shardFor(senderID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	ring := shard.senders[senderID]
	if ring == nil {
		ring = newTimestampRing(l.max)
		shard.senders[senderID] = ring
	}

	ring.evictBefore(now.Add(-l.window))
	if ring.len() >= l.max {
		return false
	}
	ring.push(now)
	return true
}

func (l *slidingWindowLimiter) RetryAfter(_ context.Context, senderID uuid.UUID) time.Duration {
	now := l.now()
	shard := l.shardFor(senderID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	ring := shard.senders[senderID]
	if ring == nil {
		return 0
	}
	ring.evictBefore(now.Add(-l.window))
	if ring.len() < l.max {
		return 0
	}
	return ring.oldest().Add(l.window).Sub(now)
}

// Sharding keeps contention local: concurrent sends from different users
// rarely touch the same lock.
func (l *slidingWindowLimiter) shardFor(senderID uuid.UUID) *limiterShard {
	h := fnv.New32a()
	h.Write(senderID[:])
	return l.shards[h.Sum32()%rateLimitShards]
}

// timestampRing is a fixed-capacity ring of send times. Capacity equals the
// window budget, so per-sender memory is bounded regardless of traffic.
type timestampRing struct {
	buf   []time.Time
	head  int
	count int
}

func newTimestampRing(capacity int) *timestampRing {
	return &timestampRing{buf: make([]time.Time, capacity)}
}

func (r *timestampRing) len() int { return r.count }

func (r *timestampRing) oldest() time.Time { return r.buf[r.head] }

func (r *timestampRing) push(t time.Time) {
	r.buf[(r.head+r.count)%len(r.buf)] = t
	r.count++
}

func (r *timestampRing) evictBefore(cutoff time.Time) {
	for r.count > 0 && !r.buf[r.head].After(cutoff) {
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
}
