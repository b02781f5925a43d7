package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"MarketLens/pkg/logger"
)

// RedisQueue is a job queue on Redis lists. Pending messages live in a
// list, delayed retries in a sorted set scored by due time and exhausted
// messages in a dead-letter list.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client

	prefix         string
	retryTick      time.Duration
	coalesceWindow time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRetryInterval sets how often due retries are moved back to pending.
func WithRetryInterval(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.retryTick = d
		}
	}
}

// WithCoalesceWindow enables coalescing of Coalescer payloads. An equal
// message enqueued while the first is still pending is dropped; the marker
// expires after d even if no worker picks the message up.
func WithCoalesceWindow(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) { r.coalesceWindow = d }
}

func NewRedisQueue(log *logger.Logger, cfg *Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	r := &RedisQueue{
		log:       log,
		cfg:       cfg.withDefaults(),
		client:    client,
		prefix:    "marketlens:queue",
		retryTick: 5 * time.Second,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) pendingKey() string          { return r.prefix + ":messages" }
func (r *RedisQueue) retryKey() string            { return r.prefix + ":retry" }
func (r *RedisQueue) deadKey() string             { return r.prefix + ":dlq" }
func (r *RedisQueue) coalesceKey(k string) string { return r.prefix + ":coalesce:" + k }

// RegisterJob binds job to its type. Register before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start checks the connection and launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(runCtx)
	}
	r.wg.Add(1)
	go r.moveDueRetries(runCtx)

	r.log.Info("job queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("job_types", len(r.jobs)),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for them until ctx expires. A job
// interrupted by Stop is not retried.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job queue stop: %w", ctx.Err())
	}
}

// Enqueue pushes a message for a registered job type.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return errors.New("queue not running")
	}
	if !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}

	if c, ok := payload.(Coalescer); ok && r.coalesceWindow > 0 {
		msg.Coalesce = msgType + ":" + c.CoalesceKey()
		fresh, err := r.client.SetNX(ctx, r.coalesceKey(msg.Coalesce), msg.ID, r.coalesceWindow).Result()
		if err != nil {
			return fmt.Errorf("coalesce marker: %w", err)
		}
		if !fresh {
			return nil
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage is Enqueue under the name the ingestor expects.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Stats reports the size of each queue state.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.pendingKey())
	retrying := pipe.ZCard(ctx, r.retryKey())
	dead := pipe.LLen(ctx, r.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), Retrying: retrying.Val(), Dead: dead.Val()}, nil
}

func (r *RedisQueue) work(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		msg, ok := r.next(ctx)
		if ok {
			r.run(ctx, msg)
		}
	}
}

func (r *RedisQueue) next(ctx context.Context) (Message, bool) {
	res, err := r.client.BRPop(ctx, r.cfg.PollTimeout, r.pendingKey()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			r.log.Error("queue poll failed", logger.Error(err))
			sleepCtx(ctx, time.Second)
		}
		return Message{}, false
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.log.Error("drop undecodable queue message", logger.Error(err))
		return Message{}, false
	}
	return msg, true
}

func (r *RedisQueue) run(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.bury(msg, fmt.Errorf("no job registered for type %q", msg.Type))
		return
	}

	if msg.Coalesce != "" && msg.Attempts == 0 {
		if err := r.client.Del(ctx, r.coalesceKey(msg.Coalesce)).Err(); err != nil && ctx.Err() == nil {
			r.log.Warn("clear coalesce marker", logger.String("key", msg.Coalesce), logger.Error(err))
		}
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		r.log.Warn("job interrupted by shutdown",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		return
	}

	r.log.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))
	if msg.Attempts >= r.cfg.RetryLimit {
		r.bury(msg, err)
		return
	}
	msg.Attempts++
	r.schedule(msg, time.Now().Add(r.cfg.retryDelay(msg.Attempts)))
}

func (r *RedisQueue) schedule(msg Message, due time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(due.Unix()), Member: data}).Err(); err != nil {
		r.log.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) bury(msg Message, cause error) {
	data, err := json.Marshal(DeadLetter{Message: msg, Error: cause.Error(), FailedAt: time.Now().UTC()})
	if err != nil {
		r.log.Error("encode dead letter", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.deadKey(), data).Err(); err != nil {
		r.log.Error("push dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) moveDueRetries(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.retryTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.requeueDue(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("requeue retries", logger.Error(err))
			}
		}
	}
}

// requeueDue moves every retry whose due time has passed back to pending.
// ZREM decides ownership, so concurrent movers never requeue one member
// twice.
func (r *RedisQueue) requeueDue(ctx context.Context) error {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		removed, err := r.client.ZRem(ctx, r.retryKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.pendingKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
