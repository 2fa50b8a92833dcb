// Package redisqueue is a core.JobQueue on Redis lists. Pending ids move to a
// processing list while a worker holds them, with a lease deadline in a sorted
// set; delayed retries wait in another sorted set until due.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix       = "reconciler:jobs"
	defaultBlockTimeout = time.Second
	defaultJobTTL       = 7 * 24 * time.Hour
	defaultLease        = 5 * time.Minute
)

type Options struct {
	Prefix string
	// BlockTimeout bounds each blocking pop so delayed jobs are promoted.
	BlockTimeout time.Duration
	JobTTL       time.Duration
	// Lease is how long a dequeued job stays owned by its worker before
	// Recover may hand it out again.
	Lease time.Duration
	Now   func() time.Time
}

type Queue struct {
	client *redis.Client
	opts   Options
}

type envelope struct {
	ID       string                    `json:"id"`
	Message  *core.JobExecutionMessage `json:"message"`
	Attempts int                       `json:"attempts"`
}

func New(client *redis.Client, opts Options) *Queue {
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = defaultBlockTimeout
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = defaultJobTTL
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	return &Queue{client: client, opts: opts}
}

// NewFromConfig dials Redis with the queue settings.
func NewFromConfig(cfg core.QueueConfig) *Queue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return New(client, Options{})
}

func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("redisqueue: client is not configured")
	}
	if msg == nil {
		return fmt.Errorf("redisqueue: job message is required")
	}
	env := &envelope{ID: uuid.NewString(), Message: msg}
	if err := q.save(ctx, env); err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key("pending"), env.ID).Err(); err != nil {
		return core.TransientStorage(err)
	}
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.client == nil {
		return nil, fmt.Errorf("redisqueue: client is not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}
		id, err := q.client.BLMove(ctx, q.key("pending"), q.key("processing"), "LEFT", "RIGHT", q.opts.BlockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, core.ErrJobQueueClosed
			}
			return nil, core.TransientStorage(err)
		}

		env, err := q.load(ctx, id)
		if err != nil {
			_ = q.client.LRem(ctx, q.key("processing"), 1, id).Err()
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		env.Attempts++
		if err := q.save(ctx, env); err != nil {
			return nil, err
		}
		if err := q.lease(ctx, id); err != nil {
			return nil, err
		}
		return &delivery{queue: q, env: env}, nil
	}
}

// Recover moves jobs whose lease expired back to pending. Jobs still leased
// by a live worker stay where they are. An id found in processing without a
// lease (its worker died between the move and the lease write) gets a fresh
// lease and is recovered by a later call.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if err := q.leaseOrphans(ctx); err != nil {
		return 0, err
	}
	expired, err := q.client.ZRangeByScore(ctx, q.key("leases"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, core.TransientStorage(err)
	}
	moved := 0
	for _, id := range expired {
		removed, err := q.client.ZRem(ctx, q.key("leases"), id).Result()
		if err != nil {
			return moved, core.TransientStorage(err)
		}
		// Another instance recovered it, or its worker settled it.
		if removed == 0 {
			continue
		}
		held, err := q.client.LRem(ctx, q.key("processing"), 1, id).Result()
		if err != nil {
			return moved, core.TransientStorage(err)
		}
		if held == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("pending"), id).Err(); err != nil {
			return moved, core.TransientStorage(err)
		}
		moved++
	}
	return moved, nil
}

func (q *Queue) leaseOrphans(ctx context.Context) error {
	ids, err := q.client.LRange(ctx, q.key("processing"), 0, -1).Result()
	if err != nil {
		return core.TransientStorage(err)
	}
	deadline := float64(q.now().Add(q.opts.Lease).UnixMilli())
	for _, id := range ids {
		if err := q.client.ZAddNX(ctx, q.key("leases"), redis.Z{Score: deadline, Member: id}).Err(); err != nil {
			return core.TransientStorage(err)
		}
	}
	return nil
}

func (q *Queue) lease(ctx context.Context, id string) error {
	err := q.client.ZAdd(ctx, q.key("leases"), redis.Z{
		Score:  float64(q.now().Add(q.opts.Lease).UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return core.TransientStorage(err)
	}
	return nil
}

// release drops the lease and the processing entry. It reports false when
// the job was already recovered, settled, or handed to another worker; each
// dequeue bumps Attempts, so a stored count past ours means a newer owner.
func (q *Queue) release(ctx context.Context, env *envelope) (bool, error) {
	id := env.ID
	current, err := q.load(ctx, id)
	if core.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.Attempts != env.Attempts {
		return false, nil
	}
	if err := q.client.ZRem(ctx, q.key("leases"), id).Err(); err != nil {
		return false, core.TransientStorage(err)
	}
	held, err := q.client.LRem(ctx, q.key("processing"), 1, id).Result()
	if err != nil {
		return false, core.TransientStorage(err)
	}
	return held > 0, nil
}

// DeadLetters returns the messages parked in the dead list.
func (q *Queue) DeadLetters(ctx context.Context) ([]*core.JobExecutionMessage, error) {
	ids, err := q.client.LRange(ctx, q.key("dead"), 0, -1).Result()
	if err != nil {
		return nil, core.TransientStorage(err)
	}
	out := make([]*core.JobExecutionMessage, 0, len(ids))
	for _, id := range ids {
		env, err := q.load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, env.Message)
	}
	return out, nil
}

func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return core.TransientStorage(err)
	}
	for _, id := range due {
		removed, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return core.TransientStorage(err)
		}
		// Another worker promoted it first.
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.key("pending"), id).Err(); err != nil {
			return core.TransientStorage(err)
		}
	}
	return nil
}

func (q *Queue) save(ctx context.Context, env *envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisqueue: encode job: %w", err)
	}
	if err := q.client.Set(ctx, q.jobKey(env.ID), raw, q.opts.JobTTL).Err(); err != nil {
		return core.TransientStorage(err)
	}
	return nil
}

func (q *Queue) load(ctx context.Context, id string) (*envelope, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.NotFound("job", id)
	}
	if err != nil {
		return nil, core.TransientStorage(err)
	}
	env := &envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("redisqueue: decode job %s: %w", id, err)
	}
	return env, nil
}

func (q *Queue) key(name string) string {
	return q.opts.Prefix + ":" + name
}

func (q *Queue) jobKey(id string) string {
	return q.opts.Prefix + ":job:" + id
}

func (q *Queue) now() time.Time {
	if q.opts.Now != nil {
		return q.opts.Now()
	}
	return time.Now()
}

type delivery struct {
	queue *Queue
	env   *envelope
}

func (d *delivery) Message() *core.JobExecutionMessage {
	return d.env.Message
}

func (d *delivery) Attempt() int {
	return d.env.Attempts
}

func (d *delivery) Ack(ctx context.Context) error {
	q := d.queue
	held, err := q.release(ctx, d.env)
	if err != nil || !held {
		return err
	}
	if err := q.client.Del(ctx, q.jobKey(d.env.ID)).Err(); err != nil {
		return core.TransientStorage(err)
	}
	return nil
}

func (d *delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	q := d.queue
	held, err := q.release(ctx, d.env)
	if err != nil {
		return err
	}
	// The lease ran out and the job now belongs to another worker.
	if !held {
		return nil
	}
	switch {
	case opts.DeadLetter:
		err = q.client.RPush(ctx, q.key("dead"), d.env.ID).Err()
	case opts.Requeue && opts.Delay > 0:
		err = q.client.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(q.now().Add(opts.Delay).UnixMilli()),
			Member: d.env.ID,
		}).Err()
	case opts.Requeue:
		err = q.client.RPush(ctx, q.key("pending"), d.env.ID).Err()
	default:
		err = q.client.Del(ctx, q.jobKey(d.env.ID)).Err()
	}
	if err != nil {
		return core.TransientStorage(err)
	}
	return nil
}

var _ core.JobQueue = (*Queue)(nil)
