package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultMemoryQueueCapacity = 1024

// ErrJobQueueClosed is returned by queues that no longer hand out work.
var ErrJobQueueClosed = errors.New("core: job queue is closed")

// MemoryJobQueue is an in-process queue. Nacked messages with Requeue are
// redelivered after their delay; dead lettered messages are kept for
// inspection.
type MemoryJobQueue struct {
	ch chan *memoryEnvelope

	mu         sync.Mutex
	closed     bool
	deadLetter []*JobExecutionMessage
	timers     sync.WaitGroup
}

type memoryEnvelope struct {
	msg      *JobExecutionMessage
	attempts int
}

func NewMemoryJobQueue(capacity int) *MemoryJobQueue {
	if capacity <= 0 {
		capacity = defaultMemoryQueueCapacity
	}
	return &MemoryJobQueue{ch: make(chan *memoryEnvelope, capacity)}
}

func (q *MemoryJobQueue) Enqueue(ctx context.Context, msg *JobExecutionMessage) error {
	if q == nil || q.ch == nil {
		return fmt.Errorf("core: memory job queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("core: job message is required")
	}
	return q.push(ctx, &memoryEnvelope{msg: cloneJobMessage(msg)})
}

func (q *MemoryJobQueue) Dequeue(ctx context.Context) (JobDelivery, error) {
	if q == nil || q.ch == nil {
		return nil, fmt.Errorf("core: memory job queue is not configured")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case envelope, ok := <-q.ch:
		if !ok {
			return nil, ErrJobQueueClosed
		}
		envelope.attempts++
		return &memoryDelivery{queue: q, envelope: envelope}, nil
	}
}

// Len returns the number of messages waiting to be dequeued.
func (q *MemoryJobQueue) Len() int {
	if q == nil || q.ch == nil {
		return 0
	}
	return len(q.ch)
}

func (q *MemoryJobQueue) DeadLetters() []*JobExecutionMessage {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*JobExecutionMessage(nil), q.deadLetter...)
}

// Close stops accepting messages once pending redeliveries have fired.
func (q *MemoryJobQueue) Close() {
	if q == nil {
		return
	}
	q.timers.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *MemoryJobQueue) push(ctx context.Context, envelope *memoryEnvelope) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrJobQueueClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.ch <- envelope:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryJobQueue) requeue(envelope *memoryEnvelope, delay time.Duration) error {
	if delay <= 0 {
		return q.push(context.Background(), envelope)
	}
	q.timers.Add(1)
	time.AfterFunc(delay, func() {
		defer q.timers.Done()
		_ = q.push(context.Background(), envelope)
	})
	return nil
}

type memoryDelivery struct {
	queue    *MemoryJobQueue
	envelope *memoryEnvelope
	once     sync.Once
}

func (d *memoryDelivery) Message() *JobExecutionMessage {
	if d == nil || d.envelope == nil {
		return nil
	}
	return d.envelope.msg
}

// Attempt reports how many times this message has been handed out.
func (d *memoryDelivery) Attempt() int {
	if d == nil || d.envelope == nil {
		return 0
	}
	return d.envelope.attempts
}

func (d *memoryDelivery) Ack(context.Context) error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	if d == nil || d.queue == nil {
		return nil
	}
	var err error
	d.once.Do(func() {
		switch {
		case opts.DeadLetter:
			d.queue.mu.Lock()
			d.queue.deadLetter = append(d.queue.deadLetter, d.envelope.msg)
			d.queue.mu.Unlock()
		case opts.Requeue:
			err = d.queue.requeue(d.envelope, opts.Delay)
		}
	})
	return err
}

func cloneJobMessage(msg *JobExecutionMessage) *JobExecutionMessage {
	if msg == nil {
		return nil
	}
	copied := *msg
	if msg.Parameters != nil {
		copied.Parameters = cloneFields(msg.Parameters)
	}
	return &copied
}
