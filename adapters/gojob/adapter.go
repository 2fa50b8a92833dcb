// Package gojob connects the webhook worker to go-job queues.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/inbound"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDGatewayWebhook  = inbound.JobIDPrefix + core.ProviderGateway
	JobIDIdentityWebhook = inbound.JobIDPrefix + core.ProviderIdentity
)

// RetryPolicy caps redelivery on the go-job side. The delivery ledger keeps
// its own attempt count; this bound only stops a queue from looping.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func toNackOptions(opts core.JobNackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

// Queue exposes a go-job enqueuer and dequeuer as a core.JobQueue.
type Queue struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy RetryPolicy) *Queue {
	return &Queue{enqueuer: enqueuer, dequeuer: dequeuer, policy: policy}
}

func (q *Queue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return q.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

func (q *Queue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := q.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &Delivery{delivery: delivery, policy: q.policy}, nil
}

type Delivery struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func (d *Delivery) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

// Attempt forwards the backend's delivery count when it reports one.
func (d *Delivery) Attempt() int {
	if d == nil || d.delivery == nil {
		return 0
	}
	if counted, ok := d.delivery.(interface{ Attempt() int }); ok {
		return counted.Attempt()
	}
	return 0
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Nack(ctx, toNackOptions(d.policy.NormalizeAttempt(opts, d.Attempt())))
}

// Hook lets a core worker hook observe go-job worker events.
type Hook struct {
	hook core.JobWorkerHook
}

func NewHook(hook core.JobWorkerHook) *Hook {
	return &Hook{hook: hook}
}

func (a *Hook) OnStart(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnStart(ctx, workerEvent(event))
	}
}

func (a *Hook) OnSuccess(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnSuccess(ctx, workerEvent(event))
	}
}

func (a *Hook) OnFailure(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnFailure(ctx, workerEvent(event))
	}
}

func (a *Hook) OnRetry(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnRetry(ctx, workerEvent(event))
	}
}

// LoggingHook reports worker outcomes through a core logger.
type LoggingHook struct {
	Logger core.Logger
}

func (h LoggingHook) OnStart(context.Context, core.JobWorkerEvent) {}

func (h LoggingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	if h.Logger != nil {
		h.Logger.Debug("webhook job done", "job_id", messageJobID(event.Message), "duration", event.Duration)
	}
}

func (h LoggingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	if h.Logger != nil {
		h.Logger.Error("webhook job dead lettered", "job_id", messageJobID(event.Message), "attempt", event.Attempt, "error", event.Err)
	}
}

func (h LoggingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	if h.Logger != nil {
		h.Logger.Warn("webhook job retry", "job_id", messageJobID(event.Message), "attempt", event.Attempt, "delay", event.Delay)
	}
}

func workerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func messageJobID(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobQueue      = (*Queue)(nil)
	_ core.JobDelivery   = (*Delivery)(nil)
	_ worker.Hook        = (*Hook)(nil)
	_ core.JobWorkerHook = LoggingHook{}
)
