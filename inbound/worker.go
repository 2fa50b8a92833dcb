package inbound

import (
	"context"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/webhooks"
)

const defaultDequeueErrorWait = 500 * time.Millisecond

// Worker drains accepted deliveries. A failed handler run is nacked for
// redelivery with a backoff delay until the ledger reports the delivery dead.
type Worker struct {
	Router  *Router
	Queue   core.JobDequeuer
	Backoff core.BackoffScheduler
	Logger  core.Logger
	Hooks   []core.JobWorkerHook
	Now     func() time.Time
}

func NewWorker(router *Router, queue core.JobDequeuer, logger core.Logger, hooks ...core.JobWorkerHook) *Worker {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Worker{
		Router:  router,
		Queue:   queue,
		Backoff: core.ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute},
		Logger:  logger,
		Hooks:   hooks,
	}
}

// Process handles one delivery and settles it on the queue.
func (w *Worker) Process(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	attempt := deliveryAttempt(delivery)
	startedAt := w.now()
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.fire(ctx, event, core.JobWorkerHook.OnStart)

	req, err := DecodeJob(msg)
	if err != nil {
		w.Logger.Error("webhook job undecodable", "job_id", jobID(msg), "error", err)
		return w.deadLetter(ctx, delivery, event, err)
	}
	route, ok := w.Router.Lookup(req.ProviderID)
	if !ok {
		err := inboundBadInput("inbound: no route registered for provider", map[string]any{"provider_id": req.ProviderID})
		w.Logger.Error("webhook job has no route", "provider_id", req.ProviderID)
		return w.deadLetter(ctx, delivery, event, err)
	}

	result, err := route.Processor.Process(webhooks.WithAcceptedDelivery(ctx), req)
	event.Duration = w.now().Sub(startedAt)
	if err == nil {
		event.Err = nil
		w.fire(ctx, event, core.JobWorkerHook.OnSuccess)
		w.Logger.Debug("webhook processed",
			"provider_id", req.ProviderID,
			"event_type", req.Metadata["event_type"],
			"deduped", result.Metadata["deduped"] == true,
		)
		return delivery.Ack(ctx)
	}

	event.Err = err
	if permanentFailure(result, err) {
		w.Logger.Error("webhook delivery dead",
			"provider_id", req.ProviderID,
			"event_type", req.Metadata["event_type"],
			"attempts", result.Metadata["attempts"],
			"error", err,
		)
		return w.deadLetter(ctx, delivery, event, err)
	}

	if attempts, ok := result.Metadata["attempts"].(int); ok && attempts > 0 {
		attempt = attempts
	}
	event.Delay = w.backoff().NextDelay(attempt)
	w.Logger.Warn("webhook delivery failed, requeueing",
		"provider_id", req.ProviderID,
		"event_type", req.Metadata["event_type"],
		"attempt", attempt,
		"delay", event.Delay,
		"error", err,
	)
	w.fire(ctx, event, core.JobWorkerHook.OnRetry)
	return delivery.Nack(ctx, core.JobNackOptions{
		Delay:   event.Delay,
		Requeue: true,
		Reason:  err.Error(),
	})
}

// Run processes deliveries until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.Queue == nil || w.Router == nil {
		return inboundInternal("inbound: worker requires a router and a queue", nil)
	}
	for {
		delivery, err := w.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrJobQueueClosed) {
				return nil
			}
			w.Logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(defaultDequeueErrorWait):
			}
			continue
		}
		if err := w.Process(ctx, delivery); err != nil {
			w.Logger.Error("settle delivery failed", "job_id", jobID(delivery.Message()), "error", err)
		}
	}
}

// RunWorkers starts n copies of w and blocks until all of them return.
func RunWorkers(ctx context.Context, w *Worker, n int) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				w.Logger.Error("worker stopped", "error", err)
			}
		}()
	}
	wg.Wait()
}

func (w *Worker) deadLetter(ctx context.Context, delivery core.JobDelivery, event core.JobWorkerEvent, cause error) error {
	event.Err = cause
	w.fire(ctx, event, core.JobWorkerHook.OnFailure)
	return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: cause.Error()})
}

func (w *Worker) fire(ctx context.Context, event core.JobWorkerEvent, fn func(core.JobWorkerHook, context.Context, core.JobWorkerEvent)) {
	for _, hook := range w.Hooks {
		if hook != nil {
			fn(hook, ctx, event)
		}
	}
}

func (w *Worker) backoff() core.BackoffScheduler {
	if w.Backoff != nil {
		return w.Backoff
	}
	return core.ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func permanentFailure(result core.InboundResult, err error) bool {
	if dead, _ := result.Metadata["dead"].(bool); dead {
		return true
	}
	if core.IsInvalidSignature(err) {
		return true
	}
	switch core.MapError(err).Category {
	case goerrors.CategoryBadInput, goerrors.CategoryConflict:
		return true
	}
	return false
}

func deliveryAttempt(delivery core.JobDelivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok {
		return counted.Attempt()
	}
	return 1
}

func jobID(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}
