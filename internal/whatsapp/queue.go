package whatsapp

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/pkg/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transport is what the send queue needs from the lifecycle controller.
type Transport interface {
	Snapshot() State
	Send(ctx context.Context, to Recipient, text string) (string, error)
}

// Outcome describes a completed send.
type Outcome struct {
	MessageID string        `json:"message_id"`
	Target    Recipient     `json:"target"`
	SentAt    time.Time     `json:"sent_at"`
	Waited    time.Duration `json:"waited"`
}

// QueueStats counters of the send queue.
type QueueStats struct {
	Depth    int    `json:"depth"`
	Enqueued uint64 `json:"enqueued"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
}

type sendResult struct {
	outcome Outcome
	err     error
}

// task states
const (
	taskPending int32 = iota
	taskStarted
	taskAbandoned
)

type sendTask struct {
	ctx        context.Context
	target     Recipient
	payload    string
	enqueuedAt time.Time
	state      atomic.Int32
	result     chan sendResult
}

// claim marks the task started unless its caller has already given up.
func (t *sendTask) claim() bool {
	return t.state.CompareAndSwap(taskPending, taskStarted)
}

// abandon marks a task that has not started yet as skipped.
func (t *sendTask) abandon() bool {
	return t.state.CompareAndSwap(taskPending, taskAbandoned)
}

func (t *sendTask) finish(o Outcome, err error) {
	t.result <- sendResult{outcome: o, err: err}
}

// SendQueue serializes outbound sends: strict FIFO, one task in flight and at
// most one task start per interval.
type SendQueue struct {
	transport Transport
	limiter   *rate.Limiter
	timeout   time.Duration
	bus       EventBus.Bus

	mu      sync.Mutex
	pending *list.List
	closed  bool
	wakeup  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	enqueued atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
}

// NewSendQueue creates the queue and starts its worker.
func NewSendQueue(transport Transport, interval, timeout time.Duration, bus EventBus.Bus) *SendQueue {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &SendQueue{
		transport: transport,
		limiter:   rate.NewLimiter(limit, 1),
		timeout:   timeout,
		bus:       bus,
		pending:   list.New(),
		wakeup:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go q.worker()
	return q
}

// Enqueue appends a send task and waits until it completes. When ctx ends
// before the task has started the task is skipped and ctx.Err() returned; once
// started the call waits for the real outcome.
func (q *SendQueue) Enqueue(ctx context.Context, target Recipient, payload string) (Outcome, error) {
	if target == "" || payload == "" {
		return Outcome{}, domain.ErrInvalidRequest
	}
	task := &sendTask{
		ctx:        ctx,
		target:     target,
		payload:    payload,
		enqueuedAt: time.Now(),
		result:     make(chan sendResult, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Outcome{}, domain.ErrQueueClosed
	}
	q.pending.PushBack(task)
	q.mu.Unlock()
	q.enqueued.Add(1)
	q.signal()

	select {
	case r := <-task.result:
		return r.outcome, r.err
	case <-ctx.Done():
		if task.abandon() {
			return Outcome{}, ctx.Err()
		}
		r := <-task.result
		return r.outcome, r.err
	}
}

// Depth is the number of tasks not yet started.
func (q *SendQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *SendQueue) Stats() QueueStats {
	return QueueStats{
		Depth:    q.Depth(),
		Enqueued: q.enqueued.Load(),
		Sent:     q.sent.Load(),
		Failed:   q.failed.Load(),
	}
}

// Close stops admitting tasks, fails pending ones with ErrQueueClosed and
// waits for the in-flight task to finish.
func (q *SendQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	var dropped []*sendTask
	for e := q.pending.Front(); e != nil; e = e.Next() {
		dropped = append(dropped, e.Value.(*sendTask))
	}
	q.pending.Init()
	q.mu.Unlock()

	for _, t := range dropped {
		q.failed.Add(1)
		t.finish(Outcome{Target: t.target}, domain.ErrQueueClosed)
	}
	q.cancel()
	q.signal()
	<-q.done
	zap.L().Info("whatsapp: send queue closed", zap.Int("dropped", len(dropped)))
}

func (q *SendQueue) signal() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// next blocks until a task is available. It returns nil once the queue is
// closed and drained.
func (q *SendQueue) next() *sendTask {
	for {
		q.mu.Lock()
		if e := q.pending.Front(); e != nil {
			q.pending.Remove(e)
			q.mu.Unlock()
			return e.Value.(*sendTask)
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil
		}
		<-q.wakeup
	}
}

func (q *SendQueue) worker() {
	defer close(q.done)
	for {
		task := q.next()
		if task == nil {
			return
		}
		if task.state.Load() == taskAbandoned {
			continue
		}
		if err := q.limiter.Wait(q.ctx); err != nil {
			q.failed.Add(1)
			task.finish(Outcome{Target: task.target}, domain.ErrQueueClosed)
			continue
		}
		// the caller may have given up while waiting for the limiter
		if !task.claim() {
			continue
		}
		q.run(task)
	}
}

func (q *SendQueue) run(task *sendTask) {
	outcome := Outcome{Target: task.target, Waited: time.Since(task.enqueuedAt)}

	snap := q.transport.Snapshot()
	switch snap.Status {
	case StatusConnected:
	case StatusLoggedOut:
		q.fail(task, outcome, domain.ErrTerminalLogout)
		return
	default:
		q.fail(task, outcome, domain.ErrNotConnected)
		return
	}

	// The caller may have gone away; a started send still runs to completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(task.ctx), q.timeout)
	defer cancel()

	id, err := q.transport.Send(ctx, task.target, task.payload)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrTerminalLogout):
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: send timed out after %s", domain.ErrTransportFailure, q.timeout)
		default:
			err = fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
		}
		q.fail(task, outcome, err)
		return
	}

	outcome.MessageID = id
	outcome.SentAt = time.Now()
	q.sent.Add(1)
	zap.L().Info("whatsapp: message sent",
		zap.String("to", task.target.String()),
		zap.String("message_id", id),
		zap.Duration("waited", outcome.Waited))
	publish(q.bus, TopicActivity, Activity{
		Time:    outcome.SentAt,
		Type:    ActivityOutgoing,
		Peer:    task.target.Phone(),
		Status:  "sent",
		Content: common.Truncate(task.payload, 120),
	})
	task.finish(outcome, nil)
}

func (q *SendQueue) fail(task *sendTask, outcome Outcome, err error) {
	q.failed.Add(1)
	zap.L().Warn("whatsapp: message send failed",
		zap.String("to", task.target.String()),
		zap.Error(err))
	publish(q.bus, TopicActivity, Activity{
		Time:    time.Now(),
		Type:    ActivityOutgoing,
		Peer:    task.target.Phone(),
		Status:  "failed",
		Content: err.Error(),
	})
	task.finish(outcome, err)
}
