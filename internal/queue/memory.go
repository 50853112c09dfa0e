package queue

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEnvelope struct {
	id      string
	task    *TaskJob
	approve *ApprovalJob
	attempt int
}

// MemoryQueue 进程内队列实现：带重试/退避的goroutine池。
// 本地开发与单测默认使用；语义与JetStream实现保持一致
type MemoryQueue struct {
	taskMax     int
	approvalMax int
	backoffBase time.Duration
	concurrency int

	ch       chan memoryEnvelope
	tasks    TaskHandler
	approves ApprovalHandler

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	done    chan struct{}
}

func NewMemoryQueue(taskMaxDeliver, approvalMaxDeliver int, backoffBase time.Duration, concurrency int) *MemoryQueue {
	return &MemoryQueue{
		taskMax:     taskMaxDeliver,
		approvalMax: approvalMaxDeliver,
		backoffBase: backoffBase,
		concurrency: concurrency,
		ch:          make(chan memoryEnvelope, 256),
		done:        make(chan struct{}),
	}
}

func (q *MemoryQueue) EnqueueTask(ctx context.Context, job TaskJob) (string, error) {
	env := memoryEnvelope{id: uuid.NewString(), task: &job, attempt: 1}
	q.dispatch(env, 0)
	return env.id, nil
}

func (q *MemoryQueue) EnqueueApproval(ctx context.Context, job ApprovalJob) (string, error) {
	env := memoryEnvelope{id: uuid.NewString(), approve: &job, attempt: 1}
	q.dispatch(env, 0)
	return env.id, nil
}

func (q *MemoryQueue) ConsumeTasks(h TaskHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = h
	q.startLocked()
	return nil
}

func (q *MemoryQueue) ConsumeApprovals(h ApprovalHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.approves = h
	q.startLocked()
	return nil
}

func (q *MemoryQueue) startLocked() {
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop()
	}
}

func (q *MemoryQueue) workerLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case env := <-q.ch:
			q.process(env)
		}
	}
}

func (q *MemoryQueue) process(env memoryEnvelope) {
	ctx := context.Background()
	var err error
	var max int

	switch {
	case env.task != nil:
		max = q.taskMax
		q.mu.Lock()
		h := q.tasks
		q.mu.Unlock()
		if h == nil {
			return
		}
		err = h(ctx, *env.task, Delivery{Attempt: env.attempt, MaxDeliver: max})
	case env.approve != nil:
		max = q.approvalMax
		q.mu.Lock()
		h := q.approves
		q.mu.Unlock()
		if h == nil {
			return
		}
		err = h(ctx, *env.approve, Delivery{Attempt: env.attempt, MaxDeliver: max})
	default:
		return
	}

	if err == nil {
		return
	}
	if env.attempt >= max {
		// 重试耗尽；终态标记由消费端在Final投递时完成
		log.Printf("job %s 重试耗尽（%d次投递）: %v", env.id, env.attempt, err)
		return
	}

	delay := q.backoff(env.attempt)
	log.Printf("job %s 第%d次投递失败，%s后重试: %v", env.id, env.attempt, delay, err)
	env.attempt++
	q.dispatch(env, delay)
}

// backoff 指数退避：base * 2^(attempt-1)
func (q *MemoryQueue) backoff(attempt int) time.Duration {
	return q.backoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
}

func (q *MemoryQueue) dispatch(env memoryEnvelope, delay time.Duration) {
	deliver := func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ch <- env:
		case <-q.done:
		}
	}
	if delay <= 0 {
		go deliver()
		return
	}
	time.AfterFunc(delay, deliver)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	q.wg.Wait()
}
