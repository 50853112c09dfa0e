package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	taskStream      = "TASKS"
	taskSubject     = "jobs.tasks"
	approvalStream  = "APPROVALS"
	approvalSubject = "jobs.approvals"
)

// NATSQueue 基于JetStream work-queue stream的实现：
// 显式ack、MaxDeliver上限、指数退避重投递，多worker进程共享消费
type NATSQueue struct {
	nc *nats.Conn
	js nats.JetStreamContext

	taskMax     int
	approvalMax int
	backoffBase time.Duration

	subs []*nats.Subscription
}

func NewNATSQueue(url string, taskMaxDeliver, approvalMaxDeliver int, backoffBase time.Duration) (*NATSQueue, error) {
	nc, err := nats.Connect(url,
		nats.Name("authority13-queue"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("初始化JetStream失败: %w", err)
	}

	q := &NATSQueue{
		nc:          nc,
		js:          js,
		taskMax:     taskMaxDeliver,
		approvalMax: approvalMaxDeliver,
		backoffBase: backoffBase,
	}
	if err := q.ensureStream(taskStream, taskSubject); err != nil {
		nc.Close()
		return nil, err
	}
	if err := q.ensureStream(approvalStream, approvalSubject); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *NATSQueue) ensureStream(name, subject string) error {
	_, err := q.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("查询stream %s 失败: %w", name, err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("创建stream %s 失败: %w", name, err)
	}
	return nil
}

func (q *NATSQueue) EnqueueTask(ctx context.Context, job TaskJob) (string, error) {
	return q.publish(ctx, taskSubject, job)
}

func (q *NATSQueue) EnqueueApproval(ctx context.Context, job ApprovalJob) (string, error) {
	return q.publish(ctx, approvalSubject, job)
}

func (q *NATSQueue) publish(ctx context.Context, subject string, job any) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("序列化job失败: %w", err)
	}
	ack, err := q.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("入队失败: %w", err)
	}
	return fmt.Sprintf("%s-%d", ack.Stream, ack.Sequence), nil
}

func (q *NATSQueue) ConsumeTasks(h TaskHandler) error {
	return q.consume(taskSubject, "task-workers", q.taskMax, func(ctx context.Context, data []byte, d Delivery) error {
		var job TaskJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("解析TaskJob失败: %w", err)
		}
		return h(ctx, job, d)
	})
}

func (q *NATSQueue) ConsumeApprovals(h ApprovalHandler) error {
	return q.consume(approvalSubject, "approval-workers", q.approvalMax, func(ctx context.Context, data []byte, d Delivery) error {
		var job ApprovalJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("解析ApprovalJob失败: %w", err)
		}
		return h(ctx, job, d)
	})
}

func (q *NATSQueue) consume(subject, durable string, maxDeliver int, h func(ctx context.Context, data []byte, d Delivery) error) error {
	sub, err := q.js.QueueSubscribe(subject, durable, func(msg *nats.Msg) {
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		d := Delivery{Attempt: attempt, MaxDeliver: maxDeliver}

		if err := h(context.Background(), msg.Data, d); err != nil {
			if d.Final() {
				// 重试耗尽；终态标记由消费端在Final投递时完成
				log.Printf("%s 重试耗尽（%d次投递）: %v", subject, attempt, err)
				_ = msg.Term()
				return
			}
			delay := q.backoff(attempt)
			log.Printf("%s 第%d次投递失败，%s后重试: %v", subject, attempt, delay, err)
			_ = msg.NakWithDelay(delay)
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(maxDeliver),
		nats.AckWait(5*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("订阅%s失败: %w", subject, err)
	}
	q.subs = append(q.subs, sub)
	return nil
}

func (q *NATSQueue) backoff(attempt int) time.Duration {
	return q.backoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
}

func (q *NATSQueue) Close() {
	for _, sub := range q.subs {
		_ = sub.Drain()
	}
	q.nc.Drain()
}
