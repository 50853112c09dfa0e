// Package queue 提供"执行该任务"工作项的at-least-once投递。
// 投递语义是至少一次而非至多一次——消费端（Orchestrator）必须可重入、
// 可从持久化状态恢复。
package queue

import "context"

// TaskJob 任务执行工作项（enqueue入口的载荷）
type TaskJob struct {
	TaskID      string `json:"task_id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
}

// ApprovalJob 审批决议后的恢复工作项
type ApprovalJob struct {
	ApprovalRequestID string `json:"approval_request_id"`
	WorkspaceID       string `json:"workspace_id"`
}

// Delivery 单次投递的元信息；Attempt从1起，重投递时递增
type Delivery struct {
	Attempt    int
	MaxDeliver int
}

// Final 是否最后一次投递（失败后不会再重试）
func (d Delivery) Final() bool {
	return d.Attempt >= d.MaxDeliver
}

type TaskHandler func(ctx context.Context, job TaskJob, d Delivery) error

type ApprovalHandler func(ctx context.Context, job ApprovalJob, d Delivery) error

// Queue 队列契约。Enqueue*为fire-and-forget，返回job标识；
// Consume*注册消费者后立即返回，消费在后台进行。
// handler返回error触发指数退避重投递，直到投递次数达到上限
type Queue interface {
	EnqueueTask(ctx context.Context, job TaskJob) (string, error)
	EnqueueApproval(ctx context.Context, job ApprovalJob) (string, error)
	ConsumeTasks(h TaskHandler) error
	ConsumeApprovals(h ApprovalHandler) error
	Close()
}
