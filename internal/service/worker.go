package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
	"github.com/Divi1545/authority13/internal/queue"

	"gorm.io/gorm"
)

// Worker 队列消费端：把工作项翻译成Orchestrator调用。
// 投递是at-least-once，这里的所有分支都必须能安全重入
type Worker struct {
	svc *ServiceContext
}

func NewWorker(svc *ServiceContext) *Worker {
	return &Worker{svc: svc}
}

// HandleTaskJob 处理"执行该任务"工作项。
// 重复投递：任务已终态则不做任何mutation；失败后的重投递换新Run；
// 活跃Run无待审批却没在跑（worker崩溃过）则从持久化状态恢复
func (w *Worker) HandleTaskJob(ctx context.Context, job queue.TaskJob, d queue.Delivery) error {
	log.Printf("处理任务 %s（第%d次投递）", job.TaskID, d.Attempt)

	var task model.Task
	if err := db.DB.WithContext(ctx).First(&task, "id = ?", job.TaskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("任务 %s 不存在，丢弃", job.TaskID)
			return nil
		}
		return w.finalize(ctx, job, d, fmt.Errorf("查询任务失败: %w", err))
	}

	switch task.Status {
	case model.TaskStatusCompleted:
		// 重复投递，任务已完成
		return nil
	case model.TaskStatusFailed:
		if d.Attempt <= 1 {
			// 重复投递，任务已失败
			return nil
		}
		// 队列重试：换新Run再试
		return w.finalize(ctx, job, d, w.startFreshRun(ctx, &task, job))
	case model.TaskStatusNeedsApproval:
		// 挂起等人工决议，恢复走审批队列
		return nil
	case model.TaskStatusPlanning, model.TaskStatusExecuting:
		return w.finalize(ctx, job, d, w.recoverLiveRun(ctx, &task, job, d))
	default: // pending
		return w.finalize(ctx, job, d, w.startFreshRun(ctx, &task, job))
	}
}

// startFreshRun 原worker入口语义：planning -> 建Run -> 执行
func (w *Worker) startFreshRun(ctx context.Context, task *model.Task, job queue.TaskJob) error {
	if err := db.DB.WithContext(ctx).Model(task).
		Update("status", model.TaskStatusPlanning).Error; err != nil {
		return fmt.Errorf("更新任务状态失败: %w", err)
	}

	run := &model.Run{TaskID: task.ID}
	if err := db.DB.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("创建Run失败: %w", err)
	}
	if err := db.DB.WithContext(ctx).Model(task).
		Update("active_run_id", run.ID).Error; err != nil {
		return fmt.Errorf("更新active_run失败: %w", err)
	}

	_ = w.svc.Bus.Publish(bus.RunChannel(run.ID), bus.NewEvent(bus.EventRunStarted, map[string]any{
		"run_id":  run.ID,
		"task_id": task.ID,
	}))
	_ = RecordAudit(ctx, job.WorkspaceID, model.AuditRunStarted, map[string]any{
		"run_id":  run.ID,
		"task_id": task.ID,
	}, job.UserID, "")

	rt := w.svc.NewRuntime(RuntimeConfig{
		WorkspaceID: job.WorkspaceID,
		TaskID:      task.ID,
		RunID:       run.ID,
		UserID:      job.UserID,
	})
	return rt.Execute(ctx, task.Objective)
}

// recoverLiveRun 任务卡在planning/executing：多半是worker执行中崩溃。
// 有活跃Run且未挂起则从已落盘的步骤恢复；没有活跃Run则从头再来
func (w *Worker) recoverLiveRun(ctx context.Context, task *model.Task, job queue.TaskJob, d queue.Delivery) error {
	if task.ActiveRunID == "" {
		return w.startFreshRun(ctx, task, job)
	}

	var run model.Run
	if err := db.DB.WithContext(ctx).First(&run, "id = ?", task.ActiveRunID).Error; err != nil {
		return fmt.Errorf("查询活跃Run失败: %w", err)
	}
	if run.IsTerminal() {
		// Run已结束但task状态滞后，对齐后不再mutation
		status := model.TaskStatusCompleted
		if run.Status == model.RunStatusFailed {
			status = model.TaskStatusFailed
		}
		db.DB.WithContext(ctx).Model(task).Update("status", status)
		return nil
	}

	var pending int64
	if err := db.DB.WithContext(ctx).Model(&model.ApprovalRequest{}).
		Where("run_id = ? AND status = ?", run.ID, model.ApprovalStatusPending).
		Count(&pending).Error; err != nil {
		return fmt.Errorf("查询审批请求失败: %w", err)
	}
	if pending > 0 {
		// 实际在挂起，task状态对齐
		db.DB.WithContext(ctx).Model(task).Update("status", model.TaskStatusNeedsApproval)
		return nil
	}

	// 计划还没落盘就崩了：这个Run救不回来，标记失败，重投递会换新Run
	var planCount int64
	if err := db.DB.WithContext(ctx).Model(&model.TaskPlan{}).
		Where("task_id = ?", task.ID).
		Count(&planCount).Error; err != nil {
		return fmt.Errorf("查询计划失败: %w", err)
	}
	rt := w.svc.NewRuntime(RuntimeConfig{
		WorkspaceID: job.WorkspaceID,
		TaskID:      task.ID,
		RunID:       run.ID,
		UserID:      job.UserID,
	})
	if planCount == 0 {
		return rt.Execute(ctx, task.Objective)
	}
	return rt.ResumeFromPersistedState(ctx)
}

// finalize 最后一次投递仍失败时，绝不把任务留在中间态：
// 标记失败并写审计，然后把错误returned给队列做记录
func (w *Worker) finalize(ctx context.Context, job queue.TaskJob, d queue.Delivery, err error) error {
	if err == nil || !d.Final() {
		return err
	}

	res := db.DB.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status NOT IN ?", job.TaskID,
			[]string{model.TaskStatusCompleted, model.TaskStatusFailed}).
		Update("status", model.TaskStatusFailed)
	if res.RowsAffected > 0 {
		_ = RecordAudit(ctx, job.WorkspaceID, model.AuditRunFailed, map[string]any{
			"task_id": job.TaskID,
			"error":   fmt.Sprintf("重试耗尽: %v", err),
		}, "", "")
	}
	return err
}

// HandleApprovalJob 处理审批决议后的恢复工作项
func (w *Worker) HandleApprovalJob(ctx context.Context, job queue.ApprovalJob, d queue.Delivery) error {
	log.Printf("处理审批决议 %s（第%d次投递）", job.ApprovalRequestID, d.Attempt)

	var approval model.ApprovalRequest
	if err := db.DB.WithContext(ctx).First(&approval, "id = ?", job.ApprovalRequestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("审批请求 %s 不存在，丢弃", job.ApprovalRequestID)
			return nil
		}
		return fmt.Errorf("查询审批请求失败: %w", err)
	}
	if approval.Status == model.ApprovalStatusPending {
		// 决议先落盘再入队；读到pending说明复制延迟，退避后重试
		return fmt.Errorf("审批 %s 尚未决议", approval.ID)
	}

	var run model.Run
	if err := db.DB.WithContext(ctx).First(&run, "id = ?", approval.RunID).Error; err != nil {
		return fmt.Errorf("查询Run失败: %w", err)
	}
	if run.IsTerminal() {
		// 决议已生效过（重复投递），no-op
		return nil
	}

	rt := w.svc.NewRuntime(RuntimeConfig{
		WorkspaceID: approval.WorkspaceID,
		TaskID:      approval.TaskID,
		RunID:       approval.RunID,
		UserID:      approval.DecidedByUserID,
	})
	if approval.Status == model.ApprovalStatusApproved {
		return rt.ResumeAfterApproval(ctx, &approval)
	}
	rt.FailAfterRejection(ctx, &approval)
	return nil
}

// Start 注册两类消费者；阻塞交给调用方（cmd/worker等信号）
func (w *Worker) Start() error {
	if err := w.svc.Queue.ConsumeTasks(w.HandleTaskJob); err != nil {
		return err
	}
	return w.svc.Queue.ConsumeApprovals(w.HandleApprovalJob)
}
